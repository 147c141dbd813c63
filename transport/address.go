package transport

import (
	"net"
	"strings"

	"github.com/pkg/errors"
)

const (
	schemeTCP = "tcp://"
	schemeIPC = "ipc://"
)

// ParseAddress turns a connection string into a network and address for package net.
//
//	tcp://127.0.0.1:5555  → tcp, 127.0.0.1:5555
//	tcp://*:5555          → tcp, :5555
//	ipc:///tmp/crm.sock   → unix, /tmp/crm.sock
//	localhost:5555        → tcp, localhost:5555
func ParseAddress(address string) (network, addr string, err error) {
	switch {
	case strings.HasPrefix(address, schemeTCP):
		addr = strings.TrimPrefix(address, schemeTCP)
		if strings.HasPrefix(addr, "*:") {
			addr = addr[1:]
		}
		network = "tcp"
	case strings.HasPrefix(address, schemeIPC):
		addr = strings.TrimPrefix(address, schemeIPC)
		network = "unix"
	case strings.Contains(address, "://"):
		return "", "", errors.Errorf("unsupported address scheme: %q", address)
	default:
		addr = address
		network = "tcp"
	}
	if addr == "" {
		return "", "", errors.Errorf("empty address: %q", address)
	}
	return network, addr, nil
}

// FormatAddress is the inverse of ParseAddress for a bound listener address.
func FormatAddress(addr net.Addr) string {
	switch addr.Network() {
	case "unix":
		return schemeIPC + addr.String()
	default:
		return schemeTCP + addr.String()
	}
}
