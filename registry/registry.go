// Package registry maps resource names to the addresses of servers exposing them.
//
// A server advertises itself when it starts and withdraws when its session terminates; clients
// resolve a resource name to an address before calling.
package registry

import "strings"

// KeyPrefix is the root of every registry key: /crm-rpc/{name}/{addr}.
const KeyPrefix = "/crm-rpc/"

type ServiceInstance struct {
	Addr      string
	Weight    int // Weight for load balancing
	Version   string
	SessionID string // Identifies one server session; changes on every restart
}

type Registry interface {
	Register(name string, instance ServiceInstance, ttl int64) error
	Deregister(name string, addr string) error
	Discover(name string) ([]ServiceInstance, error)
	Watch(name string) <-chan []ServiceInstance
	Close() error
}

func serviceKey(name, addr string) string {
	return servicePrefix(name) + addr
}

func servicePrefix(name string) string {
	return KeyPrefix + strings.Trim(name, "/") + "/"
}
