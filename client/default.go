package client

import (
	"context"
	"os"
	"sync"
	"time"
)

var (
	defaultOnce   sync.Once
	defaultClient *Client
)

// Default returns the process-wide client used by the package-level helpers. It logs nothing.
func Default() *Client {
	defaultOnce.Do(func() {
		defaultClient = NewClient()
	})
	return defaultClient
}

// Ping probes address with the default client.
func Ping(address string, timeout time.Duration) bool {
	return Default().Ping(context.Background(), address, timeout)
}

// Call invokes method at address with the default client.
func Call(address, method string, args []byte, timeout time.Duration) ([]byte, error) {
	return Default().Call(context.Background(), address, method, args, timeout)
}

// Shutdown stops the server at address with the default client, killing proc as a fallback.
func Shutdown(address string, timeout time.Duration, proc *os.Process) bool {
	return Default().Shutdown(context.Background(), address, timeout, proc)
}
