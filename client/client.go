// Package client talks to servers: liveness probes, method calls and graceful shutdown.
//
// Network-level absence of a peer is never a panic or a hang. Ping and Shutdown report it through
// their boolean result; Call returns an error matching ErrNoResponse.
package client

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"crm-rpc/codec"
	"crm-rpc/loadbalance"
	"crm-rpc/logger"
	"crm-rpc/message"
	"crm-rpc/registry"
	"crm-rpc/transport"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrNoResponse is returned when no reply arrived: the peer is unreachable, did not answer
	// within the timeout, or closed the connection without answering.
	ErrNoResponse = errors.New("no response from server")
	ErrNoRegistry = errors.New("client has no registry")
	ErrClosed     = errors.New("client closed")
)

const defaultPoolSize = 4

type options struct {
	log      *zap.Logger
	poolSize int
	registry registry.Registry
	balancer loadbalance.Balancer
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithPoolSize bounds the idle connections kept per address for Call.
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// WithRegistry lets Resolve turn a resource name into an address. A nil balancer picks round-robin.
func WithRegistry(reg registry.Registry, bal loadbalance.Balancer) Option {
	return func(o *options) {
		o.registry = reg
		o.balancer = bal
	}
}

type Client struct {
	log      *zap.Logger
	codec    codec.Codec
	registry registry.Registry
	balancer loadbalance.Balancer
	poolSize int

	mu     sync.Mutex
	pools  map[string]*transport.ConnPool // connection pool per server address
	closed bool
}

func NewClient(opts ...Option) *Client {
	o := &options{poolSize: defaultPoolSize}
	for _, opt := range opts {
		opt(o)
	}
	if o.poolSize < 1 {
		o.poolSize = 1
	}
	if o.registry != nil && o.balancer == nil {
		o.balancer = &loadbalance.RoundRobinBalancer{}
	}
	return &Client{
		log:      logger.OrNop(o.log).Named("client"),
		codec:    codec.GetCodec(codec.CodecTypeBinary),
		registry: o.registry,
		balancer: o.balancer,
		poolSize: o.poolSize,
		pools:    make(map[string]*transport.ConnPool),
	}
}

// Ping sends the liveness probe on a short-lived connection and reports whether PONG came back
// within timeout. timeout <= 0 waits as long as ctx allows.
func (c *Client) Ping(ctx context.Context, address string, timeout time.Duration) bool {
	reply, err := c.roundTrip(ctx, address, timeout, message.Ping)
	if err != nil {
		c.log.Debug("ping failed", zap.String("address", address), zap.Error(err))
		return false
	}
	return message.IsPong(reply)
}

// Call invokes method on the resource at address and returns the raw reply payload.
// timeout <= 0 waits as long as ctx allows.
//
// A server treats a failing call as fatal and closes without replying, so a method error
// shows up here as ErrNoResponse.
func (c *Client) Call(ctx context.Context, address, method string, args []byte, timeout time.Duration) ([]byte, error) {
	frame, err := c.codec.Encode(&message.Call{Method: method, Args: args})
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	pool, err := c.pool(address)
	if err != nil {
		return nil, err
	}
	conn, err := pool.Get(ctx)
	if err != nil {
		return nil, noResponse(address, err)
	}
	reply, err := conn.Request(ctx, frame)
	pool.Put(conn)
	if err != nil {
		c.log.Warn("call got no response",
			zap.String("address", address),
			zap.String("method", method),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil, noResponse(address, err)
	}
	return reply, nil
}

// Shutdown asks the server at address to terminate and waits up to timeout for the
// acknowledgement. Without one, proc (if given) is killed and the result reports whether
// the kill succeeded.
func (c *Client) Shutdown(ctx context.Context, address string, timeout time.Duration, proc *os.Process) bool {
	reply, err := c.roundTrip(ctx, address, timeout, message.Shutdown)
	if err == nil && message.IsShutdownAck(reply) {
		c.log.Info("server acknowledged shutdown", zap.String("address", address))
		c.dropPool(address)
		return true
	}
	if err == nil {
		err = errors.Errorf("unexpected reply %q", reply)
	}
	c.log.Warn("shutdown not acknowledged", zap.String("address", address), zap.Error(err))
	c.dropPool(address)

	if proc == nil {
		return false
	}
	if killErr := proc.Kill(); killErr != nil {
		c.log.Error("failed to kill server process", zap.Int("pid", proc.Pid), zap.Error(killErr))
		return false
	}
	c.log.Warn("server process killed", zap.Int("pid", proc.Pid))
	return true
}

// Resolve picks the address of one server advertising name.
func (c *Client) Resolve(ctx context.Context, name string) (string, error) {
	if c.registry == nil {
		return "", ErrNoRegistry
	}
	if err := ctx.Err(); err != nil {
		return "", errors.WithStack(err)
	}
	instances, err := c.registry.Discover(name)
	if err != nil {
		return "", err
	}
	inst, err := c.balancer.Pick(instances)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s", name)
	}
	return inst.Addr, nil
}

// WaitReady pings address with exponential backoff until it answers or timeout passes.
func (c *Client) WaitReady(ctx context.Context, address string, timeout time.Duration) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	backoff := 10 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond
	for {
		if c.Ping(ctx, address, backoff*4) {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ErrNoResponse, "%s not ready after %s", address, timeout)
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Close closes every pooled connection. The client must not be used afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for addr, pool := range c.pools {
		_ = pool.Close()
		delete(c.pools, addr)
	}
	return nil
}

// roundTrip sends a control message on its own connection, so probes never queue behind
// pooled calls and a stale pooled connection cannot eat the answer.
func (c *Client) roundTrip(ctx context.Context, address string, timeout time.Duration, body []byte) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	conn, err := transport.Dial(ctx, address)
	if err != nil {
		return nil, noResponse(address, err)
	}
	defer conn.Close()

	reply, err := conn.Request(ctx, body)
	if err != nil {
		return nil, noResponse(address, err)
	}
	return reply, nil
}

func (c *Client) pool(address string) (*transport.ConnPool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	pool, ok := c.pools[address]
	if !ok {
		pool = transport.NewConnPool(address, c.poolSize, nil)
		c.pools[address] = pool
	}
	return pool, nil
}

// dropPool forgets the connections to a server that is going away.
func (c *Client) dropPool(address string) {
	c.mu.Lock()
	pool, ok := c.pools[address]
	delete(c.pools, address)
	c.mu.Unlock()
	if ok {
		_ = pool.Close()
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func noResponse(address string, err error) error {
	return fmt.Errorf("%w from %s: %w", ErrNoResponse, address, err)
}
