// Package transport also provides ConnPool, which keeps idle ReqConns to one address for reuse.
//
// A ReqConn carries one request at a time, so connections are borrowed exclusively and returned
// afterwards. The pool is a buffered channel used as a FIFO queue; broken connections are closed
// on return instead of going back in.
package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var ErrPoolClosed = errors.New("connection pool closed")

// ConnPool manages reusable connections to a single address.
type ConnPool struct {
	mu       sync.Mutex
	conns    chan *ReqConn
	addr     string
	maxConns int
	curConns int // open connections, idle or borrowed
	closed   bool
	factory  func(ctx context.Context) (*ReqConn, error)
}

// NewConnPool creates an empty pool that grows on demand up to maxConns.
// A nil factory dials addr.
func NewConnPool(addr string, maxConns int, factory func(ctx context.Context) (*ReqConn, error)) *ConnPool {
	if maxConns < 1 {
		maxConns = 1
	}
	if factory == nil {
		factory = func(ctx context.Context) (*ReqConn, error) {
			return Dial(ctx, addr)
		}
	}
	return &ConnPool{
		conns:    make(chan *ReqConn, maxConns),
		addr:     addr,
		maxConns: maxConns,
		factory:  factory,
	}
}

// Get borrows a connection:
//  1. an idle one if available and still alive
//  2. otherwise a new one if under the limit
//  3. otherwise wait for one to be returned, or for ctx to end
//
// Idle connections whose peer went away (a server that terminated, possibly replaced by a new
// one on the same address) are closed and replaced instead of being handed out.
func (p *ConnPool) Get(ctx context.Context) (*ReqConn, error) {
	for {
		conn, err := p.get(ctx)
		if err != nil {
			return nil, err
		}
		if conn == nil {
			return p.dial(ctx)
		}
		if conn.Alive() {
			return conn, nil
		}
		p.discard(conn)
	}
}

// get returns an idle connection, or nil when there is room to dial a new one.
func (p *ConnPool) get(ctx context.Context) (*ReqConn, error) {
	select {
	case conn, ok := <-p.conns:
		if !ok {
			return nil, ErrPoolClosed
		}
		return conn, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.curConns < p.maxConns {
		p.curConns++
		p.mu.Unlock()
		return nil, nil
	}
	p.mu.Unlock()

	select {
	case conn, ok := <-p.conns:
		if !ok {
			return nil, ErrPoolClosed
		}
		return conn, nil
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

// dial fills a slot reserved by get.
func (p *ConnPool) dial(ctx context.Context) (*ReqConn, error) {
	conn, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		return nil, err
	}
	return conn, nil
}

// discard closes a dead idle connection and frees its slot.
func (p *ConnPool) discard(conn *ReqConn) {
	_ = conn.Close()
	p.mu.Lock()
	p.curConns--
	p.mu.Unlock()
}

// Put returns a borrowed connection.
func (p *ConnPool) Put(conn *ReqConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || conn.Broken() {
		_ = conn.Close()
		p.curConns--
		return
	}
	p.conns <- conn
}

// Close closes idle connections. Borrowed ones are closed when they are returned.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.conns)
	for conn := range p.conns {
		_ = conn.Close()
		p.curConns--
	}
	return nil
}

// Addr returns the address the pool dials.
func (p *ConnPool) Addr() string {
	return p.addr
}
