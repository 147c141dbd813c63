// Package transport implements a request-reply socket pair on top of package net.
//
// RepSocket is the replying side. It accepts any number of peers and fair-queues their requests
// into a single Recv stream. Each peer is held to the reply-socket discipline: its next request
// is only read once the previous one has been replied to.
//
//	peer-1 ──req──┐
//	peer-2 ──req──┼──→ inbox ──→ Recv ──→ worker ──→ Request.Reply ──→ back to the same peer
//	peer-3 ──req──┘
//
// ReqConn is the requesting side: one outstanding request per connection, strict alternation.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"crm-rpc/protocol"

	"github.com/pkg/errors"
)

// RepSocket is a bound replying socket.
type RepSocket struct {
	listener net.Listener
	maxBody  uint64
	inbox    chan *Request // unbuffered: blocked senders are served in arrival order

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup // accept loop + one reader per peer
}

// ListenOption configures a RepSocket.
type ListenOption func(*RepSocket)

// WithMaxBodySize bounds the size of a single incoming request.
func WithMaxBodySize(n uint64) ListenOption {
	return func(s *RepSocket) { s.maxBody = n }
}

// Listen binds address right away, so an unavailable address is reported here and not later.
func Listen(address string, opts ...ListenOption) (*RepSocket, error) {
	network, addr, err := ParseAddress(address)
	if err != nil {
		return nil, errors.WithStack(fmt.Errorf("%w %s: %w", ErrBind, address, err))
	}
	listener, err := net.Listen(network, addr)
	if err != nil {
		return nil, errors.WithStack(fmt.Errorf("%w %s: %w", ErrBind, address, err))
	}

	s := &RepSocket{
		listener: listener,
		maxBody:  protocol.DefaultMaxBodySize,
		inbox:    make(chan *Request),
		closed:   make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the bound address as a connection string, with the real port when ":0" was used.
func (s *RepSocket) Addr() string {
	return FormatAddress(s.listener.Addr())
}

// Recv waits for the next request from any peer.
// A timeout <= 0 waits forever. ErrTimeout is returned when the wait expires and ErrClosed when
// the socket is closed or ctx is done.
func (s *RepSocket) Recv(ctx context.Context, timeout time.Duration) (*Request, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case req := <-s.inbox:
		return req, nil
	case <-expired:
		return nil, ErrTimeout
	case <-s.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, errors.Wrap(ErrClosed, ctx.Err().Error())
	}
}

// Close stops accepting peers, drops every connection and waits for the readers to exit.
// Requests that were received but not replied to are abandoned; their peers see the connection close.
func (s *RepSocket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.listener.Close()

		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
	return errors.WithStack(s.closeErr)
}

func (s *RepSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *RepSocket) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Listener closed, nothing more to accept
			return
		}

		s.mu.Lock()
		if s.isClosed() {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *RepSocket) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.dropConn(conn)

	for {
		header, body, err := protocol.DecodeLimit(conn, s.maxBody)
		if err != nil {
			return // peer gone or not speaking the protocol
		}
		if header.MsgType != protocol.MsgTypeRequest {
			return
		}

		req := &Request{
			Body: body,
			seq:  header.Seq,
			conn: conn,
			done: make(chan struct{}),
		}
		select {
		case s.inbox <- req:
		case <-s.closed:
			return
		}

		// Reply-socket discipline: nothing more is read from this peer until it got its reply.
		select {
		case <-req.done:
		case <-s.closed:
			return
		}
	}
}

func (s *RepSocket) dropConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// Request is one message received by a RepSocket. It must be replied to exactly once.
type Request struct {
	Body []byte

	seq     uint32
	conn    net.Conn
	replied atomic.Bool
	done    chan struct{}
}

// Reply sends body back to the peer that issued the request.
func (r *Request) Reply(body []byte) error {
	if !r.replied.CompareAndSwap(false, true) {
		return ErrAlreadyReplied
	}
	defer close(r.done)

	err := protocol.Encode(r.conn, &protocol.Header{MsgType: protocol.MsgTypeReply, Seq: r.seq}, body)
	if err != nil {
		_ = r.conn.Close()
		return err
	}
	return nil
}
