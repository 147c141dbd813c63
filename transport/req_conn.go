package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"crm-rpc/protocol"

	"github.com/pkg/errors"
)

const aliveCheckWait = time.Millisecond

// ReqConn is the requesting side of a request-reply pair.
// Requests on one connection are strictly sequential; concurrent callers are serialized.
type ReqConn struct {
	address string
	conn    net.Conn
	maxBody uint64

	mu     sync.Mutex
	seq    uint32
	broken bool
}

// Dial connects to a RepSocket.
func Dial(ctx context.Context, address string) (*ReqConn, error) {
	network, addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", address)
	}
	return &ReqConn{
		address: address,
		conn:    conn,
		maxBody: protocol.DefaultMaxBodySize,
	}, nil
}

// Address returns the connection string this connection was dialed with.
func (c *ReqConn) Address() string {
	return c.address
}

// Request sends body and waits for the matching reply, bounded by ctx.
//
// Any failure leaves the connection broken: after a timeout the reply is still in flight and
// would be read as the answer to the next request.
func (c *ReqConn) Request(ctx context.Context, body []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return nil, ErrBroken
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.broken = true
		return nil, errors.WithStack(err)
	}
	// Cancellation without a deadline still has to unblock the read
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	c.seq++
	if err := protocol.Encode(c.conn, &protocol.Header{MsgType: protocol.MsgTypeRequest, Seq: c.seq}, body); err != nil {
		c.broken = true
		return nil, classify(ctx, err)
	}

	header, reply, err := protocol.DecodeLimit(c.conn, c.maxBody)
	if err != nil {
		c.broken = true
		return nil, classify(ctx, err)
	}
	if header.MsgType != protocol.MsgTypeReply || header.Seq != c.seq {
		c.broken = true
		return nil, errors.Wrapf(ErrUnexpectedReply, "type %d seq %d, want seq %d", header.MsgType, header.Seq, c.seq)
	}
	return reply, nil
}

// Alive reports whether an idle connection can still carry a request. It fails when the
// connection is broken, when the peer has closed it, and when the peer sent data nobody asked for.
// A healthy connection costs at most aliveCheckWait.
func (c *ReqConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return false
	}
	// A deadline already in the past fails before reading, so leave the read a moment to see EOF
	if err := c.conn.SetReadDeadline(time.Now().Add(aliveCheckWait)); err != nil {
		c.broken = true
		return false
	}
	var b [1]byte
	n, err := c.conn.Read(b[:])
	_ = c.conn.SetReadDeadline(time.Time{})

	var netErr net.Error
	if n == 0 && errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	c.broken = true
	return false
}

// Broken reports whether the connection must be discarded.
func (c *ReqConn) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

func (c *ReqConn) Close() error {
	return c.conn.Close()
}

func classify(ctx context.Context, err error) error {
	var netErr net.Error
	if ctx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrap(ErrClosed, "peer closed the connection")
	}
	return err
}
