package transport

import "github.com/pkg/errors"

var (
	// ErrBind is returned by Listen when the address cannot be bound.
	ErrBind = errors.New("bind failed")
	// ErrTimeout means no message arrived within the allowed wait.
	ErrTimeout = errors.New("timed out")
	// ErrClosed means the socket or connection was torn down.
	ErrClosed = errors.New("transport closed")
	// ErrAlreadyReplied is returned by a second Reply to the same request.
	ErrAlreadyReplied = errors.New("request already replied to")
	// ErrUnexpectedReply means a reply did not belong to the outstanding request.
	ErrUnexpectedReply = errors.New("unexpected reply")
	// ErrBroken is returned by a ReqConn that failed earlier and must be discarded.
	ErrBroken = errors.New("connection is broken")
)
