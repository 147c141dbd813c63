// Package message defines what travels between a caller and a bound resource.
//
// Two kinds of transport messages exist:
//
//   - Control messages: fixed byte strings outside the frame scheme, used for liveness and
//     graceful shutdown. They are recognized by exact byte equality before any frame parsing.
//   - Calls: a two-part frame (see package codec) carrying the method name and an opaque argument
//     payload. Replies to calls are the raw response payload with no envelope.
package message

import "bytes"

// Control tokens. None of them is a valid two-part frame, so they never collide with calls.
var (
	Ping        = []byte("PING")
	Pong        = []byte("PONG")
	Shutdown    = []byte("SHUTDOWN")
	ShutdownAck = []byte("SHUTDOWN_ACK")
)

// IsPing reports whether raw is the liveness probe.
func IsPing(raw []byte) bool {
	return bytes.Equal(raw, Ping)
}

// IsPong reports whether raw is the liveness answer.
func IsPong(raw []byte) bool {
	return bytes.Equal(raw, Pong)
}

// IsShutdown reports whether raw is the shutdown request.
func IsShutdown(raw []byte) bool {
	return bytes.Equal(raw, Shutdown)
}

// IsShutdownAck reports whether raw is the shutdown acknowledgement.
func IsShutdownAck(raw []byte) bool {
	return bytes.Equal(raw, ShutdownAck)
}

// IsReserved reports whether name equals one of the control tokens.
// Such names cannot be registered as methods.
func IsReserved(name string) bool {
	switch name {
	case string(Ping), string(Pong), string(Shutdown), string(ShutdownAck):
		return true
	}
	return false
}

// Call is the envelope of a single remote invocation.
//
//   - Method is sent as UTF-8 in sub-message 0.
//   - Args is sent untouched in sub-message 1. The runtime never looks inside it.
type Call struct {
	Method string
	Args   []byte
}

// Result is what a resource method produces.
// Only Payload goes back over the wire; Aux stays with the server for logging.
type Result struct {
	Aux     any
	Payload []byte
}
