// Package protocol frames one request-reply transport message on a byte stream.
//
// TCP has no message boundaries, so each message carries a fixed 17-byte header followed by
// its body. The receiver reads the header first, then exactly bodyLen bytes.
//
// Frame format:
//
//	0      3  4  5         9                 17
//	┌──────┬──┬──┬─────────┬─────────────────┬───────────────┐
//	│magic │v │mt│   seq   │     bodyLen     │    body ...    │
//	│ crp  │01│  │ uint32  │     uint64      │ bodyLen bytes  │
//	└──────┴──┴──┴─────────┴─────────────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Magic bytes "crp" reject peers that are not speaking this protocol.
const (
	MagicNumber byte = 0x63 // 'c'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 17 // 3 (magic) + 1 (version) + 1 (msgType) + 4 (seq) + 8 (bodyLen)
)

// DefaultMaxBodySize bounds the allocation made for a single incoming body.
const DefaultMaxBodySize uint64 = 1 << 30

// MsgType distinguishes requests from replies.
type MsgType byte

const (
	MsgTypeRequest MsgType = 0 // requester → replier
	MsgTypeReply   MsgType = 1 // replier → requester
)

var ErrBodyTooLarge = errors.New("message body too large")

// Header is the fixed-size part of every transport message.
type Header struct {
	MsgType MsgType
	Seq     uint32 // Echoed back in the reply so a requester can detect a stale reply
	BodyLen uint64
}

// Encode writes header and body to w in a single Write call.
// Callers sharing a writer must serialize calls themselves.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[5:9], h.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(len(body)))
	buf = append(buf, body...)

	if _, err := w.Write(buf); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Decode reads one message from r using DefaultMaxBodySize.
func Decode(r io.Reader) (*Header, []byte, error) {
	return DecodeLimit(r, DefaultMaxBodySize)
}

// DecodeLimit reads one message from r, refusing bodies larger than maxBody.
// io.EOF is returned unwrapped when the stream ends cleanly before a header.
func DecodeLimit(r io.Reader, maxBody uint64) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		if err == io.EOF {
			return nil, nil, err
		}
		return nil, nil, errors.WithStack(err)
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, errors.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, errors.Errorf("unsupported version: %d", headerBuf[3])
	}
	msgType := MsgType(headerBuf[4])
	if msgType != MsgTypeRequest && msgType != MsgTypeReply {
		return nil, nil, errors.Errorf("unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[5:9])
	bodyLen := binary.BigEndian.Uint64(headerBuf[9:17])
	if bodyLen > maxBody {
		return nil, nil, errors.Wrapf(ErrBodyTooLarge, "%d bytes, limit %d", bodyLen, maxBody)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, errors.WithStack(err)
	}

	return &Header{
		MsgType: msgType,
		Seq:     seq,
		BodyLen: bodyLen,
	}, body, nil
}
