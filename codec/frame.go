// Package codec packs several byte payloads into one transport message and back.
//
// Frame layout, repeated once per part with no padding and nothing trailing:
//
//	┌──────────────────────┬───────────────┐
//	│ length uint64 (BE)   │ length bytes  │
//	└──────────────────────┴───────────────┘
//
// The number of parts is not stored; it falls out of the parse.
package codec

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// LengthSize is the size of each part's length prefix.
const LengthSize = 8

var ErrMalformedFrame = errors.New("malformed frame")

// EncodeParts concatenates each part behind its 8-byte big-endian length, in order.
func EncodeParts(parts ...[]byte) []byte {
	total := 0
	for _, p := range parts {
		total += LengthSize + len(p)
	}
	buf := make([]byte, 0, total)
	for _, p := range parts {
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(p)))
		buf = append(buf, p...)
	}
	return buf
}

// DecodeParts splits buf back into its parts. The returned slices alias buf; nothing is copied.
// The whole buffer must be consumed, otherwise ErrMalformedFrame is returned.
func DecodeParts(buf []byte) ([][]byte, error) {
	var parts [][]byte
	offset := 0
	for offset < len(buf) {
		if len(buf)-offset < LengthSize {
			return nil, errors.Wrapf(ErrMalformedFrame, "incomplete length prefix at offset %d", offset)
		}
		length := binary.BigEndian.Uint64(buf[offset : offset+LengthSize])
		offset += LengthSize

		remaining := uint64(len(buf) - offset)
		if length > remaining {
			return nil, errors.Wrapf(ErrMalformedFrame, "part length %d exceeds remaining %d bytes at offset %d",
				length, remaining, offset)
		}
		end := offset + int(length)
		parts = append(parts, buf[offset:end:end])
		offset = end
	}
	if offset != len(buf) {
		return nil, errors.Wrapf(ErrMalformedFrame, "%d bytes left after parsing", len(buf)-offset)
	}
	return parts, nil
}
