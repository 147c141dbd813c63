package codec

import (
	"unicode/utf8"

	"crm-rpc/message"

	"github.com/pkg/errors"
)

// ErrPartCount is returned when a call frame does not hold exactly two parts.
// It matches ErrMalformedFrame as well.
var ErrPartCount = errors.Wrap(ErrMalformedFrame, "call frame must have exactly 2 parts")

// BinaryCodec encodes a *message.Call as the two-part frame [method, args].
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	call, ok := v.(*message.Call)
	if !ok {
		return nil, errors.Errorf("BinaryCodec: v must be *message.Call, got %T", v)
	}
	return EncodeParts([]byte(call.Method), call.Args), nil
}

// Decode fills v, which must be a *message.Call. Args aliases data.
func (c *BinaryCodec) Decode(data []byte, v any) error {
	call, ok := v.(*message.Call)
	if !ok {
		return errors.Errorf("BinaryCodec: v must be *message.Call, got %T", v)
	}
	parts, err := DecodeParts(data)
	if err != nil {
		return err
	}
	if len(parts) != 2 {
		return errors.Wrapf(ErrPartCount, "got %d", len(parts))
	}
	if !utf8.Valid(parts[0]) {
		return errors.Wrap(ErrMalformedFrame, "method name is not valid UTF-8")
	}
	call.Method = string(parts[0])
	call.Args = parts[1]
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
