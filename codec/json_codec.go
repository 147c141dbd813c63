package codec

import (
	"encoding/json"
)

// JSONCodec marshals typed arguments for resource stubs.
// The payload it produces is still opaque to the runtime.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
