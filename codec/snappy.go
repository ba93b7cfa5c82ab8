package codec

import (
	"github.com/golang/snappy"
)

// Codec mirrors the tangle codec contract so decorators can wrap any
// implementation.
type Codec interface {
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte) (interface{}, error)
}

// Snappy block-compresses the payload produced by an inner codec.
type Snappy struct {
	inner Codec
}

// WithSnappy wraps a codec with snappy block compression.
func WithSnappy(inner Codec) *Snappy {
	return &Snappy{inner: inner}
}

func (c *Snappy) Encode(value interface{}) ([]byte, error) {
	data, err := c.inner.Encode(value)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

func (c *Snappy) Decode(data []byte) (interface{}, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, err
	}
	return c.inner.Decode(raw)
}
