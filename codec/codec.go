// Package codec provides value codecs for tangles. Numeric codecs stream through pooled bintly writers/readers; String and Bytes store raw
// payload bytes so stored length equals value length.
package codec

import (
	"fmt"

	"github.com/viant/bintly"
)

var (
	writers = bintly.NewWriters()
	readers = bintly.NewReaders()
)

func encode(fn func(w *bintly.Writer)) ([]byte, error) {
	w := writers.Get()
	defer writers.Put(w)
	fn(w)
	data := w.Bytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func decode(data []byte, fn func(r *bintly.Reader)) error {
	r := readers.Get()
	defer readers.Put(r)
	if err := r.FromBytes(data); err != nil {
		return err
	}
	fn(r)
	return nil
}

func typeError(want string, got interface{}) error {
	return fmt.Errorf("codec: expected %s, got %T", want, got)
}

// Int encodes Go ints.
type Int struct{}

func (Int) Encode(value interface{}) ([]byte, error) {
	v, ok := value.(int)
	if !ok {
		return nil, typeError("int", value)
	}
	return encode(func(w *bintly.Writer) { w.Int(v) })
}

func (Int) Decode(data []byte) (interface{}, error) {
	var v int
	if err := decode(data, func(r *bintly.Reader) { r.Int(&v) }); err != nil {
		return nil, err
	}
	return v, nil
}

// Int64 encodes int64 values.
type Int64 struct{}

func (Int64) Encode(value interface{}) ([]byte, error) {
	v, ok := value.(int64)
	if !ok {
		return nil, typeError("int64", value)
	}
	return encode(func(w *bintly.Writer) { w.Int64(v) })
}

func (Int64) Decode(data []byte) (interface{}, error) {
	var v int64
	if err := decode(data, func(r *bintly.Reader) { r.Int64(&v) }); err != nil {
		return nil, err
	}
	return v, nil
}

// Uint64 encodes uint64 values.
type Uint64 struct{}

func (Uint64) Encode(value interface{}) ([]byte, error) {
	v, ok := value.(uint64)
	if !ok {
		return nil, typeError("uint64", value)
	}
	return encode(func(w *bintly.Writer) { w.Uint64(v) })
}

func (Uint64) Decode(data []byte) (interface{}, error) {
	var v uint64
	if err := decode(data, func(r *bintly.Reader) { r.Uint64(&v) }); err != nil {
		return nil, err
	}
	return v, nil
}

// Float64 encodes float64 values.
type Float64 struct{}

func (Float64) Encode(value interface{}) ([]byte, error) {
	v, ok := value.(float64)
	if !ok {
		return nil, typeError("float64", value)
	}
	return encode(func(w *bintly.Writer) { w.Float64(v) })
}

func (Float64) Decode(data []byte) (interface{}, error) {
	var v float64
	if err := decode(data, func(r *bintly.Reader) { r.Float64(&v) }); err != nil {
		return nil, err
	}
	return v, nil
}

// String stores the value's UTF-8 bytes verbatim.
type String struct{}

func (String) Encode(value interface{}) ([]byte, error) {
	v, ok := value.(string)
	if !ok {
		return nil, typeError("string", value)
	}
	return []byte(v), nil
}

func (String) Decode(data []byte) (interface{}, error) {
	return string(data), nil
}

// Bytes stores the payload verbatim.
type Bytes struct{}

func (Bytes) Encode(value interface{}) ([]byte, error) {
	v, ok := value.([]byte)
	if !ok {
		return nil, typeError("[]byte", value)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (Bytes) Decode(data []byte) (interface{}, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
