package tangle

// Codec serializes application values into the data segment and back. Encode
// always produces bytes in scratch memory before any segment space is
// reserved; Decode receives a private copy of the stored bytes.
//
// Codecs run on the tangle's worker goroutine and must not retain their
// arguments.
type Codec interface {
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte) (interface{}, error)
}
