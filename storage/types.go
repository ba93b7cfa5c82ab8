package storage

import "io"

// Stream is a named, append-capable byte stream backing one tangle segment.
// Streams produced by the same Source are independent: each has its own
// length and position space.
//
// Fd exposes the underlying descriptor so segments can memory-map the
// stream; a Stream that cannot be mapped returns 0.
type Stream interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Truncate grows or shrinks the stream to the given size. Grown bytes
	// read as zero.
	Truncate(size int64) error

	// Size returns the current stream length in bytes.
	Size() (int64, error)

	// Sync flushes stream content to stable storage.
	Sync() error

	// Fd returns the underlying file descriptor, or 0 when unavailable.
	Fd() uintptr
}

// Source names and opens the streams backing one logical tangle.
type Source interface {
	// Open returns the stream for the given name, creating it when absent.
	// Opening the same name twice returns streams over the same bytes.
	Open(name string) (Stream, error)

	// Exists reports whether a stream with the given name has been created.
	Exists(name string) (bool, error)

	// Delete removes the named stream.
	Delete(name string) error

	// Close releases resources held by the source. Streams opened from the
	// source must be closed separately.
	Close() error
}
