package storage

import "errors"

var (
	// ErrClosed is returned when the source or stream has been closed.
	ErrClosed = errors.New("storage: closed")

	// ErrNotMappable indicates the stream cannot back a memory-mapped segment.
	ErrNotMappable = errors.New("storage: stream is not mappable")
)
