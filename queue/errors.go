package queue

import "errors"

var (
	// ErrDisposed fails operations pending when the queue is torn down.
	ErrDisposed = errors.New("queue: disposed")

	// ErrCanceled completes futures canceled before execution.
	ErrCanceled = errors.New("queue: operation canceled")
)
