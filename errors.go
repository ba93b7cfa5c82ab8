package tangle

import (
	"errors"
	"fmt"

	"github.com/viant/tangle/btree"
	"github.com/viant/tangle/queue"
)

var (
	// ErrKeyNotFound is matched by errors returned for absent keys.
	ErrKeyNotFound = errors.New("tangle: key not found")

	// ErrModified fails FindResult accesses after an intervening mutation.
	ErrModified = errors.New("tangle: tangle modified")

	// ErrKeyTooLarge rejects keys longer than MaxKeyLength.
	ErrKeyTooLarge = errors.New("tangle: key too large")

	// ErrBatchTooLarge rejects batches above the configured bound.
	ErrBatchTooLarge = errors.New("tangle: batch too large")

	// ErrFormat refuses streams written with an unsupported format version.
	ErrFormat = errors.New("tangle: unsupported format version")

	// ErrClosed fails operations on a closed tangle.
	ErrClosed = errors.New("tangle: closed")

	// ErrLocked indicates the backing streams are held by another process.
	ErrLocked = errors.New("tangle: streams locked by another process")

	// ErrDisposed fails operations pending when the tangle is torn down.
	ErrDisposed = queue.ErrDisposed

	// ErrInvalidData indicates untrustworthy on-disk index state.
	ErrInvalidData = btree.ErrInvalidData
)

// KeyNotFoundError reports which key was absent. It matches ErrKeyNotFound.
type KeyNotFoundError struct {
	Key Key
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("tangle: key %v not found", e.Key)
}

func (e *KeyNotFoundError) Is(target error) bool {
	return target == ErrKeyNotFound
}

// CodecError reports a caller-supplied codec failure for a given key. No
// value bytes are published when encoding fails; for replacements the old
// value is preserved.
type CodecError struct {
	Key Key
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("tangle: codec failed for key %v: %v", e.Key, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}
