package btree

import "errors"

var (
	// ErrInvalidData indicates on-disk index state that cannot be trusted,
	// such as entries left mid-modification.
	ErrInvalidData = errors.New("btree: invalid index data")

	// ErrAddressSpace indicates a segment outgrew the 32-bit offsets value
	// entries can store.
	ErrAddressSpace = errors.New("btree: segment exceeds addressable range")
)
