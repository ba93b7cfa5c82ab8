package segment

import "errors"

var (
	// ErrRangeHeld indicates a remap was attempted while ranges were
	// outstanding.
	ErrRangeHeld = errors.New("segment: range held during remap")

	// ErrCorrupt indicates the segment header disagrees with the stream.
	ErrCorrupt = errors.New("segment: corrupt header")
)
