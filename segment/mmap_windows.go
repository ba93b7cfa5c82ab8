//go:build windows

package segment

import "github.com/viant/tangle/storage"

// Windows has no mapping: every map attempt fails with ErrNotMappable, so the
// first segment access fails and opening a tangle fails, with no fallback to
// file I/O.

func mapRange(fd uintptr, offset, length int64) ([]byte, error) {
	return nil, storage.ErrNotMappable
}

func unmapRange(data []byte) {
}
