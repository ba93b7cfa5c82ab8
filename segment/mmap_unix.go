//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris || aix

package segment

import (
	"golang.org/x/sys/unix"
)

// mapRange maps [offset, offset+length) of the stream read/write. offset is
// always viewAlign-aligned, which satisfies the page alignment mmap requires.
func mapRange(fd uintptr, offset, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	return unix.Mmap(int(fd), offset, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// unmapRange releases a mapping created by mapRange.
func unmapRange(data []byte) {
	if data != nil {
		_ = unix.Munmap(data)
	}
}
