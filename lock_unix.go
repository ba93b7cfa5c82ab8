//go:build !windows

package tangle

import (
	"errors"

	"golang.org/x/sys/unix"
)

// lockStream takes a non-blocking exclusive flock on the stream descriptor,
// guarding against a second process opening the same tangle.
func lockStream(fd uintptr) error {
	if err := unix.Flock(int(fd), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return ErrLocked
		}
		return err
	}
	return nil
}

func unlockStream(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_UN)
}
