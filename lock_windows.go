//go:build windows

package tangle

// Windows has no flock; single-process use is not enforced there.

func lockStream(fd uintptr) error {
	return nil
}

func unlockStream(fd uintptr) error {
	return nil
}
