//go:build !linux && !darwin && !windows

package vox

import (
	"golang.org/x/sys/unix"
)

const (
	EFD_CLOEXEC  = unix.O_CLOEXEC
	EFD_NONBLOCK = unix.O_NONBLOCK
)

// createWakeFd creates a self-pipe for wake-up notifications on BSD
// variants without a dedicated eventfd equivalent.
func createWakeFd(initval uint, flags int) (int, int, error) {
	_ = initval
	_ = flags

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

// closeWakeFd closes both ends of the wake self-pipe.
func closeWakeFd(wakeFd, wakeWriteFd int) error {
	if wakeFd >= 0 {
		_ = unix.Close(wakeFd)
	}
	if wakeWriteFd >= 0 && wakeWriteFd != wakeFd {
		_ = unix.Close(wakeWriteFd)
	}
	return nil
}

// isWakeFdSupported returns true; every target here supports pipes.
func isWakeFdSupported() bool {
	return true
}

// drainWakeUpPipe is unused on this platform; SelectBackendImpl drains
// its own wake fd directly.
func drainWakeUpPipe() error {
	return nil
}

func getWakeReadFd() int {
	return -1
}

func submitGenericWakeup(_ uintptr) error {
	return nil
}
