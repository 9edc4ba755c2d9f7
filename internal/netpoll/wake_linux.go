//go:build linux

package netpoll

import "golang.org/x/sys/unix"

// createWakeFd creates an eventfd for cross-goroutine wake-up notifications.
// The same fd serves as both the read and write end.
func createWakeFd() (readFd, writeFd int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	return fd, fd, err
}
