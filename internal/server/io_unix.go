//go:build linux || darwin

package server

import "golang.org/x/sys/unix"

func unixRead(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// unixWritev performs a single vectored write, mirroring the original
// implementation's use of writev(2) to flush an ordered outbox without
// copying its entries into one contiguous buffer.
func unixWritev(fd int, bufs [][]byte) (int, error) {
	nonEmpty := make([][]byte, 0, len(bufs))
	for _, b := range bufs {
		if len(b) > 0 {
			nonEmpty = append(nonEmpty, b)
		}
	}
	if len(nonEmpty) == 0 {
		return 0, nil
	}
	return unix.Writev(fd, nonEmpty)
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}
