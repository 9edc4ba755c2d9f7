//go:build linux || darwin

package server

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// rawListener is a non-blocking TCP listening socket addressed by raw file
// descriptor, so it can be registered directly with a netpoll.Notifier
// rather than going through the runtime's own network poller.
type rawListener struct {
	fd int
}

func listenRaw(port int) (*rawListener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("server: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("server: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("server: set nonblocking: %w", err)
	}

	addr := unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, &addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("server: bind: %w", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("server: listen: %w", err)
	}

	return &rawListener{fd: fd}, nil
}

// accept returns one pending connection's fd, or ok=false if the accept
// queue is currently empty (EAGAIN/EWOULDBLOCK).
func (l *rawListener) accept() (fd int, remote net.Addr, ok bool, err error) {
	nfd, sa, acceptErr := unix.Accept(l.fd)
	if acceptErr != nil {
		if acceptErr == unix.EAGAIN {
			return 0, nil, false, nil
		}
		return 0, nil, false, acceptErr
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return 0, nil, false, err
	}

	remote = sockaddrToAddr(sa)
	return nfd, remote, true, nil
}

func (l *rawListener) close() error {
	return unix.Close(l.fd)
}

// closeRawFD closes a raw connection file descriptor obtained from accept.
func closeRawFD(fd int) error {
	return unix.Close(fd)
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: a.Addr[:], Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: a.Addr[:], Port: a.Port}
	default:
		return nil
	}
}
