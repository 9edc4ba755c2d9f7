// Package netpoll provides a readiness notifier: a thin, platform-specific
// wrapper around epoll (Linux) or kqueue (Darwin) that reports which
// registered file descriptors can be read from or written to without
// blocking, plus a cross-goroutine wake-up mechanism so a caller blocked in
// Poll can be interrupted from another goroutine.
//
// Always call Unregister before closing a file descriptor to prevent stale
// event delivery due to FD recycling.
package netpoll

import "errors"

// Events is a bitmask of I/O readiness conditions.
type Events uint32

const (
	// Read indicates the file descriptor is ready for reading.
	Read Events = 1 << iota
	// Write indicates the file descriptor is ready for writing.
	Write
	// Error indicates an error condition on the file descriptor.
	Error
	// Hangup indicates the peer closed its end of the connection.
	Hangup
)

// Callback is invoked with the events that became ready for a registered fd.
type Callback func(Events)

// Standard errors.
var (
	ErrFDOutOfRange        = errors.New("netpoll: fd out of range")
	ErrFDAlreadyRegistered = errors.New("netpoll: fd already registered")
	ErrFDNotRegistered     = errors.New("netpoll: fd not registered")
	ErrNotifierClosed      = errors.New("netpoll: notifier closed")
)

// fdInfo stores per-FD callback information.
type fdInfo struct {
	callback Callback
	events   Events
	active   bool
}
