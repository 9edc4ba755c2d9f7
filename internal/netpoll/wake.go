//go:build linux || darwin

package netpoll

import "sync/atomic"

// WakeSource is a self-pipe (or eventfd) registered with a Notifier so that
// a goroutine blocked in Poll can be interrupted from any other goroutine.
// Used by the server's connection loop to break out of a blocking Poll call
// on shutdown or when new work (e.g. a just-accepted connection) needs
// registering from outside the loop goroutine.
type WakeSource struct {
	readFd, writeFd int
	pending         atomic.Bool
}

// NewWakeSource creates the platform wake primitive and registers it with n
// for read-readiness; onWake is invoked (from within a Poll call, on the
// notifier's calling goroutine) whenever Wake has been called since the
// last drain.
func NewWakeSource(n *Notifier, onWake func()) (*WakeSource, error) {
	r, w, err := createWakeFd()
	if err != nil {
		return nil, err
	}
	ws := &WakeSource{readFd: r, writeFd: w}
	if err := n.Register(r, Read, func(Events) {
		ws.Drain()
		onWake()
	}); err != nil {
		_ = closeFD(r)
		if w != r {
			_ = closeFD(w)
		}
		return nil, err
	}
	return ws, nil
}

// Wake signals the notifier's Poll to return, coalescing concurrent calls
// into a single pending wake-up.
func (w *WakeSource) Wake() error {
	if w.pending.Swap(true) {
		return nil
	}
	var buf [8]byte
	buf[0] = 1
	_, err := writeFD(w.writeFd, buf[:])
	return err
}

// Drain clears any pending wake-up bytes and resets the coalescing flag.
func (w *WakeSource) Drain() {
	w.pending.Store(false)
	var buf [64]byte
	for {
		n, err := readFD(w.readFd, buf[:])
		if err != nil || n <= 0 {
			return
		}
	}
}

// Close releases the wake primitive's file descriptors.
func (w *WakeSource) Close() error {
	err := closeFD(w.readFd)
	if w.writeFd != w.readFd {
		if werr := closeFD(w.writeFd); err == nil {
			err = werr
		}
	}
	return err
}
