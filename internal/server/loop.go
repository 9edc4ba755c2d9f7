//go:build linux || darwin

// Package server implements a single-threaded, readiness-driven connection
// loop (st_nonblocking style) plus a thread-per-connection variant built
// atop the workerpool Executor (mt_blocking style, generalized onto a
// watermarked pool instead of one OS thread per connection).
package server

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/vacbansry/kvloopd/internal/logging"
	"github.com/vacbansry/kvloopd/internal/netpoll"
	"github.com/vacbansry/kvloopd/internal/store"
)

// Loop owns one readiness notifier, one listening socket, and every
// connection accepted from it. It is driven entirely by a single goroutine
// (Run's caller); Stop and Join may be called from any goroutine.
type Loop struct {
	store  *store.Store
	logger *logging.Logger

	notifier *netpoll.Notifier
	wake     *netpoll.WakeSource
	listener *rawListener

	conns map[int]*connection

	shuttingDown atomic.Bool
	done         chan struct{}
	doneOnce     sync.Once
}

// New constructs a Loop bound to s, listening on port, logging through log.
func New(s *store.Store, log *logging.Logger, port int) (*Loop, error) {
	notifier, err := netpoll.New()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		store:  s,
		logger: log,
		conns:  make(map[int]*connection),
		done:   make(chan struct{}),
	}
	l.notifier = notifier

	listener, err := listenRaw(port)
	if err != nil {
		_ = notifier.Close()
		return nil, err
	}
	l.listener = listener

	wake, err := netpoll.NewWakeSource(notifier, func() {})
	if err != nil {
		_ = listener.close()
		_ = notifier.Close()
		return nil, err
	}
	l.wake = wake

	if err := notifier.Register(listener.fd, netpoll.Read, l.onAcceptorReady); err != nil {
		_ = wake.Close()
		_ = listener.close()
		_ = notifier.Close()
		return nil, err
	}

	return l, nil
}

// Run blocks, servicing events until Stop is called and every connection's
// outbox has drained. It must be called from exactly one goroutine.
func (l *Loop) Run() error {
	defer l.doneOnce.Do(func() { close(l.done) })

	for {
		if l.shuttingDown.Load() {
			if len(l.conns) == 0 {
				return nil
			}
			l.closeDrained()
			if len(l.conns) == 0 {
				return nil
			}
		}

		timeout := -1
		if l.shuttingDown.Load() {
			// bounded wait so we re-check the drain condition even with no
			// fresh readiness events.
			timeout = 100
		}

		if _, err := l.notifier.Poll(timeout); err != nil {
			l.logger.Err().Err(err).Log("poll failed")
			return err
		}
	}
}

// closeDrained force-closes every connection whose outbox has already
// drained. Connections still flushing pending writes stay registered so
// ordinary WRITE readiness keeps servicing them until a later sweep finds
// them empty.
func (l *Loop) closeDrained() {
	for fd, c := range l.conns {
		if !c.wantWrite() {
			l.closeConn(fd)
		}
	}
}

// Stop begins graceful shutdown: the acceptor stops admitting new
// connections, already-accepted connections drain their outboxes, and Run
// returns once every connection has closed.
func (l *Loop) Stop() {
	if l.shuttingDown.Swap(true) {
		return
	}
	_ = l.wake.Wake()
}

// Join blocks until Run has returned.
func (l *Loop) Join() {
	<-l.done
}

// Close releases the loop's notifier, wake source and listening socket. It
// must only be called after Run has returned.
func (l *Loop) Close() error {
	_ = l.wake.Close()
	_ = l.listener.close()
	return l.notifier.Close()
}

func (l *Loop) onAcceptorReady(netpoll.Events) {
	if l.shuttingDown.Load() {
		return
	}
	for {
		fd, remote, ok, err := l.listener.accept()
		if err != nil {
			l.logger.Warning().Err(err).Log("accept failed")
			return
		}
		if !ok {
			return
		}
		l.admit(fd, remote)
	}
}

func (l *Loop) admit(fd int, remote net.Addr) {
	c := newConnection(fd, remote)
	l.conns[fd] = c

	if err := l.notifier.Register(fd, c.eventMask(), func(ev netpoll.Events) {
		l.onConnReady(fd, ev)
	}); err != nil {
		l.logger.Warning().Err(err).Int("fd", fd).Log("register failed")
		l.closeConn(fd)
	}
}

func (l *Loop) onConnReady(fd int, ev netpoll.Events) {
	c, ok := l.conns[fd]
	if !ok {
		return
	}

	if ev&(netpoll.Error|netpoll.Hangup) != 0 {
		c.alive = false
	} else {
		if ev&netpoll.Read != 0 {
			c.doRead(l.store)
		}
		if c.alive && ev&netpoll.Write != 0 {
			c.doWrite()
		}
	}

	if !c.alive {
		l.closeConn(fd)
		return
	}

	if err := l.notifier.Modify(fd, c.eventMask()); err != nil {
		l.logger.Warning().Err(err).Int("fd", fd).Log("modify failed")
		l.closeConn(fd)
	}
}

func (l *Loop) closeConn(fd int) {
	_ = l.notifier.Unregister(fd)
	_ = closeRawFD(fd)
	delete(l.conns, fd)
}
