// blocking.go implements the thread-per-connection variant described in
// spec §4.3's "Variants" section, grounded on the original mt_blocking
// ServerImpl: one connection count guarded by a mutex/condition-variable
// pair that blocks the acceptor once max_concurrent_connections is
// reached, with each accepted connection handed off to the workerpool
// Executor (C2) instead of a raw std::thread.
package server

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/vacbansry/kvloopd/internal/logging"
	"github.com/vacbansry/kvloopd/internal/protocol"
	"github.com/vacbansry/kvloopd/internal/store"
	"github.com/vacbansry/kvloopd/internal/workerpool"
)

// BlockingServer is the thread-per-connection variant: a blocking accept
// loop hands each connection to the Executor, which runs it to completion
// on a pooled goroutine. LRUStore access is serialized by storeMu, acquired
// only while a command actually executes -- never while blocked on socket
// I/O -- matching the lock-ordering rule that the executor is never held
// while waiting on the store's mutex, and vice versa.
type BlockingServer struct {
	store   *store.Store
	storeMu *sync.Mutex
	logger  *logging.Logger

	executor *workerpool.Executor

	listener    net.Listener
	maxConns    int
	readTimeout time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	active  int
	closing bool
}

// NewBlockingServer constructs a thread-per-connection server listening on
// port, executing accepted connections via executor and guarding store
// access with storeMu (a fresh mutex if nil). Loop does not lock storeMu,
// so the mutex serializes store access among BlockingServer's own
// handlers only.
func NewBlockingServer(s *store.Store, storeMu *sync.Mutex, log *logging.Logger, executor *workerpool.Executor, port, maxConns int, readTimeout time.Duration) (*BlockingServer, error) {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, err
	}
	if storeMu == nil {
		storeMu = &sync.Mutex{}
	}
	b := &BlockingServer{
		store:       s,
		storeMu:     storeMu,
		logger:      log,
		executor:    executor,
		listener:    ln,
		maxConns:    maxConns,
		readTimeout: readTimeout,
	}
	b.cond = sync.NewCond(&b.mu)
	return b, nil
}

// Run blocks, accepting connections until Stop is called or the listener
// otherwise fails. It mirrors the original ServerImpl::OnRun acceptor
// thread: block on accept, admit under the connection-count condition
// variable, hand the socket to a worker.
func (b *BlockingServer) Run() error {
	for {
		b.mu.Lock()
		for b.active >= b.maxConns && !b.closing {
			b.cond.Wait()
		}
		closing := b.closing
		b.mu.Unlock()
		if closing {
			return nil
		}

		conn, err := b.listener.Accept()
		if err != nil {
			b.mu.Lock()
			closing = b.closing
			b.mu.Unlock()
			if closing {
				return nil
			}
			b.logger.Warning().Err(err).Log("accept failed")
			continue
		}

		b.mu.Lock()
		b.active++
		b.mu.Unlock()

		submitErr := b.executor.Execute(func() { b.handle(conn) })
		if submitErr != nil {
			// queue saturated or executor stopping: refuse the connection
			// immediately rather than let it sit unhandled.
			b.logger.Warning().Err(submitErr).Log("connection rejected")
			_ = conn.Close()
			b.mu.Lock()
			b.active--
			b.cond.Signal()
			b.mu.Unlock()
		}
	}
}

// Stop closes the listener and wakes any acceptor currently blocked on the
// connection-count condition variable. In-flight connections are left to
// finish on their own (they observe EOF or their read timeout); Stop does
// not forcibly close them.
func (b *BlockingServer) Stop() error {
	b.mu.Lock()
	b.closing = true
	b.cond.Broadcast()
	b.mu.Unlock()
	return b.listener.Close()
}

// handle runs one connection's synchronous read -> parse -> execute -> write
// loop to completion, decrementing the active count and signaling the
// acceptor on exit regardless of how the loop ended.
func (b *BlockingServer) handle(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		b.mu.Lock()
		b.active--
		b.cond.Signal()
		b.mu.Unlock()
	}()

	r := bufio.NewReaderSize(conn, readBufferSize)
	var parser protocol.Parser

	for {
		if b.readTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(b.readTimeout)); err != nil {
				return
			}
		}

		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		// ReadString keeps the delimiter; Parse expects the bare header
		// bytes including the CRLF so it can locate the terminator itself.
		consumed, ok := parser.Parse([]byte(line))
		if consumed == 0 {
			return
		}
		if !ok {
			parser.Reset()
			continue
		}

		cmd, argLen := parser.Build()
		argument := ""
		if argLen > 0 {
			buf := make([]byte, argLen+2)
			if _, err := io.ReadFull(r, buf); err != nil {
				return
			}
			if n := len(buf); n >= 2 {
				argument = string(buf[:n-2])
			}
		}

		b.storeMu.Lock()
		result := cmd.Execute(b.store, argument)
		b.storeMu.Unlock()

		if b.readTimeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(b.readTimeout)); err != nil {
				return
			}
		}
		if _, err := io.WriteString(conn, result+"\r\n"); err != nil {
			return
		}
		parser.Reset()
	}
}
