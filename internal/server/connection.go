//go:build linux || darwin

package server

import (
	"net"

	"github.com/vacbansry/kvloopd/internal/netpoll"
	"github.com/vacbansry/kvloopd/internal/protocol"
	"github.com/vacbansry/kvloopd/internal/store"
)

// readBufferSize is the chunk size used for each non-blocking read.
const readBufferSize = 4096

// maxScatterWrite bounds how many pending replies a single DoWrite call
// gathers into one vectored write.
const maxScatterWrite = 64

// connection owns one client socket's lifetime within a loop. It is never
// accessed by more than one goroutine: the owning loop's goroutine.
type connection struct {
	fd     int
	remote net.Addr

	parser      protocol.Parser
	cmd         protocol.Command
	argRemains  int
	argBuilding []byte

	readBuf    []byte // unconsumed bytes, always a prefix-compacted buffer
	readFilled int

	outbox    [][]byte
	firstByte int

	alive bool
}

func newConnection(fd int, remote net.Addr) *connection {
	return &connection{
		fd:      fd,
		remote:  remote,
		readBuf: make([]byte, readBufferSize),
		alive:   true,
	}
}

// wantWrite reports whether the connection currently needs write-readiness,
// per the outbox invariant: the mask includes write-readiness iff the
// outbox is non-empty.
func (c *connection) wantWrite() bool {
	return len(c.outbox) > 0
}

func (c *connection) eventMask() netpoll.Events {
	mask := netpoll.Read | netpoll.Hangup | netpoll.Error
	if c.wantWrite() {
		mask |= netpoll.Write
	}
	return mask
}

// doRead performs one readiness-triggered read-and-process cycle: read as
// much as is available without blocking, then repeatedly parse/collect
// argument/execute for as many complete commands as the buffered bytes
// allow.
func (c *connection) doRead(s *store.Store) {
	for {
		if c.readFilled == len(c.readBuf) {
			c.growReadBuf()
		}

		n, err := unixRead(c.fd, c.readBuf[c.readFilled:])
		if n > 0 {
			c.readFilled += n
		}
		if err != nil {
			if isWouldBlock(err) {
				break
			}
			c.alive = false
			return
		}
		if n == 0 {
			// peer closed its write side.
			c.alive = false
			return
		}

		c.processBuffered(s)
	}
}

func (c *connection) growReadBuf() {
	grown := make([]byte, len(c.readBuf)*2)
	copy(grown, c.readBuf[:c.readFilled])
	c.readBuf = grown
}

// processBuffered drives the parse -> collect-argument -> execute state
// machine over whatever is currently buffered, stopping when the parser
// can't make progress with what's available.
func (c *connection) processBuffered(s *store.Store) {
	for c.readFilled > 0 {
		if c.cmd == nil {
			consumed, ok := c.parser.Parse(c.readBuf[:c.readFilled])
			if consumed == 0 {
				return // need more input
			}
			c.compact(consumed)
			if !ok {
				c.parser.Reset()
				continue
			}
			cmd, argLen := c.parser.Build()
			c.cmd = cmd
			if argLen > 0 {
				c.argRemains = argLen + 2 // account for the argument's trailing CRLF
				c.argBuilding = c.argBuilding[:0]
			}
		}

		if c.cmd != nil && c.argRemains > 0 {
			toCopy := c.argRemains
			if toCopy > c.readFilled {
				toCopy = c.readFilled
			}
			c.argBuilding = append(c.argBuilding, c.readBuf[:toCopy]...)
			c.compact(toCopy)
			c.argRemains -= toCopy
			if c.argRemains > 0 {
				return // need more input
			}
		}

		if c.cmd != nil && c.argRemains == 0 {
			argument := ""
			if n := len(c.argBuilding); n >= 2 {
				argument = string(c.argBuilding[:n-2]) // trim trailing CRLF
			}
			result := c.cmd.Execute(s, argument)
			c.enqueueReply(result)

			c.cmd = nil
			c.argBuilding = c.argBuilding[:0]
			c.parser.Reset()
		}
	}
}

func (c *connection) enqueueReply(result string) {
	c.outbox = append(c.outbox, []byte(result+"\r\n"))
}

// compact removes the first n bytes of the read buffer, shifting the
// remainder down.
func (c *connection) compact(n int) {
	copy(c.readBuf, c.readBuf[n:c.readFilled])
	c.readFilled -= n
}

// doWrite gathers up to maxScatterWrite pending outbox entries into a
// single vectored non-blocking write, honoring any partial-write offset
// left in the first entry by a prior call.
func (c *connection) doWrite() {
	if len(c.outbox) == 0 {
		return
	}

	n := len(c.outbox)
	if n > maxScatterWrite {
		n = maxScatterWrite
	}
	bufs := make([][]byte, n)
	copy(bufs, c.outbox[:n])
	bufs[0] = bufs[0][c.firstByte:]

	written, err := unixWritev(c.fd, bufs)
	if err != nil {
		if isWouldBlock(err) {
			return
		}
		c.alive = false
		return
	}

	c.firstByte += written
	for len(c.outbox) > 0 {
		entryLen := len(c.outbox[0])
		if c.firstByte < entryLen {
			break
		}
		c.firstByte -= entryLen
		c.outbox = c.outbox[1:]
	}
}
