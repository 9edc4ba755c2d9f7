// Package protocol implements the text command grammar spoken by kvloopd
// connections, matching the incremental parser contract used by the
// original server's read loop: Parse consumes a command header from a byte
// slice, reporting how many bytes were absorbed (zero meaning "need more
// input"); Build then yields an executable Command plus the number of
// argument bytes (if any) still to arrive before it can run.
//
// Grammar (case-insensitive verbs, single space separated, CRLF terminated):
//
//	GET <key>\r\n
//	DELETE <key>\r\n
//	SET <key> <bytes>\r\n<bytes of argument>\r\n
//	ADD <key> <bytes>\r\n<bytes of argument>\r\n
//
// SET inserts or replaces unconditionally (store.Put); ADD inserts only if
// the key is absent (store.PutIfAbsent).
package protocol

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/vacbansry/kvloopd/internal/store"
)

// Command is produced by Parser.Build once a full command header has been
// recognized. Execute applies it to s using the fully-collected argument
// (empty for commands with no argument) and returns the reply text, without
// a trailing CRLF.
type Command interface {
	Execute(s *store.Store, argument string) string
}

type getCommand struct{ key string }

func (c getCommand) Execute(s *store.Store, _ string) string {
	if v, ok := s.Get(c.key); ok {
		return "VALUE " + v
	}
	return "NOT_FOUND"
}

type deleteCommand struct{ key string }

func (c deleteCommand) Execute(s *store.Store, _ string) string {
	if s.Delete(c.key) {
		return "DELETED"
	}
	return "NOT_FOUND"
}

type setCommand struct{ key string }

func (c setCommand) Execute(s *store.Store, argument string) string {
	if s.Put(c.key, argument) {
		return "STORED"
	}
	return "TOO_LARGE"
}

type addCommand struct{ key string }

func (c addCommand) Execute(s *store.Store, argument string) string {
	if s.PutIfAbsent(c.key, argument) {
		return "STORED"
	}
	return "NOT_STORED"
}

// Parser holds the incremental state needed to recognize one command header
// from a stream of bytes that may arrive in arbitrary chunks. It is not
// reentrant across connections: each Connection owns its own Parser.
type Parser struct {
	verb string
	key  string
	argN int
	ok   bool
}

// Reset clears parser state between commands.
func (p *Parser) Reset() {
	*p = Parser{}
}

// Parse scans buf for a complete CRLF-terminated command header. It returns
// the number of bytes consumed and whether a full header was recognized.
// Consuming zero bytes means the caller must wait for more input before
// calling Parse again. A non-zero consumed count with ok=false means a
// malformed header was skipped; callers reset the parser and move on to the
// next header without sending the client any reply for the bad one.
func (p *Parser) Parse(buf []byte) (consumed int, ok bool) {
	idx := bytes.Index(buf, []byte("\r\n"))
	if idx < 0 {
		return 0, false
	}
	line := string(buf[:idx])
	consumed = idx + 2

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return consumed, false
	}

	switch strings.ToUpper(fields[0]) {
	case "GET":
		if len(fields) != 2 {
			return consumed, false
		}
		p.verb, p.key = "GET", fields[1]
		p.ok = true
	case "DELETE":
		if len(fields) != 2 {
			return consumed, false
		}
		p.verb, p.key = "DELETE", fields[1]
		p.ok = true
	case "SET", "ADD":
		if len(fields) != 3 {
			return consumed, false
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil || n < 0 {
			return consumed, false
		}
		p.verb, p.key, p.argN = strings.ToUpper(fields[0]), fields[1], n
		p.ok = true
	default:
		return consumed, false
	}

	return consumed, p.ok
}

// Build returns the Command recognized by the prior successful Parse call,
// along with the number of raw argument bytes the caller must still collect
// (0 for commands without an argument). Build must only be called after
// Parse returned ok=true.
func (p *Parser) Build() (cmd Command, argLen int) {
	switch p.verb {
	case "GET":
		return getCommand{key: p.key}, 0
	case "DELETE":
		return deleteCommand{key: p.key}, 0
	case "SET":
		return setCommand{key: p.key}, p.argN
	case "ADD":
		return addCommand{key: p.key}, p.argN
	default:
		return nil, 0
	}
}
