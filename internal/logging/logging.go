// Package logging provides the structured logger used throughout kvloopd.
//
// It wires github.com/joeycumines/logiface to github.com/joeycumines/stumpy,
// the zero-allocation JSON writer, matching how the eventloop package's own
// test suite constructs a typed event factory (the shipped eventloop package
// falls back to a hand-rolled Logger interface; this repo makes the
// logiface/stumpy integration the real, default path instead).
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Event is the concrete event type produced by the stumpy writer.
type Event = stumpy.Event

// Logger is the structured logger type used across every package.
type Logger = logiface.Logger[*Event]

// Category names for a "component" log field. The module's current log
// sites do not attach them.
const (
	CategoryStore      = "store"
	CategoryWorkerPool = "workerpool"
	CategoryServer     = "server"
	CategoryProtocol   = "protocol"
	CategoryConfig     = "config"
)

// New builds a Logger writing newline-delimited JSON to w at the given
// minimum level. A nil w defaults to os.Stderr.
func New(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return logiface.New[*Event](
		stumpy.WithStumpy(stumpy.WithWriter(w)),
		logiface.WithLevel[*Event](level),
	)
}

// NewDiscard builds a Logger that never writes, for use in tests that don't
// care about log output but still want to exercise logging call sites.
func NewDiscard() *Logger {
	return New(io.Discard, logiface.LevelInformational)
}
