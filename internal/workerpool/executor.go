// Package workerpool implements a dynamically-sized worker pool: an
// Executor that grows worker goroutines up to a high watermark under load,
// reaps idle ones back down to a low watermark, and drains its queue to
// completion on Stop rather than dropping pending work.
//
// The design consolidates several divergent, mutually racy worker-pool
// variants into one coherent implementation guarded by a single mutex plus
// two condition variables, in the spirit of the eventloop package's
// cache-line-padded FastState: one authoritative place for state, reached
// under one lock, rather than a mix of atomics and partial locking.
package workerpool

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Task is an opaque zero-argument unit of work submitted to an Executor.
type Task func()

// State is the lifecycle state of an Executor.
type State int32

const (
	// Run accepts submissions and dispatches them to workers.
	Run State = iota
	// Stopping rejects new submissions; queued work still drains.
	Stopping
	// Stopped means every worker has exited and the queue is empty.
	Stopped
)

func (s State) String() string {
	switch s {
	case Run:
		return "Run"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// PanicHandler is invoked, with the recovered value, when a task panics.
// It must not panic itself. A nil handler silently discards the panic.
type PanicHandler func(recovered any)

var (
	// ErrStopped is returned by Execute once Stop has been called.
	ErrStopped = errors.New("workerpool: executor stopped")
	// ErrQueueFull is returned by Execute when the bounded queue is at capacity.
	ErrQueueFull = errors.New("workerpool: queue full")
)

// Config controls Executor sizing and reap behavior.
type Config struct {
	// LowWatermark is the minimum number of resident workers, and the floor
	// idle reaping will not cross.
	LowWatermark int
	// HighWatermark is the maximum number of workers Execute may spawn.
	HighWatermark int
	// MaxQueue bounds the number of tasks waiting for a worker.
	MaxQueue int
	// IdleTimeout is how long a worker above LowWatermark waits for a task
	// before retiring.
	IdleTimeout time.Duration
	// OnPanic, if set, is called with the recovered value whenever a task
	// panics; the worker then returns to idle rather than exiting.
	OnPanic PanicHandler
}

// Stats accumulates lifetime counters for an Executor, grounded on the same
// Hits/Misses/Evictions-style snapshot shape the store package exposes.
type Stats struct {
	Spawned   uint64 // workers started, including the initial LowWatermark batch
	Reaped    uint64 // workers retired, by idle-timeout expiry or Stop's drain
	Executed  uint64 // tasks that ran to completion without panicking
	Rejected  uint64 // Execute calls that returned an error
	Panics    uint64 // tasks that panicked
}

// Executor is a watermarked, drain-on-stop worker pool.
type Executor struct {
	cfg Config

	mu            sync.Mutex
	workAvailable *sync.Cond
	stopped       *sync.Cond

	state   State
	workers int // N
	idle    int // I
	queue   []Task

	stats Stats
}

// New constructs an Executor and spawns LowWatermark workers immediately.
func New(cfg Config) *Executor {
	if cfg.LowWatermark < 0 {
		cfg.LowWatermark = 0
	}
	if cfg.HighWatermark < cfg.LowWatermark {
		cfg.HighWatermark = cfg.LowWatermark
	}

	e := &Executor{cfg: cfg, state: Run}
	e.workAvailable = sync.NewCond(&e.mu)
	e.stopped = sync.NewCond(&e.mu)

	e.mu.Lock()
	for i := 0; i < cfg.LowWatermark; i++ {
		e.spawnLocked()
	}
	e.mu.Unlock()
	return e
}

// State reports the executor's current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Workers reports the current live worker count (N).
func (e *Executor) Workers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workers
}

// QueueLen reports the number of tasks currently waiting for a worker.
func (e *Executor) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Stats returns a snapshot of the executor's lifetime counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Execute submits task for asynchronous execution. It returns ErrStopped if
// the executor is not in Run state, and ErrQueueFull if the bounded queue
// is already at capacity. A spare worker above the low watermark is spawned
// when none are idle and the high watermark has not been reached.
func (e *Executor) Execute(task Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Run {
		e.stats.Rejected++
		return ErrStopped
	}
	if len(e.queue) >= e.cfg.MaxQueue {
		e.stats.Rejected++
		return ErrQueueFull
	}

	e.queue = append(e.queue, task)
	if e.idle == 0 && e.workers < e.cfg.HighWatermark {
		e.spawnLocked()
	}
	e.workAvailable.Signal()
	return nil
}

// spawnLocked starts one worker goroutine. Caller holds e.mu.
func (e *Executor) spawnLocked() {
	e.workers++
	e.idle++
	e.stats.Spawned++
	go e.runWorker()
}

// Stop transitions the executor to Stopping, waking all workers so they
// drain the queue and exit. If await is true, Stop blocks until every
// worker has exited.
func (e *Executor) Stop(await bool) {
	e.mu.Lock()
	if e.state == Run {
		e.state = Stopping
		e.workAvailable.Broadcast()
	}
	if e.workers == 0 {
		e.state = Stopped
	}
	for await && e.state != Stopped {
		e.stopped.Wait()
	}
	e.mu.Unlock()
}

// Close is equivalent to Stop(true), provided for io.Closer-style teardown.
func (e *Executor) Close() error {
	e.Stop(true)
	return nil
}

func (e *Executor) runWorker() {
	for {
		e.mu.Lock()
		task, ok := e.waitForTaskLocked()
		if !ok {
			e.retireLocked()
			return
		}
		e.idle--
		e.mu.Unlock()

		e.runTask(task)

		e.mu.Lock()
		e.idle++
		e.mu.Unlock()
	}
}

// waitForTaskLocked blocks until a task is available, the worker should
// retire due to idleness, or the executor is stopping. Caller holds e.mu;
// returns with e.mu still held.
func (e *Executor) waitForTaskLocked() (task Task, ok bool) {
	for {
		if n := len(e.queue); n > 0 {
			task, e.queue[0] = e.queue[0], nil
			e.queue = e.queue[1:]
			return task, true
		}

		if e.state == Stopping {
			return nil, false
		}

		if e.cfg.IdleTimeout <= 0 || e.workers <= e.cfg.LowWatermark {
			e.workAvailable.Wait()
			continue
		}

		var fired atomic.Bool
		timer := time.AfterFunc(e.cfg.IdleTimeout, func() {
			e.mu.Lock()
			fired.Store(true)
			e.workAvailable.Broadcast()
			e.mu.Unlock()
		})
		e.workAvailable.Wait()
		timer.Stop()

		if len(e.queue) == 0 && e.state == Run && fired.Load() && e.workers > e.cfg.LowWatermark {
			return nil, false
		}
	}
}

// retireLocked removes this worker from the live/idle counts and, if it was
// the last worker during Stopping, finalizes the Stopped transition. Caller
// holds e.mu.
func (e *Executor) retireLocked() {
	e.workers--
	e.idle--
	e.stats.Reaped++
	if e.workers == 0 && e.state == Stopping {
		e.state = Stopped
		e.stopped.Broadcast()
	}
	e.mu.Unlock()
}

func (e *Executor) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			e.stats.Panics++
			e.mu.Unlock()
			if e.cfg.OnPanic != nil {
				e.cfg.OnPanic(r)
			}
		}
	}()
	task()
	e.mu.Lock()
	e.stats.Executed++
	e.mu.Unlock()
}
