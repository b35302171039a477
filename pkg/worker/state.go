package worker

import (
	"fmt"
	"sync/atomic"

	"github.com/jzx17/godispatch/pkg/queue"
)

// RunState holds the task counters of one run. The pool owns it; the queue
// supplies the pending and enqueued figures.
type RunState struct {
	q *queue.Queue

	inFlight  int64
	completed int64
	failed    int64
	lost      int64
	retries   int64
	attempts  int64
	crashes   int64
}

func newRunState(q *queue.Queue) *RunState {
	return &RunState{q: q}
}

func (s *RunState) begin() {
	atomic.AddInt64(&s.attempts, 1)
	atomic.AddInt64(&s.inFlight, 1)
}

func (s *RunState) complete() {
	atomic.AddInt64(&s.completed, 1)
	atomic.AddInt64(&s.inFlight, -1)
}

func (s *RunState) fail() {
	atomic.AddInt64(&s.failed, 1)
	atomic.AddInt64(&s.inFlight, -1)
}

func (s *RunState) lose() {
	atomic.AddInt64(&s.lost, 1)
	atomic.AddInt64(&s.inFlight, -1)
}

func (s *RunState) requeue() {
	atomic.AddInt64(&s.retries, 1)
	atomic.AddInt64(&s.inFlight, -1)
}

func (s *RunState) crash() {
	atomic.AddInt64(&s.crashes, 1)
}

// Snapshot returns the current counters. The figures are exact once the
// pool has been joined; during a run they may be momentarily skewed by one
// transition.
func (s *RunState) Snapshot() RunStats {
	return RunStats{
		Enqueued:          s.q.Enqueued(),
		Pending:           int64(s.q.Len()),
		InFlight:          atomic.LoadInt64(&s.inFlight),
		Completed:         atomic.LoadInt64(&s.completed),
		PermanentlyFailed: atomic.LoadInt64(&s.failed),
		Lost:              atomic.LoadInt64(&s.lost),
		Retries:           atomic.LoadInt64(&s.retries),
		Attempts:          atomic.LoadInt64(&s.attempts),
		Crashes:           atomic.LoadInt64(&s.crashes),
	}
}

// RunStats is a point-in-time copy of RunState
type RunStats struct {
	// Enqueued counts distinct task identities
	Enqueued int64

	Pending           int64
	InFlight          int64
	Completed         int64
	PermanentlyFailed int64
	Lost              int64

	// Retries counts requeues, including crash recoveries
	Retries int64

	// Attempts counts executions started
	Attempts int64

	// Crashes counts workers cancelled while holding a task
	Crashes int64
}

// Terminal returns completed + permanently failed + lost
func (s RunStats) Terminal() int64 {
	return s.Completed + s.PermanentlyFailed + s.Lost
}

// Conserved reports whether every enqueued task is accounted for exactly once
func (s RunStats) Conserved() bool {
	return s.Pending+s.InFlight+s.Terminal() == s.Enqueued
}

// Drained reports whether nothing is pending or in flight
func (s RunStats) Drained() bool {
	return s.Pending == 0 && s.InFlight == 0
}

// String implements fmt.Stringer
func (s RunStats) String() string {
	return fmt.Sprintf("enqueued=%d pending=%d in_flight=%d completed=%d permanently_failed=%d lost=%d retries=%d attempts=%d",
		s.Enqueued, s.Pending, s.InFlight, s.Completed, s.PermanentlyFailed, s.Lost, s.Retries, s.Attempts)
}
