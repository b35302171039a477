// Package types defines the core task, outcome and clock types shared by the dispatch engine
package types

import (
	"context"
	"fmt"
	"time"
)

// TaskState defines the lifecycle state of a Task
type TaskState int32

const (
	// TaskPending means the task sits in the dispatch queue
	TaskPending TaskState = iota
	// TaskInFlight means a worker holds the task and is executing it
	TaskInFlight
	// TaskCompleted is terminal: the execution function succeeded
	TaskCompleted
	// TaskFailed is terminal: the retry budget is exhausted or the error was unclassified
	TaskFailed
	// TaskLost is terminal: the owning worker crashed and the task was dropped
	TaskLost
)

// String returns the string representation of TaskState
func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskInFlight:
		return "in_flight"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "permanently_failed"
	case TaskLost:
		return "lost"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition can happen
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskLost
}

// Task is one unit of work. It is a value type: workers receive copies, so
// an abandoned execution can never mutate the queue's copy.
type Task struct {
	// ID is unique within a run
	ID int64

	// Attempt counts execution attempts so far; the queue increments it on dequeue
	Attempt int

	// Payload is opaque to the engine
	Payload any
}

// NewTask creates a pending task with zero attempts
func NewTask(id int64, payload any) Task {
	return Task{ID: id, Payload: payload}
}

// String implements fmt.Stringer
func (t Task) String() string {
	return fmt.Sprintf("task-%d#%d", t.ID, t.Attempt)
}

// ExecuteFunc is the pluggable execution capability consumed by workers.
//
// A nil return is success. A *TransientError (anywhere in the chain) is a
// retryable failure. Any other error is treated as permanent.
type ExecuteFunc func(ctx context.Context, task Task) error

// OutcomeKind names what happened to a task after one execution attempt
type OutcomeKind int

const (
	// OutcomeCompleted is a successful execution
	OutcomeCompleted OutcomeKind = iota
	// OutcomeRequeued is a transient failure pushed back for retry
	OutcomeRequeued
	// OutcomeFailed is a permanent failure
	OutcomeFailed
	// OutcomeCancelled means the worker was cancelled while holding the task
	OutcomeCancelled
	// OutcomeLost means the task was dropped on a worker crash
	OutcomeLost
)

// String returns the string representation of OutcomeKind
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRequeued:
		return "requeued"
	case OutcomeFailed:
		return "permanently_failed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Event describes one task outcome observed by a worker
type Event struct {
	Worker   string
	Task     Task
	Outcome  OutcomeKind
	Err      error
	Duration time.Duration
	// Delay is the retry delay for a requeued task
	Delay time.Duration
	// Crashed is set when the worker was cancelled while holding the task
	Crashed bool
}

// Observer receives task outcome events. Implementations must return
// quickly; they run on the worker goroutine.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(ev Event)

// Observe calls f(ev)
func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}
