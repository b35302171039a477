// Package queue provides the in-memory dispatch queue shared by workers
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jzx17/godispatch/pkg/types"
)

// Common errors returned by the Queue
var (
	// ErrEmpty means nothing is pending or waiting out a retry delay
	ErrEmpty = errors.New("dispatch queue is empty")

	// ErrNotReady means only delayed retries remain and none is due yet
	ErrNotReady = errors.New("no task is ready yet")

	// ErrDrained means nothing is pending, delayed or in flight
	ErrDrained = errors.New("dispatch queue is drained")

	// ErrQueueFull is returned by Enqueue on a bounded queue at capacity
	ErrQueueFull = errors.New("dispatch queue is full")

	// ErrQueueClosed is returned by Enqueue after Close
	ErrQueueClosed = errors.New("dispatch queue is closed")

	// ErrNegativeDone means MarkDone was called more often than tasks were handed out
	ErrNegativeDone = errors.New("MarkDone called more times than tasks dequeued")
)

// Option configures a Queue
type Option func(*Queue)

// WithCapacity bounds the number of pending tasks. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithClock sets the clock used for retry eligibility
func WithClock(clock types.Clock) Option {
	return func(q *Queue) {
		if clock != nil {
			q.clock = clock
		}
	}
}

// Queue is a concurrency-safe FIFO of pending tasks.
//
// The unfinished count rises on every Enqueue and Requeue and falls on every
// MarkDone, so it reaches zero exactly when nothing is pending, delayed or
// held by a worker.
type Queue struct {
	mu sync.Mutex

	clock    types.Clock
	capacity int

	ready   []types.Task
	delayed delayHeap
	seq     uint64

	unfinished int
	enqueued   int64
	nextID     int64
	closed     bool

	// changed is closed and replaced on every state change
	changed chan struct{}
}

// New creates an empty queue
func New(opts ...Option) *Queue {
	q := &Queue{
		clock:   types.NewRealClock(),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts a new task at the tail. It never blocks.
func (q *Queue) Enqueue(task types.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(task)
}

// Push assigns the next sequential id to payload and enqueues it
func (q *Queue) Push(payload any) (types.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task := types.NewTask(q.nextID+1, payload)
	if err := q.enqueueLocked(task); err != nil {
		return types.Task{}, err
	}
	return task, nil
}

// EnqueueWait inserts a new task, parking while a bounded queue is full
func (q *Queue) EnqueueWait(ctx context.Context, task types.Task) error {
	for {
		q.mu.Lock()
		err := q.enqueueLocked(task)
		changed := q.changed
		q.mu.Unlock()

		if !errors.Is(err, ErrQueueFull) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (q *Queue) enqueueLocked(task types.Task) error {
	if q.closed {
		return ErrQueueClosed
	}
	if q.capacity > 0 && q.pendingLocked() >= q.capacity {
		return fmt.Errorf("%w: capacity %d reached", ErrQueueFull, q.capacity)
	}

	task.Attempt = 0
	q.ready = append(q.ready, task)
	q.unfinished++
	q.enqueued++
	if task.ID > q.nextID {
		q.nextID = task.ID
	}
	q.broadcastLocked()
	return nil
}

// Requeue pushes a task back for another attempt. The task becomes eligible
// for dequeue once delay has elapsed. Retries bypass the capacity bound and
// are accepted after Close, so a task in flight is never refused.
func (q *Queue) Requeue(task types.Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if delay <= 0 {
		q.ready = append(q.ready, task)
	} else {
		q.seq++
		heap.Push(&q.delayed, delayedTask{
			task:    task,
			readyAt: q.clock.Now().Add(delay),
			seq:     q.seq,
		})
	}
	q.unfinished++
	q.broadcastLocked()
	return nil
}

// TryDequeue pops the head task without blocking and increments its attempt
// counter. It returns ErrNotReady when only delayed retries remain and
// ErrEmpty when there is nothing left to hand out.
func (q *Queue) TryDequeue() (types.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteLocked()
	if len(q.ready) > 0 {
		return q.popLocked(), nil
	}
	if q.delayed.Len() > 0 {
		return types.Task{}, ErrNotReady
	}
	return types.Task{}, ErrEmpty
}

// Dequeue parks until a task is eligible. It returns ErrDrained once nothing
// is pending, delayed or outstanding, and ctx.Err() when ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (types.Task, error) {
	for {
		q.mu.Lock()
		q.promoteLocked()
		if len(q.ready) > 0 {
			task := q.popLocked()
			q.mu.Unlock()
			return task, nil
		}
		if q.unfinished == 0 {
			q.mu.Unlock()
			return types.Task{}, ErrDrained
		}

		var wait time.Duration
		if q.delayed.Len() > 0 {
			wait = q.delayed[0].readyAt.Sub(q.clock.Now())
		}
		changed := q.changed
		q.mu.Unlock()

		if err := q.park(ctx, changed, wait); err != nil {
			return types.Task{}, err
		}
	}
}

// park blocks until the queue changes, wait elapses (when positive) or ctx is done
func (q *Queue) park(ctx context.Context, changed <-chan struct{}, wait time.Duration) error {
	if wait <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
			return nil
		}
	}

	timer := q.clock.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
	case <-timer.C():
	}
	return nil
}

// MarkDone releases the slot of one handed-out task. It must be called
// exactly once per dequeued task, after the task was completed, failed,
// dropped or requeued.
func (q *Queue) MarkDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unfinished <= 0 {
		return ErrNegativeDone
	}
	q.unfinished--
	q.broadcastLocked()
	return nil
}

// Wait blocks until the queue is drained or ctx is done
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.unfinished == 0 {
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Close rejects further Enqueue calls. Requeue keeps working.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.broadcastLocked()
	}
}

// IsClosed reports whether Close was called
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of pending tasks, ready or delayed
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

// Delayed returns the number of retries still waiting out their delay
func (q *Queue) Delayed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promoteLocked()
	return q.delayed.Len()
}

// Unfinished returns pending plus handed-out tasks not yet marked done
func (q *Queue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// Enqueued returns the number of distinct tasks ever enqueued; requeues are not counted
func (q *Queue) Enqueued() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueued
}

// Capacity returns the bound, or zero for an unbounded queue
func (q *Queue) Capacity() int {
	return q.capacity
}

func (q *Queue) pendingLocked() int {
	return len(q.ready) + q.delayed.Len()
}

func (q *Queue) popLocked() types.Task {
	task := q.ready[0]
	q.ready[0] = types.Task{}
	q.ready = q.ready[1:]
	if len(q.ready) == 0 {
		q.ready = nil
	}
	task.Attempt++
	q.broadcastLocked()
	return task
}

// promoteLocked moves due retries to the tail in eligibility order
func (q *Queue) promoteLocked() {
	if q.delayed.Len() == 0 {
		return
	}
	now := q.clock.Now()
	for q.delayed.Len() > 0 && !q.delayed[0].readyAt.After(now) {
		dt := heap.Pop(&q.delayed).(delayedTask)
		q.ready = append(q.ready, dt.task)
	}
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

type delayedTask struct {
	task    types.Task
	readyAt time.Time
	seq     uint64
}

// delayHeap orders retries by eligibility time, FIFO on ties
type delayHeap []delayedTask

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool {
	if h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].readyAt.Before(h[j].readyAt)
}

func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayHeap) Push(x any) {
	*h = append(*h, x.(delayedTask))
}

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
