package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/godispatch/pkg/queue"
	"github.com/jzx17/godispatch/pkg/types"
)

// WorkerStatus defines the state of a Worker
type WorkerStatus int32

const (
	// StatusIdle represents a worker between tasks
	StatusIdle WorkerStatus = iota
	// StatusRunning represents a worker executing a task
	StatusRunning
	// StatusCancelled represents a worker that was forcibly stopped
	StatusCancelled
	// StatusStopped represents a worker that exited because the queue drained
	StatusStopped
)

// String returns the string representation of WorkerStatus
func (ws WorkerStatus) String() string {
	switch ws {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusCancelled:
		return "cancelled"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsFinal reports whether the worker loop has ended
func (ws WorkerStatus) IsFinal() bool {
	return ws == StatusCancelled || ws == StatusStopped
}

// Disposition records what happened to the task a cancelled worker held
type Disposition int

const (
	// DispositionNone means the worker held no task when it was cancelled
	DispositionNone Disposition = iota
	// DispositionRequeued means the task went back to the queue
	DispositionRequeued
	// DispositionFailed means the task had no attempts left
	DispositionFailed
	// DispositionLost means the task was dropped
	DispositionLost
)

// String returns the string representation of Disposition
func (d Disposition) String() string {
	switch d {
	case DispositionNone:
		return "none"
	case DispositionRequeued:
		return "requeued"
	case DispositionFailed:
		return "permanently_failed"
	case DispositionLost:
		return "lost"
	default:
		return "unknown"
	}
}

// WorkerResult is the per-worker outcome gathered by Join
type WorkerResult struct {
	Worker string
	Index  int
	Status WorkerStatus

	// Processed counts execution attempts this worker finished or abandoned
	Processed int64

	// Crashed is set when the worker was cancelled while holding a task
	Crashed bool

	// InFlight is the task held at the moment of the crash
	InFlight *types.Task

	// Disposition is what the crash policy did with InFlight
	Disposition Disposition

	// Err is why the loop ended; context.Canceled for a cancellation
	Err error
}

// Worker is one execution slot bound to a pool's queue
type Worker struct {
	index  int
	name   string
	status int32 // atomic WorkerStatus
	pool   *Pool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	processed int64

	mu      sync.Mutex
	current *types.Task
	result  WorkerResult
}

func newWorker(p *Pool, index int) *Worker {
	ctx, cancel := context.WithCancel(p.ctx)
	return &Worker{
		index:  index,
		name:   fmt.Sprintf("worker-%d", index),
		status: int32(StatusIdle),
		pool:   p,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Name returns the stable worker name
func (w *Worker) Name() string {
	return w.name
}

// Index returns the worker index within its pool
func (w *Worker) Index() int {
	return w.index
}

// Status returns the current worker status
func (w *Worker) Status() WorkerStatus {
	return WorkerStatus(atomic.LoadInt32(&w.status))
}

// Processed returns the number of attempts this worker has handled
func (w *Worker) Processed() int64 {
	return atomic.LoadInt64(&w.processed)
}

// Current returns the task the worker is executing, if any
func (w *Worker) Current() (types.Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return types.Task{}, false
	}
	return *w.current, true
}

// Done is closed when the worker loop has ended
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Result returns the final outcome; it is complete once Done is closed
func (w *Worker) Result() WorkerResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

func (w *Worker) setStatus(s WorkerStatus) {
	atomic.StoreInt32(&w.status, int32(s))
}

func (w *Worker) setCurrent(task *types.Task) {
	w.mu.Lock()
	w.current = task
	w.mu.Unlock()
}

// run is the worker loop
func (w *Worker) run() {
	defer close(w.done)
	defer w.cancel()

	for {
		task, err := w.next()
		if err != nil {
			w.finish(err)
			return
		}
		if crashed := w.process(task); crashed {
			return
		}
	}
}

// next fetches the next task. Without Park the worker only waits when
// delayed retries are outstanding, or under CrashRequeue while a sibling
// still holds a task that a crash could send back. Otherwise an empty
// queue ends the loop.
func (w *Worker) next() (types.Task, error) {
	if err := w.ctx.Err(); err != nil {
		return types.Task{}, err
	}

	q := w.pool.q
	if w.pool.cfg.Park {
		return q.Dequeue(w.ctx)
	}

	task, err := q.TryDequeue()
	switch {
	case errors.Is(err, queue.ErrNotReady):
		return q.Dequeue(w.ctx)
	case errors.Is(err, queue.ErrEmpty) && w.pool.cfg.CrashPolicy == CrashRequeue:
		// returns ErrDrained at once when nothing is outstanding
		return q.Dequeue(w.ctx)
	}
	return task, err
}

// finish records a loop exit that happened with no task held
func (w *Worker) finish(err error) {
	status := StatusStopped
	if types.IsContextError(err) {
		status = StatusCancelled
	}
	w.setStatus(status)

	w.mu.Lock()
	w.result = WorkerResult{
		Worker:    w.name,
		Index:     w.index,
		Status:    status,
		Processed: atomic.LoadInt64(&w.processed),
		Err:       err,
	}
	w.mu.Unlock()
}

// process runs one attempt and settles it. It reports whether the worker
// was cancelled mid-task, which ends the loop.
func (w *Worker) process(task types.Task) bool {
	p := w.pool

	w.setCurrent(&task)
	w.setStatus(StatusRunning)
	p.state.begin()

	start := p.clock.Now()
	crashed, err := w.execute(task)
	duration := p.clock.Since(start)

	atomic.AddInt64(&w.processed, 1)
	p.recorder.Record(duration)

	if crashed {
		w.settleCrash(task, err, duration)
		return true
	}

	ev := types.Event{Worker: w.name, Task: task, Err: err, Duration: duration}

	switch types.Classify(err) {
	case types.ClassSuccess:
		p.state.complete()
		ev.Outcome = types.OutcomeCompleted

	case types.ClassTransient:
		if p.cfg.Policy.ShouldRetry(err, task.Attempt) {
			ev.Delay = p.cfg.Policy.NextDelay(err, task.Attempt)
			p.state.requeue()
			ev.Outcome = types.OutcomeRequeued
		} else {
			p.state.fail()
			ev.Outcome = types.OutcomeFailed
		}

	default:
		var te *types.TaskError
		if !errors.As(err, &te) {
			ev.Err = types.NewTaskError(w.name, task, err)
		}
		p.state.fail()
		ev.Outcome = types.OutcomeFailed
	}

	w.setCurrent(nil)
	w.setStatus(StatusIdle)

	// observers see an outcome before the task can be picked up again
	p.emit(ev)
	if ev.Outcome == types.OutcomeRequeued {
		_ = p.q.Requeue(task, ev.Delay)
	}
	_ = p.q.MarkDone()
	return false
}

// execute invokes the execution function on its own goroutine so that a
// cancellation lands even when the function ignores its context. An
// abandoned call keeps running but its result is discarded.
func (w *Worker) execute(task types.Task) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- w.call(task)
	}()

	select {
	case err := <-done:
		if w.ctx.Err() != nil && types.IsContextError(err) {
			return true, w.ctx.Err()
		}
		return false, err
	case <-w.ctx.Done():
		select {
		case err := <-done:
			if !types.IsContextError(err) {
				return false, err
			}
		default:
		}
		return true, w.ctx.Err()
	}
}

// call runs the execution function with panic recovery support
func (w *Worker) call(task types.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			var buf [4096]byte
			n := runtime.Stack(buf[:], false)

			var cause error
			switch v := r.(type) {
			case error:
				cause = fmt.Errorf("panic: %w", v)
			default:
				cause = fmt.Errorf("panic: %v", v)
			}

			te := types.NewTaskError(w.name, task, cause)
			te.Stack = string(buf[:n])
			err = te
		}
	}()

	return w.pool.fn(w.ctx, task)
}

// settleCrash applies the pool's crash policy to the task held at cancellation
func (w *Worker) settleCrash(task types.Task, err error, duration time.Duration) {
	p := w.pool
	p.state.crash()

	ev := types.Event{
		Worker:   w.name,
		Task:     task,
		Err:      err,
		Duration: duration,
		Crashed:  true,
	}

	var disposition Disposition
	switch {
	case p.cfg.CrashPolicy == CrashDrop:
		p.state.lose()
		disposition = DispositionLost
		ev.Outcome = types.OutcomeLost
	case p.cfg.Policy.CanRetry(task.Attempt):
		p.state.requeue()
		disposition = DispositionRequeued
		ev.Outcome = types.OutcomeCancelled
	default:
		p.state.fail()
		disposition = DispositionFailed
		ev.Outcome = types.OutcomeFailed
	}

	held := task
	w.setStatus(StatusCancelled)
	w.mu.Lock()
	w.current = nil
	w.result = WorkerResult{
		Worker:      w.name,
		Index:       w.index,
		Status:      StatusCancelled,
		Processed:   atomic.LoadInt64(&w.processed),
		Crashed:     true,
		InFlight:    &held,
		Disposition: disposition,
		Err:         err,
	}
	w.mu.Unlock()

	p.emit(ev)
	if disposition == DispositionRequeued {
		_ = p.q.Requeue(task, 0)
	}
	// the slot is released on every path, including the lossy one
	_ = p.q.MarkDone()
}
