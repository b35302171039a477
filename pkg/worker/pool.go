package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/godispatch/pkg/queue"
	"github.com/jzx17/godispatch/pkg/retry"
	"github.com/jzx17/godispatch/pkg/types"
)

// Pool errors
var (
	// ErrPoolRunning is returned by Start on a pool that was already started
	ErrPoolRunning = errors.New("worker pool is already started")

	// ErrPoolNotRunning is returned by Grow before Start or after Stop
	ErrPoolNotRunning = errors.New("worker pool is not running")

	// ErrUnknownWorker is returned by Cancel for a name the pool does not own
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrWorkerFinished is returned by Cancel for a worker whose loop has ended
	ErrWorkerFinished = errors.New("worker already finished")

	// ErrPoolIdle is returned by Grow once every worker has ended
	ErrPoolIdle = errors.New("worker pool has no live workers")
)

// CrashPolicy decides what happens to the task held by a cancelled worker
type CrashPolicy int

const (
	// CrashRequeue returns the task to the queue (at-least-once)
	CrashRequeue CrashPolicy = iota
	// CrashDrop releases the queue slot and counts the task as lost
	CrashDrop
)

// String returns the string representation of CrashPolicy
func (c CrashPolicy) String() string {
	switch c {
	case CrashRequeue:
		return "requeue"
	case CrashDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// ParseCrashPolicy parses "requeue" or "drop"
func ParseCrashPolicy(s string) (CrashPolicy, error) {
	switch s {
	case "", "requeue":
		return CrashRequeue, nil
	case "drop":
		return CrashDrop, nil
	default:
		return 0, fmt.Errorf("unknown crash policy %q", s)
	}
}

// Recorder receives the wall-clock duration of every execution attempt
type Recorder interface {
	Record(d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) Record(time.Duration) {}

// PoolConfig defines configuration for a worker pool
type PoolConfig struct {
	// Workers is the number of workers launched by Start
	Workers int

	// Park keeps workers waiting until the queue drains instead of
	// exiting on the first empty dequeue. CrashRequeue pools wait for
	// held tasks either way.
	Park bool

	// CrashPolicy applies to the task held by a cancelled worker
	CrashPolicy CrashPolicy

	// Policy is the retry policy; nil means retry.DefaultPolicy()
	Policy *retry.Policy
}

// DefaultPoolConfig returns default configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:     4,
		CrashPolicy: CrashRequeue,
		Policy:      retry.DefaultPolicy(),
	}
}

// PoolOption configures optional pool collaborators
type PoolOption func(*Pool)

// WithClock sets the clock used to time executions
func WithClock(clock types.Clock) PoolOption {
	return func(p *Pool) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithRecorder sets the duration sink, usually a *metrics.Collector
func WithRecorder(r Recorder) PoolOption {
	return func(p *Pool) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithObserver adds outcome observers
func WithObserver(obs ...types.Observer) PoolOption {
	return func(p *Pool) {
		for _, o := range obs {
			if o != nil {
				p.observers = append(p.observers, o)
			}
		}
	}
}

const (
	poolCreated int32 = iota
	poolRunning
	poolStopped
)

// Pool owns a set of workers draining one queue
type Pool struct {
	cfg       PoolConfig
	q         *queue.Queue
	fn        types.ExecuteFunc
	clock     types.Clock
	recorder  Recorder
	observers []types.Observer
	state     *RunState

	status int32
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards live together with wg.Add, so Grow never adds to a
	// WaitGroup that Join has already seen reach zero
	mu      sync.RWMutex
	workers []*Worker
	byName  map[string]*Worker
	live    int
}

// NewPool creates a pool bound to q that runs fn for every task
func NewPool(q *queue.Queue, fn types.ExecuteFunc, cfg PoolConfig, opts ...PoolOption) (*Pool, error) {
	if q == nil {
		return nil, errors.New("queue cannot be nil")
	}
	if fn == nil {
		return nil, types.ErrNoExecuteFunc
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", cfg.Workers)
	}
	if cfg.Policy == nil {
		cfg.Policy = retry.DefaultPolicy()
	}

	p := &Pool{
		cfg:      cfg,
		q:        q,
		fn:       fn,
		clock:    types.NewRealClock(),
		recorder: noopRecorder{},
		state:    newRunState(q),
		byName:   make(map[string]*Worker),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start launches the configured number of workers
func (p *Pool) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.status, poolCreated, poolRunning) {
		return ErrPoolRunning
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	p.mu.Lock()
	p.spawnLocked(p.cfg.Workers)
	p.mu.Unlock()
	return nil
}

// Grow adds n workers to a running pool. It fails with ErrPoolIdle once
// every worker has ended, since the run is over by then.
func (p *Pool) Grow(n int) error {
	if n <= 0 {
		return fmt.Errorf("grow count must be positive, got %d", n)
	}
	if atomic.LoadInt32(&p.status) != poolRunning {
		return ErrPoolNotRunning
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == 0 {
		return ErrPoolIdle
	}
	p.spawnLocked(n)
	return nil
}

func (p *Pool) spawnLocked(n int) {
	for i := 0; i < n; i++ {
		w := newWorker(p, len(p.workers))
		p.workers = append(p.workers, w)
		p.byName[w.name] = w

		p.live++
		p.wg.Add(1)
		go func() {
			defer p.exited()
			w.run()
		}()
	}
}

func (p *Pool) exited() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live--
	p.wg.Done()
}

// Join blocks until every worker has ended, naturally or by cancellation,
// and returns one result per worker in index order. Cancellation is
// reported per worker and never as an error.
func (p *Pool) Join() []WorkerResult {
	p.wg.Wait()
	return p.results()
}

// JoinContext is Join bounded by ctx. When ctx ends first, a goroutine
// stays blocked on the workers until they end; Stop the pool to release it.
func (p *Pool) JoinContext(ctx context.Context) ([]WorkerResult, error) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return p.results(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) results() []WorkerResult {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]WorkerResult, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Result()
	}
	return out
}

// Cancel forcibly stops one worker. The task it holds, if any, is settled
// by the crash policy; siblings and the queue are unaffected.
func (p *Pool) Cancel(name string) error {
	w, ok := p.Worker(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}
	select {
	case <-w.done:
		return fmt.Errorf("%w: %s", ErrWorkerFinished, name)
	default:
	}
	w.cancel()
	return nil
}

// Stop cancels every worker and waits for them to end
func (p *Pool) Stop() []WorkerResult {
	if atomic.CompareAndSwapInt32(&p.status, poolRunning, poolStopped) {
		p.cancel()
	}
	return p.Join()
}

// Worker looks a worker up by name
func (p *Pool) Worker(name string) (*Worker, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.byName[name]
	return w, ok
}

// Workers returns the workers in index order
func (p *Pool) Workers() []*Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// Size returns the number of workers ever started
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// Active returns the number of workers whose loop has not ended
func (p *Pool) Active() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, w := range p.workers {
		if !w.Status().IsFinal() {
			n++
		}
	}
	return n
}

// Queue returns the queue the pool drains
func (p *Pool) Queue() *queue.Queue {
	return p.q
}

// Config returns the pool configuration
func (p *Pool) Config() PoolConfig {
	return p.cfg
}

// RunState returns a snapshot of the run counters
func (p *Pool) RunState() RunStats {
	return p.state.Snapshot()
}

func (p *Pool) emit(ev types.Event) {
	for _, o := range p.observers {
		o.Observe(ev)
	}
}
