package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/godispatch/internal/testutils"
	"github.com/jzx17/godispatch/pkg/metrics"
	"github.com/jzx17/godispatch/pkg/queue"
	"github.com/jzx17/godispatch/pkg/retry"
	"github.com/jzx17/godispatch/pkg/types"
)

func seed(t *testing.T, n int) *queue.Queue {
	t.Helper()
	q := queue.New()
	for i := 0; i < n; i++ {
		_, err := q.Push(i)
		require.NoError(t, err)
	}
	return q
}

func succeed(context.Context, types.Task) error { return nil }

func TestNewPool(t *testing.T) {
	q := queue.New()

	tests := []struct {
		name        string
		queue       *queue.Queue
		fn          types.ExecuteFunc
		config      PoolConfig
		expectError bool
	}{
		{
			name:   "valid config",
			queue:  q,
			fn:     succeed,
			config: PoolConfig{Workers: 3},
		},
		{
			name:        "nil queue",
			fn:          succeed,
			config:      PoolConfig{Workers: 3},
			expectError: true,
		},
		{
			name:        "nil execute func",
			queue:       q,
			config:      PoolConfig{Workers: 3},
			expectError: true,
		},
		{
			name:        "zero workers",
			queue:       q,
			fn:          succeed,
			config:      PoolConfig{Workers: 0},
			expectError: true,
		},
		{
			name:        "negative workers",
			queue:       q,
			fn:          succeed,
			config:      PoolConfig{Workers: -2},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := NewPool(tt.queue, tt.fn, tt.config)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, pool)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, retry.DefaultMaxAttempts, pool.Config().Policy.MaxAttempts(), "nil policy uses default")
			assert.Equal(t, 0, pool.Size(), "workers are created on Start")
		})
	}
}

func TestPool_StartTwice(t *testing.T) {
	pool, err := NewPool(seed(t, 1), succeed, PoolConfig{Workers: 1})
	require.NoError(t, err)

	assert.ErrorIs(t, pool.Grow(1), ErrPoolNotRunning)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolRunning)
	pool.Join()
}

func TestPool_Conservation(t *testing.T) {
	const n = 200
	q := seed(t, n)
	collector := metrics.NewCollector()
	rec := &testutils.Recorder{}

	pool, err := NewPool(q, succeed, PoolConfig{Workers: 8},
		WithRecorder(collector), WithObserver(rec))
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	results := pool.Join()
	require.Len(t, results, 8)

	stats := pool.RunState()
	assert.Equal(t, int64(n), stats.Completed)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.InFlight)
	assert.Zero(t, stats.PermanentlyFailed)
	assert.True(t, stats.Conserved(), stats.String())
	assert.True(t, stats.Drained())
	assert.Equal(t, n, collector.Count(), "one duration per attempt")
	assert.Equal(t, n, rec.Count(types.OutcomeCompleted))
	assert.Zero(t, q.Unfinished())

	var processed int64
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, StatusStopped, r.Status)
		assert.False(t, r.Crashed)
		// a worker that found the queue empty while siblings still held
		// tasks waits for them and ends on ErrDrained
		assert.True(t, errors.Is(r.Err, queue.ErrEmpty) || errors.Is(r.Err, queue.ErrDrained), r.Err)
		processed += r.Processed
	}
	assert.Equal(t, int64(n), processed)
}

func TestPool_RetryLiveness(t *testing.T) {
	const flaky = int64(3)
	var failures int32

	fn := func(_ context.Context, task types.Task) error {
		if task.ID == flaky && atomic.AddInt32(&failures, 1) == 1 {
			return types.Transient(types.ErrConnection)
		}
		return nil
	}

	rec := &testutils.Recorder{}
	pool, err := NewPool(seed(t, 10), fn, PoolConfig{Workers: 3, Policy: retry.NewPolicy(2)}, WithObserver(rec))
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	pool.Join()

	stats := pool.RunState()
	assert.Equal(t, int64(10), stats.Completed)
	assert.Zero(t, stats.PermanentlyFailed)
	assert.Equal(t, int64(1), stats.Retries)
	assert.Equal(t, int64(11), stats.Attempts)

	events := rec.ForTask(flaky)
	require.Len(t, events, 2)
	assert.Equal(t, types.OutcomeRequeued, events[0].Outcome)
	assert.Equal(t, types.OutcomeCompleted, events[1].Outcome)
	assert.Equal(t, 2, events[1].Task.Attempt)
}

func TestPool_RetryExhaustion(t *testing.T) {
	for _, k := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("max_attempts=%d", k), func(t *testing.T) {
			fn := func(_ context.Context, task types.Task) error {
				if task.ID == 1 {
					return types.Transient(types.ErrConnection)
				}
				return nil
			}

			rec := &testutils.Recorder{}
			pool, err := NewPool(seed(t, 4), fn, PoolConfig{Workers: 2, Policy: retry.NewPolicy(k)}, WithObserver(rec))
			require.NoError(t, err)
			require.NoError(t, pool.Start(context.Background()))
			pool.Join()

			stats := pool.RunState()
			assert.Equal(t, int64(3), stats.Completed)
			assert.Equal(t, int64(1), stats.PermanentlyFailed)
			assert.Equal(t, int64(k-1), stats.Retries)
			assert.True(t, stats.Conserved(), stats.String())

			events := rec.ForTask(1)
			require.Len(t, events, k)
			last := events[k-1]
			assert.Equal(t, types.OutcomeFailed, last.Outcome)
			assert.Equal(t, k, last.Task.Attempt)
			assert.True(t, types.IsTransient(last.Err))
		})
	}
}

func TestPool_DelayedRetry(t *testing.T) {
	var failed int32
	fn := func(_ context.Context, task types.Task) error {
		if atomic.CompareAndSwapInt32(&failed, 0, 1) {
			return types.Transient(types.ErrConnection)
		}
		return nil
	}

	policy := retry.NewPolicy(3, retry.WithBackoff(retry.NewFixedBackoff(20*time.Millisecond)))
	rec := &testutils.Recorder{}
	pool, err := NewPool(seed(t, 1), fn, PoolConfig{Workers: 2, Policy: policy}, WithObserver(rec))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, pool.Start(context.Background()))
	pool.Join()

	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.Equal(t, int64(1), pool.RunState().Completed)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, 20*time.Millisecond, events[0].Delay)
}

func TestPool_UnclassifiedErrorFailsFast(t *testing.T) {
	boom := errors.New("boom")
	fn := func(_ context.Context, task types.Task) error {
		if task.ID == 2 {
			return boom
		}
		return nil
	}

	rec := &testutils.Recorder{}
	pool, err := NewPool(seed(t, 3), fn, PoolConfig{Workers: 1, Policy: retry.NewPolicy(5)}, WithObserver(rec))
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	pool.Join()

	stats := pool.RunState()
	assert.Equal(t, int64(1), stats.PermanentlyFailed)
	assert.Zero(t, stats.Retries)

	events := rec.ForTask(2)
	require.Len(t, events, 1)
	assert.Equal(t, types.OutcomeFailed, events[0].Outcome)
	assert.Equal(t, 1, events[0].Task.Attempt)
	assert.ErrorIs(t, events[0].Err, boom)

	var te *types.TaskError
	require.ErrorAs(t, events[0].Err, &te)
	assert.Equal(t, "worker-0", te.Worker)
	assert.Equal(t, int64(2), te.TaskID)
}

func TestPool_PanicRecovery(t *testing.T) {
	fn := func(_ context.Context, task types.Task) error {
		if task.ID == 1 {
			panic("execution exploded")
		}
		return nil
	}

	rec := &testutils.Recorder{}
	pool, err := NewPool(seed(t, 3), fn, PoolConfig{Workers: 2}, WithObserver(rec))
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	pool.Join()

	stats := pool.RunState()
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(1), stats.PermanentlyFailed)

	events := rec.ForTask(1)
	require.Len(t, events, 1)

	var te *types.TaskError
	require.ErrorAs(t, events[0].Err, &te)
	assert.Contains(t, te.Error(), "execution exploded")
	assert.NotEmpty(t, te.Stack)
}

func TestPool_Grow(t *testing.T) {
	fn := func(ctx context.Context, _ types.Task) error {
		return types.Sleep(ctx, types.NewRealClock(), 2*time.Millisecond)
	}

	pool, err := NewPool(seed(t, 40), fn, PoolConfig{Workers: 1, Park: true})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Grow(2))
	assert.ErrorContains(t, pool.Grow(0), "positive")

	results := pool.Join()
	assert.Equal(t, 3, pool.Size())
	require.Len(t, results, 3)
	assert.Equal(t, "worker-2", results[2].Worker)

	var processed int64
	for _, r := range results {
		assert.Equal(t, StatusStopped, r.Status)
		assert.ErrorIs(t, r.Err, queue.ErrDrained)
		processed += r.Processed
	}
	assert.Equal(t, int64(40), processed)
	assert.Equal(t, int64(40), pool.RunState().Completed)
}

func TestPool_GrowAfterJoin(t *testing.T) {
	pool, err := NewPool(seed(t, 1), succeed, PoolConfig{Workers: 1})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	pool.Join()

	assert.ErrorIs(t, pool.Grow(1), ErrPoolIdle)
	assert.Equal(t, 1, pool.Size())

	pool.Stop()
	assert.ErrorIs(t, pool.Grow(1), ErrPoolNotRunning)
}

func TestPool_CancelErrors(t *testing.T) {
	pool, err := NewPool(seed(t, 1), succeed, PoolConfig{Workers: 1})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	pool.Join()

	assert.ErrorIs(t, pool.Cancel("worker-9"), ErrUnknownWorker)
	assert.ErrorIs(t, pool.Cancel("worker-0"), ErrWorkerFinished)
	assert.Zero(t, pool.Active())
}

// holdTask blocks task id's first attempt until release is closed, ignoring
// ctx, and signals started once it is held.
func holdTask(id int64, started chan<- struct{}, release <-chan struct{}) types.ExecuteFunc {
	var once sync.Once
	return func(_ context.Context, task types.Task) error {
		if task.ID == id && task.Attempt == 1 {
			once.Do(func() { close(started) })
			<-release
		}
		return nil
	}
}

func holder(t *testing.T, pool *Pool, id int64) string {
	t.Helper()
	var name string
	require.Eventually(t, func() bool {
		for _, w := range pool.Workers() {
			if task, ok := w.Current(); ok && task.ID == id {
				name = w.Name()
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	return name
}

func TestPool_CrashDrop(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	rec := &testutils.Recorder{}
	pool, err := NewPool(seed(t, 6), holdTask(1, started, release),
		PoolConfig{Workers: 3, CrashPolicy: CrashDrop}, WithObserver(rec))
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	testutils.WaitClosed(t, started, time.Second)
	name := holder(t, pool, 1)
	require.NoError(t, pool.Cancel(name))

	results := pool.Join()
	stats := pool.RunState()
	assert.Equal(t, int64(1), stats.Lost)
	assert.Equal(t, int64(5), stats.Completed)
	assert.Equal(t, int64(1), stats.Crashes)
	assert.True(t, stats.Conserved(), stats.String())
	assert.True(t, stats.Drained())

	var crashed []WorkerResult
	for _, r := range results {
		if r.Crashed {
			crashed = append(crashed, r)
		}
	}
	require.Len(t, crashed, 1)
	assert.Equal(t, name, crashed[0].Worker)
	assert.Equal(t, StatusCancelled, crashed[0].Status)
	assert.Equal(t, DispositionLost, crashed[0].Disposition)
	require.NotNil(t, crashed[0].InFlight)
	assert.Equal(t, int64(1), crashed[0].InFlight.ID)
	assert.ErrorIs(t, crashed[0].Err, context.Canceled)

	lost := rec.ForTask(1)
	require.Len(t, lost, 1)
	assert.Equal(t, types.OutcomeLost, lost[0].Outcome)
	assert.True(t, lost[0].Crashed)
}

func TestPool_CrashRequeue(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	rec := &testutils.Recorder{}
	pool, err := NewPool(seed(t, 6), holdTask(1, started, release),
		PoolConfig{Workers: 3, Park: true}, WithObserver(rec))
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	testutils.WaitClosed(t, started, time.Second)
	name := holder(t, pool, 1)
	require.NoError(t, pool.Cancel(name))

	results := pool.Join()
	stats := pool.RunState()
	assert.Zero(t, stats.Lost)
	assert.Equal(t, int64(6), stats.Completed)
	assert.Equal(t, int64(1), stats.Retries)
	assert.Equal(t, int64(1), stats.Crashes)
	assert.True(t, stats.Conserved(), stats.String())

	for _, r := range results {
		if r.Worker == name {
			assert.True(t, r.Crashed)
			assert.Equal(t, DispositionRequeued, r.Disposition)
			continue
		}
		assert.Equal(t, StatusStopped, r.Status)
	}

	events := rec.ForTask(1)
	require.Len(t, events, 2)
	assert.Equal(t, types.OutcomeCancelled, events[0].Outcome)
	assert.Equal(t, types.OutcomeCompleted, events[1].Outcome)
	assert.Equal(t, 2, events[1].Task.Attempt)
	assert.NotEqual(t, name, events[1].Worker, "a sibling finishes the recovered task")
}

func TestPool_CrashRequeueDefaultConfig(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	cfg := DefaultPoolConfig()
	cfg.Workers = 2
	require.False(t, cfg.Park)

	rec := &testutils.Recorder{}
	pool, err := NewPool(seed(t, 2), holdTask(1, started, release), cfg, WithObserver(rec))
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	testutils.WaitClosed(t, started, time.Second)
	name := holder(t, pool, 1)

	// the sibling finishes its own task and finds the queue empty
	require.Eventually(t, func() bool {
		return rec.Count(types.OutcomeCompleted) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, pool.Active(), "the sibling waits on the held task")

	require.NoError(t, pool.Cancel(name))
	results, err := pool.JoinContext(testutils.Context(t, time.Second))
	require.NoError(t, err)

	stats := pool.RunState()
	assert.Zero(t, stats.Lost)
	assert.Zero(t, stats.Pending)
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(1), stats.Retries)
	assert.True(t, stats.Conserved(), stats.String())
	assert.True(t, stats.Drained())

	for _, r := range results {
		if r.Worker == name {
			assert.Equal(t, DispositionRequeued, r.Disposition)
			continue
		}
		assert.Equal(t, StatusStopped, r.Status)
		assert.ErrorIs(t, r.Err, queue.ErrDrained)
	}

	events := rec.ForTask(1)
	require.Len(t, events, 2)
	assert.Equal(t, types.OutcomeCancelled, events[0].Outcome)
	assert.Equal(t, types.OutcomeCompleted, events[1].Outcome)
	assert.NotEqual(t, name, events[1].Worker)
}

func TestPool_CrashRequeueBudgetExhausted(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	pool, err := NewPool(seed(t, 2), holdTask(1, started, release),
		PoolConfig{Workers: 2, Park: true, Policy: retry.NewPolicy(1)})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	testutils.WaitClosed(t, started, time.Second)
	require.NoError(t, pool.Cancel(holder(t, pool, 1)))

	results := pool.Join()
	stats := pool.RunState()
	assert.Equal(t, int64(1), stats.PermanentlyFailed)
	assert.Equal(t, int64(1), stats.Completed)
	assert.True(t, stats.Conserved(), stats.String())

	var dispositions []Disposition
	for _, r := range results {
		if r.Crashed {
			dispositions = append(dispositions, r.Disposition)
		}
	}
	assert.Equal(t, []Disposition{DispositionFailed}, dispositions)
}

func TestPool_CancelIdleWorker(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	pool, err := NewPool(seed(t, 1), holdTask(1, started, release), PoolConfig{Workers: 2, Park: true})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	testutils.WaitClosed(t, started, time.Second)
	busy := holder(t, pool, 1)
	idle := "worker-0"
	if busy == idle {
		idle = "worker-1"
	}

	require.NoError(t, pool.Cancel(idle))
	w, ok := pool.Worker(idle)
	require.True(t, ok)
	testutils.WaitClosed(t, w.Done(), time.Second)

	close(release)
	results := pool.Join()

	for _, r := range results {
		if r.Worker == idle {
			assert.Equal(t, StatusCancelled, r.Status)
			assert.False(t, r.Crashed, "no task was held")
			assert.Equal(t, DispositionNone, r.Disposition)
			assert.Nil(t, r.InFlight)
		} else {
			assert.Equal(t, StatusStopped, r.Status)
		}
	}
	assert.Equal(t, int64(1), pool.RunState().Completed)
	assert.Zero(t, pool.RunState().Crashes)
}

func TestPool_StopKeepsHeldTaskRecoverable(t *testing.T) {
	var running int32
	fn := func(ctx context.Context, _ types.Task) error {
		atomic.AddInt32(&running, 1)
		<-ctx.Done()
		return ctx.Err()
	}

	q := seed(t, 3)
	pool, err := NewPool(q, fn, PoolConfig{Workers: 2, Park: true})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&running) == 2 }, time.Second, time.Millisecond)
	results := pool.Stop()

	stats := pool.RunState()
	assert.Equal(t, int64(2), stats.Crashes)
	assert.Equal(t, int64(3), stats.Pending, "held tasks went back to the queue")
	assert.Zero(t, stats.InFlight)
	assert.True(t, stats.Conserved(), stats.String())

	for _, r := range results {
		assert.Equal(t, StatusCancelled, r.Status)
		assert.True(t, r.Crashed)
		assert.Equal(t, DispositionRequeued, r.Disposition)
	}
}

func TestPool_JoinContext(t *testing.T) {
	release := make(chan struct{})
	fn := func(context.Context, types.Task) error {
		<-release
		return nil
	}

	pool, err := NewPool(seed(t, 1), fn, PoolConfig{Workers: 1})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.JoinContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, pool.Active(), "an expired wait leaves the workers running")

	close(release)
	results, err := pool.JoinContext(testutils.Context(t, time.Second))
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestParseCrashPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    CrashPolicy
		wantErr bool
	}{
		{in: "", want: CrashRequeue},
		{in: "requeue", want: CrashRequeue},
		{in: "drop", want: CrashDrop},
		{in: "explode", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCrashPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, must(ParseCrashPolicy(got.String())))
		})
	}
}

func must(p CrashPolicy, err error) CrashPolicy {
	if err != nil {
		panic(err)
	}
	return p
}
