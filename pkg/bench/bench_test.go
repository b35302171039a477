package bench

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/godispatch/internal/testutils"
	"github.com/jzx17/godispatch/pkg/metrics"
	"github.com/jzx17/godispatch/pkg/retry"
	"github.com/jzx17/godispatch/pkg/types"
	"github.com/jzx17/godispatch/pkg/worker"
)

func TestSimulatedWork_Latency(t *testing.T) {
	work := NewSimulatedWork(5*time.Millisecond, 10*time.Millisecond, WithSeed(1))
	ctx := testutils.Context(t, time.Second)

	for i := 0; i < 5; i++ {
		start := time.Now()
		require.NoError(t, work.Execute(ctx, types.Task{ID: int64(i)}))
		assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	}
}

func TestSimulatedWork_MockClock(t *testing.T) {
	mock := testutils.NewMockClock(t)
	ctx := testutils.Context(t, 5*time.Second)
	work := NewSimulatedWork(time.Second, time.Second, WithWorkClock(testutils.NewClockWrapper(mock)))

	done := make(chan error, 1)
	go func() { done <- work.Execute(ctx, types.Task{ID: 1}) }()

	// the timer is created on the goroutine; wait until it exists
	require.Eventually(t, func() bool {
		_, ok := mock.Peek()
		return ok
	}, time.Second, time.Millisecond)

	select {
	case <-done:
		t.Fatal("returned before the latency elapsed")
	default:
	}
	testutils.Advance(ctx, mock, time.Second)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("simulated work did not finish")
	}
}

func TestSimulatedWork_Failures(t *testing.T) {
	ctx := context.Background()

	always := NewSimulatedWork(0, 0, WithFailureRate(2))
	err := always.Execute(ctx, types.Task{ID: 1})
	assert.True(t, types.IsTransient(err))

	never := NewSimulatedWork(0, 0, WithFailureRate(-1))
	assert.NoError(t, never.Execute(ctx, types.Task{ID: 1}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	slow := NewSimulatedWork(time.Hour, time.Hour)
	assert.ErrorIs(t, slow.Execute(cancelled, types.Task{ID: 1}), context.Canceled)
}

func TestRun_Conservation(t *testing.T) {
	rec := &testutils.Recorder{}
	res, err := Run(context.Background(), RunConfig{
		Workers: 4,
		Tasks:   50,
		Execute: NewSimulatedWork(0, time.Millisecond, WithSeed(7)).Execute,
	}, WithObservers(rec))
	require.NoError(t, err)

	assert.Equal(t, int64(50), res.Stats.Completed)
	assert.True(t, res.Stats.Conserved())
	assert.True(t, res.Stats.Drained())
	assert.Equal(t, 50, res.Summary.Samples)
	assert.Greater(t, res.Summary.Throughput, 0.0)
	assert.Len(t, res.Results, 4)
	assert.Equal(t, 50, rec.Count(types.OutcomeCompleted))
}

func TestRun_FailureRate(t *testing.T) {
	res, err := Run(context.Background(), RunConfig{
		Workers: 4,
		Tasks:   100,
		Execute: NewSimulatedWork(0, 0, WithSeed(3), WithFailureRate(0.3)).Execute,
		Policy:  retry.NewPolicy(2),
	})
	require.NoError(t, err)

	stats := res.Stats
	assert.Equal(t, int64(100), stats.Terminal())
	assert.Greater(t, stats.Retries, int64(0))
	assert.Equal(t, stats.Attempts, int64(res.Summary.Samples))
	assert.True(t, stats.Conserved())
}

func TestRun_Validation(t *testing.T) {
	_, err := Run(context.Background(), RunConfig{Workers: 1, Tasks: 0, Execute: func(context.Context, types.Task) error { return nil }})
	assert.Error(t, err)

	_, err = Run(context.Background(), RunConfig{Workers: 1, Tasks: 1})
	assert.ErrorIs(t, err, types.ErrNoExecuteFunc)

	_, err = Run(context.Background(), RunConfig{Workers: 0, Tasks: 1, Execute: func(context.Context, types.Task) error { return nil }})
	assert.Error(t, err)
}

func TestLine_String(t *testing.T) {
	l := Line{
		Workers:    10,
		Tasks:      100,
		Elapsed:    1234500 * time.Microsecond,
		Throughput: 81.0,
		AvgLatency: 95 * time.Millisecond,
		Speedup:    8.1,
	}
	assert.Equal(t,
		"workers=10 total_tasks=100 elapsed_seconds=1.2345 throughput_tasks_per_sec=81.00 avg_latency_seconds=0.0950 speedup_multiplier=8.10",
		l.String())

	baseline := metrics.Summary{Tasks: 100, Throughput: 10}
	line := NewLine(5, metrics.Summary{Tasks: 100, Throughput: 45, Elapsed: time.Second}, baseline)
	assert.InDelta(t, 4.5, line.Speedup, 1e-9)

	out := FormatLines([]Line{l, line})
	assert.Len(t, strings.Split(out, "\n"), 2)
}

func TestScale_Validation(t *testing.T) {
	_, err := Scale(context.Background(), RunConfig{Tasks: 1}, nil)
	assert.Error(t, err)
}

func TestScale_ThroughputMonotonic(t *testing.T) {
	if testing.Short() {
		t.Skip("scaling benchmark takes several seconds")
	}

	work := NewSimulatedWork(40*time.Millisecond, 150*time.Millisecond, WithSeed(42))
	lines, err := Scale(context.Background(), RunConfig{Tasks: 100, Execute: work.Execute}, []int{1, 5, 10})
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.InDelta(t, 1.0, lines[0].Speedup, 1e-9)
	assert.Greater(t, lines[1].Throughput, lines[0].Throughput)
	assert.Greater(t, lines[2].Throughput, lines[1].Throughput)
	assert.Greater(t, lines[2].Speedup, lines[1].Speedup)
	for _, l := range lines {
		assert.Equal(t, 100, l.Tasks)
		assert.InDelta(t, 0.095, l.AvgLatency.Seconds(), 0.02)
	}
}

func TestRunChaos_Scenario(t *testing.T) {
	for _, policy := range []worker.CrashPolicy{worker.CrashRequeue, worker.CrashDrop} {
		t.Run(policy.String(), func(t *testing.T) {
			cfg := DefaultChaosConfig()
			cfg.CrashPolicy = policy
			cfg.Execute = NewSimulatedWork(40*time.Millisecond, 150*time.Millisecond, WithSeed(6)).Execute

			ctx := testutils.Context(t, 10*time.Second)
			res, err := RunChaos(ctx, cfg)
			require.NoError(t, err, "the run terminates")
			require.NoError(t, res.CrashErr)

			report := res.Report
			stats := report.Stats
			require.Len(t, report.Casualties, 1)
			casualty := report.Casualties[0]
			assert.Equal(t, "worker-0", casualty.Worker)
			assert.True(t, report.Progressed)
			assert.True(t, report.Conserved, report.String())
			assert.LessOrEqual(t, stats.Completed+stats.PermanentlyFailed, int64(20))
			assert.Equal(t, int64(20), stats.Terminal())

			switch policy {
			case worker.CrashRequeue:
				assert.Zero(t, report.Lost)
				assert.Equal(t, int64(20), stats.Completed)
				assert.True(t, report.Recovered())
			case worker.CrashDrop:
				mid := casualty.TaskID >= 0
				if mid {
					assert.Equal(t, int64(1), report.Lost)
					assert.Equal(t, worker.DispositionLost, casualty.Disposition)
				} else {
					assert.Zero(t, report.Lost)
				}
				assert.Equal(t, int64(20)-report.Lost, stats.Completed)
			}
		})
	}
}

func TestRunChaos_Outage(t *testing.T) {
	cfg := DefaultChaosConfig()
	cfg.Tasks = 6
	cfg.CrashAt = time.Hour
	cfg.OutageTasks = []int64{2, 4}
	cfg.Execute = func(context.Context, types.Task) error { return nil }

	res, err := RunChaos(context.Background(), cfg)
	require.NoError(t, err)

	assert.ErrorIs(t, res.CrashErr, context.Canceled, "run drained before the crash was due")
	assert.Empty(t, res.Report.Casualties)
	assert.Equal(t, int64(6), res.Report.Stats.Completed)
	assert.Equal(t, int64(2), res.Report.Stats.Retries)
}

func TestRunChaos_Validation(t *testing.T) {
	cfg := DefaultChaosConfig()
	cfg.Execute = func(context.Context, types.Task) error { return nil }
	cfg.CrashWorker = 3
	_, err := RunChaos(context.Background(), cfg)
	assert.Error(t, err)
}
