// Package bench drives the dispatch engine for scaling benchmarks and crash
// scenarios, and formats their report lines
package bench

import (
	"context"
	"fmt"

	"github.com/jzx17/godispatch/pkg/metrics"
	"github.com/jzx17/godispatch/pkg/queue"
	"github.com/jzx17/godispatch/pkg/retry"
	"github.com/jzx17/godispatch/pkg/types"
	"github.com/jzx17/godispatch/pkg/worker"
)

// RunConfig describes one benchmark run
type RunConfig struct {
	Workers     int
	Tasks       int
	Execute     types.ExecuteFunc
	Policy      *retry.Policy
	Park        bool
	CrashPolicy worker.CrashPolicy
}

// Result is the outcome of one run
type Result struct {
	Workers int
	Tasks   int
	Summary metrics.Summary
	Stats   worker.RunStats
	Results []worker.WorkerResult
}

// Option configures the driver
type Option func(*options)

type options struct {
	clock     types.Clock
	observers []types.Observer
	onStart   func(*worker.Pool)
}

// WithClock sets the clock used for elapsed time, timers and the pool
func WithClock(clock types.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithObservers adds outcome observers to every pool the driver builds
func WithObservers(obs ...types.Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs...)
	}
}

func withStartHook(fn func(*worker.Pool)) Option {
	return func(o *options) {
		o.onStart = fn
	}
}

func applyOptions(opts []Option) options {
	o := options{clock: types.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Run seeds a fresh queue with cfg.Tasks tasks, drains it with cfg.Workers
// workers and summarizes the run
func Run(ctx context.Context, cfg RunConfig, opts ...Option) (Result, error) {
	if cfg.Tasks <= 0 {
		return Result{}, fmt.Errorf("task count must be positive, got %d", cfg.Tasks)
	}
	if cfg.Execute == nil {
		return Result{}, types.ErrNoExecuteFunc
	}
	o := applyOptions(opts)

	q := queue.New(queue.WithClock(o.clock))
	for i := 0; i < cfg.Tasks; i++ {
		if _, err := q.Push(i); err != nil {
			return Result{}, fmt.Errorf("seed task %d: %w", i, err)
		}
	}

	collector := metrics.NewCollector()
	pool, err := worker.NewPool(q, cfg.Execute, worker.PoolConfig{
		Workers:     cfg.Workers,
		Park:        cfg.Park,
		CrashPolicy: cfg.CrashPolicy,
		Policy:      cfg.Policy,
	},
		worker.WithClock(o.clock),
		worker.WithRecorder(collector),
		worker.WithObserver(o.observers...),
	)
	if err != nil {
		return Result{}, err
	}

	start := o.clock.Now()
	if err := pool.Start(ctx); err != nil {
		return Result{}, err
	}
	if o.onStart != nil {
		o.onStart(pool)
	}
	results := pool.Join()
	elapsed := o.clock.Since(start)

	return Result{
		Workers: cfg.Workers,
		Tasks:   cfg.Tasks,
		Summary: collector.Summarize(cfg.Tasks, elapsed),
		Stats:   pool.RunState(),
		Results: results,
	}, nil
}
