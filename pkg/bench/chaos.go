package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/jzx17/godispatch/pkg/chaos"
	"github.com/jzx17/godispatch/pkg/metrics"
	"github.com/jzx17/godispatch/pkg/retry"
	"github.com/jzx17/godispatch/pkg/types"
	"github.com/jzx17/godispatch/pkg/worker"
)

// ChaosConfig describes a crash scenario
type ChaosConfig struct {
	Tasks       int
	Workers     int
	CrashWorker int
	CrashAt     time.Duration
	CrashPolicy worker.CrashPolicy
	Policy      *retry.Policy
	Execute     types.ExecuteFunc

	// OutageTasks fail transiently once each
	OutageTasks []int64
}

// DefaultChaosConfig is 20 tasks on 3 workers with worker 0 crashed at 200ms
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		Tasks:       20,
		Workers:     3,
		CrashWorker: 0,
		CrashAt:     200 * time.Millisecond,
		CrashPolicy: worker.CrashRequeue,
	}
}

// ChaosResult is the outcome of a crash scenario
type ChaosResult struct {
	Report  chaos.Report
	Summary metrics.Summary

	// CrashErr is why the crash did not land, if it did not
	CrashErr error
}

// RunChaos runs the crash scenario. Under CrashRequeue the workers park so
// that a requeued task always finds a taker.
func RunChaos(ctx context.Context, cfg ChaosConfig, opts ...Option) (ChaosResult, error) {
	if cfg.Workers <= 0 || cfg.CrashWorker < 0 || cfg.CrashWorker >= cfg.Workers {
		return ChaosResult{}, fmt.Errorf("crash worker %d out of range for %d workers", cfg.CrashWorker, cfg.Workers)
	}
	if cfg.Execute == nil {
		return ChaosResult{}, types.ErrNoExecuteFunc
	}

	faults := chaos.NewFaultInjector()
	for _, id := range cfg.OutageTasks {
		faults.Outage(id, 1)
	}

	o := applyOptions(opts)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var crashed <-chan error
	hook := withStartHook(func(pool *worker.Pool) {
		ctrl := chaos.NewController(pool, chaos.WithClock(o.clock))
		crashed = ctrl.CrashAfter(runCtx, fmt.Sprintf("worker-%d", cfg.CrashWorker), cfg.CrashAt)
	})

	res, err := Run(runCtx, RunConfig{
		Workers:     cfg.Workers,
		Tasks:       cfg.Tasks,
		Execute:     faults.Wrap(cfg.Execute),
		Policy:      cfg.Policy,
		Park:        cfg.CrashPolicy == worker.CrashRequeue,
		CrashPolicy: cfg.CrashPolicy,
	}, append(opts, hook)...)
	if err != nil {
		return ChaosResult{}, err
	}

	// the run may drain before the crash is due
	cancel()
	out := ChaosResult{
		Report:  chaos.Verify(res.Results, res.Stats),
		Summary: res.Summary,
	}
	if crashed != nil {
		out.CrashErr = <-crashed
	}
	return out, nil
}
