package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jzx17/godispatch/internal/store"
	"github.com/jzx17/godispatch/pkg/bench"
)

var (
	benchTasks       int
	benchWorkers     []int
	benchMinLatency  time.Duration
	benchMaxLatency  time.Duration
	benchFailureRate float64
	benchSeed        int64
	benchMaxAttempts int
	benchSave        bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a scaling sequence and print one line per worker count",
	Long: `Run the same simulated workload once per worker count, in order.

The first worker count is the speedup baseline. Each task sleeps for a
uniform random duration between --min-latency and --max-latency. With
--failure-rate, that share of attempts fails transiently and is retried.

With --save, every line is written to the run store under one batch id.`,
	RunE: runBench,
}

func init() {
	f := benchCmd.Flags()
	f.IntVar(&benchTasks, "tasks", 100, "Tasks per run")
	f.IntSliceVar(&benchWorkers, "workers", []int{1, 5, 10}, "Worker counts, the first is the baseline")
	f.DurationVar(&benchMinLatency, "min-latency", 40*time.Millisecond, "Minimum simulated task latency")
	f.DurationVar(&benchMaxLatency, "max-latency", 150*time.Millisecond, "Maximum simulated task latency")
	f.Float64Var(&benchFailureRate, "failure-rate", 0, "Share of attempts that fail transiently")
	f.Int64Var(&benchSeed, "seed", 0, "Workload random seed, 0 for time-based")
	f.IntVar(&benchMaxAttempts, "max-attempts", 3, "Attempts per task before it is permanently failed")
	f.BoolVar(&benchSave, "save", false, "Save the lines to the run store")

	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, map[string]string{
		"bench.tasks":        "tasks",
		"bench.workers":      "workers",
		"bench.min_latency":  "min-latency",
		"bench.max_latency":  "max-latency",
		"bench.failure_rate": "failure-rate",
		"bench.seed":         "seed",
		"retry.max_attempts": "max-attempts",
	})
	if err != nil {
		return err
	}

	var st *store.SQLiteStore
	if benchSave {
		if st, err = a.openStore(); err != nil {
			return err
		}
		defer st.Close()
	}

	policy, err := a.cfg.Retry.Policy()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcomes := a.outcomes()
	lines, err := bench.Scale(ctx, bench.RunConfig{
		Tasks:   a.cfg.Bench.Tasks,
		Execute: a.workload().Execute,
		Policy:  policy,
	}, a.cfg.Bench.Workers, bench.WithObservers(outcomes))
	outcomes.Close()

	// partial sequences are still printed
	if len(lines) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), bench.FormatLines(lines))
	}
	if err != nil {
		return fmt.Errorf("scaling sequence: %w", err)
	}

	if st != nil {
		runs, err := saveLines(ctx, st, "bench", lines)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved batch=%s runs=%d\n", runs[0].BatchID, len(runs))
	}
	return nil
}

// saveLines stores lines under a fresh batch id
func saveLines(ctx context.Context, st store.Store, kind string, lines []bench.Line) ([]store.Run, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("nothing to save")
	}
	batch := store.NewID()
	runs := make([]store.Run, 0, len(lines))
	for _, line := range lines {
		run, err := st.SaveLine(ctx, batch, kind, line)
		if err != nil {
			return runs, fmt.Errorf("save run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
