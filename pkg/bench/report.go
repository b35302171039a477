package bench

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jzx17/godispatch/pkg/metrics"
)

// Line is one row of a scaling report
type Line struct {
	Workers    int
	Tasks      int
	Elapsed    time.Duration
	Throughput float64
	AvgLatency time.Duration

	// Speedup is throughput relative to the first configuration of the sequence
	Speedup float64
}

// String renders the line in the report format
func (l Line) String() string {
	return fmt.Sprintf("workers=%d total_tasks=%d elapsed_seconds=%.4f throughput_tasks_per_sec=%.2f avg_latency_seconds=%.4f speedup_multiplier=%.2f",
		l.Workers, l.Tasks, l.Elapsed.Seconds(), l.Throughput, l.AvgLatency.Seconds(), l.Speedup)
}

// NewLine builds a report line for summary against baseline
func NewLine(workers int, summary, baseline metrics.Summary) Line {
	return Line{
		Workers:    workers,
		Tasks:      summary.Tasks,
		Elapsed:    summary.Elapsed,
		Throughput: summary.Throughput,
		AvgLatency: summary.AvgLatency,
		Speedup:    metrics.Compare(baseline, summary),
	}
}

// FormatLines renders lines one per row
func FormatLines(lines []Line) string {
	rows := make([]string, len(lines))
	for i, l := range lines {
		rows[i] = l.String()
	}
	return strings.Join(rows, "\n")
}

// Scale runs cfg once per worker count, in order. The first count is the
// speedup baseline. cfg.Workers is ignored.
func Scale(ctx context.Context, cfg RunConfig, workerCounts []int, opts ...Option) ([]Line, error) {
	if len(workerCounts) == 0 {
		return nil, errors.New("at least one worker count is required")
	}

	lines := make([]Line, 0, len(workerCounts))
	var baseline metrics.Summary
	for i, n := range workerCounts {
		if err := ctx.Err(); err != nil {
			return lines, err
		}

		run := cfg
		run.Workers = n
		res, err := Run(ctx, run, opts...)
		if err != nil {
			return lines, fmt.Errorf("workers=%d: %w", n, err)
		}
		if i == 0 {
			baseline = res.Summary
		}
		lines = append(lines, NewLine(n, res.Summary, baseline))
	}
	return lines, nil
}
