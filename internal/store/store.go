// Package store persists benchmark report lines so scaling runs can be
// compared across invocations
package store

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jzx17/godispatch/pkg/bench"
)

// ErrNotFound is returned when a run or batch does not exist
var ErrNotFound = errors.New("run not found")

// Run is one saved report line
type Run struct {
	ID                string    `json:"id"`
	BatchID           string    `json:"batch_id"`
	Kind              string    `json:"kind"`
	Workers           int       `json:"workers"`
	Tasks             int       `json:"total_tasks"`
	ElapsedSeconds    float64   `json:"elapsed_seconds"`
	Throughput        float64   `json:"throughput_tasks_per_sec"`
	AvgLatencySeconds float64   `json:"avg_latency_seconds"`
	Speedup           float64   `json:"speedup_multiplier"`
	CreatedAt         time.Time `json:"created_at"`
}

// Line converts the run back to a report line
func (r Run) Line() bench.Line {
	return bench.Line{
		Workers:    r.Workers,
		Tasks:      r.Tasks,
		Elapsed:    time.Duration(r.ElapsedSeconds * float64(time.Second)),
		Throughput: r.Throughput,
		AvgLatency: time.Duration(r.AvgLatencySeconds * float64(time.Second)),
		Speedup:    r.Speedup,
	}
}

// Store defines the persistence operations for benchmark runs
type Store interface {
	SaveLine(ctx context.Context, batchID, kind string, line bench.Line) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Batch(ctx context.Context, batchID string) ([]Run, error)
	Baseline(ctx context.Context, batchID string) (Run, error)
	Close() error
}

// NewID generates a new ULID string for runs and batches
func NewID() string {
	return ulid.Make().String()
}
