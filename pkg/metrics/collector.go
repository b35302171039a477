// Package metrics records per-task durations and summarizes benchmark runs
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Summary is the aggregate of one run
type Summary struct {
	// Tasks is the task count the throughput was computed from
	Tasks int

	// Elapsed is the wall-clock time of the run
	Elapsed time.Duration

	// Throughput is Tasks / Elapsed in tasks per second
	Throughput float64

	// AvgLatency is the mean recorded execution duration
	AvgLatency time.Duration

	P50 time.Duration
	P90 time.Duration
	P99 time.Duration
	Min time.Duration
	Max time.Duration

	// Samples is the number of recorded durations
	Samples int
}

// Collector accumulates execution durations. It is safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	durations []time.Duration
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{}
}

// Record appends one observation
func (c *Collector) Record(d time.Duration) {
	c.mu.Lock()
	c.durations = append(c.durations, d)
	c.mu.Unlock()
}

// Count returns the number of observations
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.durations)
}

// Durations returns a copy of the observations in recording order
func (c *Collector) Durations() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.durations))
	copy(out, c.durations)
	return out
}

// Reset discards every observation
func (c *Collector) Reset() {
	c.mu.Lock()
	c.durations = nil
	c.mu.Unlock()
}

// Summarize computes throughput = totalTasks / elapsed and latency
// statistics over the recorded durations
func (c *Collector) Summarize(totalTasks int, elapsed time.Duration) Summary {
	sorted := c.Durations()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	s := Summary{
		Tasks:   totalTasks,
		Elapsed: elapsed,
		Samples: len(sorted),
	}
	if elapsed > 0 {
		s.Throughput = float64(totalTasks) / elapsed.Seconds()
	}
	if len(sorted) == 0 {
		return s
	}

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	s.AvgLatency = total / time.Duration(len(sorted))
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.P50 = percentile(sorted, 0.50)
	s.P90 = percentile(sorted, 0.90)
	s.P99 = percentile(sorted, 0.99)
	return s
}

// Compare returns candidate.Throughput / baseline.Throughput, or 0 when the
// baseline has no throughput
func Compare(baseline, candidate Summary) float64 {
	if baseline.Throughput <= 0 {
		return 0
	}
	return candidate.Throughput / baseline.Throughput
}

// percentile uses the nearest-rank method on an ascending slice
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
