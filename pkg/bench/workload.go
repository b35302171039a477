package bench

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jzx17/godispatch/pkg/types"
)

// SimulatedWork is an execution function that sleeps for a random latency
// and optionally fails transiently at a fixed rate
type SimulatedWork struct {
	min, max    time.Duration
	failureRate float64
	clock       types.Clock

	mu  sync.Mutex
	rng *rand.Rand
}

// WorkOption configures SimulatedWork
type WorkOption func(*SimulatedWork)

// WithFailureRate sets the fraction of attempts in [0, 1] that fail transiently
func WithFailureRate(rate float64) WorkOption {
	return func(w *SimulatedWork) {
		switch {
		case rate < 0:
			w.failureRate = 0
		case rate > 1:
			w.failureRate = 1
		default:
			w.failureRate = rate
		}
	}
}

// WithSeed makes latencies and failures reproducible
func WithSeed(seed int64) WorkOption {
	return func(w *SimulatedWork) {
		w.rng = rand.New(rand.NewSource(seed))
	}
}

// WithWorkClock sets the clock the simulated latency sleeps on
func WithWorkClock(clock types.Clock) WorkOption {
	return func(w *SimulatedWork) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// NewSimulatedWork creates a workload with latencies uniform in [min, max]
func NewSimulatedWork(min, max time.Duration, opts ...WorkOption) *SimulatedWork {
	if max < min {
		min, max = max, min
	}
	w := &SimulatedWork{
		min:   min,
		max:   max,
		clock: types.NewRealClock(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Execute implements types.ExecuteFunc
func (w *SimulatedWork) Execute(ctx context.Context, _ types.Task) error {
	latency, fail := w.draw()
	if err := types.Sleep(ctx, w.clock, latency); err != nil {
		return err
	}
	if fail {
		return types.Transient(types.ErrConnection)
	}
	return nil
}

func (w *SimulatedWork) draw() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	latency := w.min
	if span := int64(w.max - w.min); span > 0 {
		latency += time.Duration(w.rng.Int63n(span + 1))
	}
	return latency, w.failureRate > 0 && w.rng.Float64() < w.failureRate
}
