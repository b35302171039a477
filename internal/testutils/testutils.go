// Package testutils provides simplified testing utilities and helper functions
package testutils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jzx17/godispatch/pkg/types"
)

// Context returns a context cancelled when the test ends or after timeout
func Context(t testing.TB, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// Recorder is a types.Observer that keeps every event for assertions
type Recorder struct {
	mu     sync.Mutex
	events []types.Event
}

// Observe implements types.Observer
func (r *Recorder) Observe(ev types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events had the given outcome
func (r *Recorder) Count(kind types.OutcomeKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Outcome == kind {
			n++
		}
	}
	return n
}

// ForTask returns the events recorded for one task id, in order
func (r *Recorder) ForTask(id int64) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, ev := range r.events {
		if ev.Task.ID == id {
			out = append(out, ev)
		}
	}
	return out
}

// WaitClosed fails the test if ch is not closed before timeout
func WaitClosed(t testing.TB, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...interface{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.FailNow(t, "timed out waiting for channel close", msgAndArgs...)
	}
}
