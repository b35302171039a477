package chaos

import (
	"context"
	"sync"

	"github.com/jzx17/godispatch/pkg/types"
)

// always marks a task that fails on every attempt
const always = -1

// FaultInjector simulates an external dependency outage for specific task
// ids. Injected failures are transient ConnectionError-style errors, so they
// travel the retry path.
type FaultInjector struct {
	mu       sync.Mutex
	armed    map[int64]int
	injected map[int64]int
}

// NewFaultInjector creates an injector with no faults armed
func NewFaultInjector() *FaultInjector {
	return &FaultInjector{
		armed:    make(map[int64]int),
		injected: make(map[int64]int),
	}
}

// Outage makes the next times executions of taskID fail transiently
func (f *FaultInjector) Outage(taskID int64, times int) {
	if times <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[taskID] = times
}

// Always makes every execution of taskID fail transiently
func (f *FaultInjector) Always(taskID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[taskID] = always
}

// Injected returns how many failures were injected for taskID
func (f *FaultInjector) Injected(taskID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.injected[taskID]
}

// Wrap returns an execution function that fails armed tasks before fn runs
func (f *FaultInjector) Wrap(fn types.ExecuteFunc) types.ExecuteFunc {
	return func(ctx context.Context, task types.Task) error {
		if f.trip(task.ID) {
			return types.Transient(types.ErrConnection)
		}
		return fn(ctx, task)
	}
}

func (f *FaultInjector) trip(taskID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	left, ok := f.armed[taskID]
	if !ok {
		return false
	}
	if left != always {
		if left == 1 {
			delete(f.armed, taskID)
		} else {
			f.armed[taskID] = left - 1
		}
	}
	f.injected[taskID]++
	return true
}
