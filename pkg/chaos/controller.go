// Package chaos provides crash and outage injection for worker pools
package chaos

import (
	"context"
	"sync"
	"time"

	"github.com/jzx17/godispatch/pkg/types"
	"github.com/jzx17/godispatch/pkg/worker"
)

// Controller forcibly cancels named workers of one pool
type Controller struct {
	pool  *worker.Pool
	clock types.Clock

	mu      sync.Mutex
	crashed []string
}

// Option configures a Controller
type Option func(*Controller)

// WithClock sets the clock that drives CrashAfter
func WithClock(clock types.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewController creates a controller for pool
func NewController(pool *worker.Pool, opts ...Option) *Controller {
	c := &Controller{
		pool:  pool,
		clock: types.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crash cancels the named worker. Whatever task it holds is settled by the
// pool's crash policy.
func (c *Controller) Crash(name string) error {
	if err := c.pool.Cancel(name); err != nil {
		return err
	}

	c.mu.Lock()
	c.crashed = append(c.crashed, name)
	c.mu.Unlock()
	return nil
}

// CrashAfter crashes the named worker once d has elapsed on the controller's
// clock. The returned channel yields the Crash result, or ctx.Err() if ctx
// ends first, and is then closed.
func (c *Controller) CrashAfter(ctx context.Context, name string, d time.Duration) <-chan error {
	out := make(chan error, 1)
	timer := c.clock.NewTimer(d)

	go func() {
		defer close(out)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			out <- ctx.Err()
		case <-timer.C():
			out <- c.Crash(name)
		}
	}()
	return out
}

// Crashed returns the names of the workers crashed so far, in order
func (c *Controller) Crashed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.crashed))
	copy(out, c.crashed)
	return out
}
