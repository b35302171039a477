// Package retry provides retry mechanism strategies and implementations
package retry

import (
	"time"

	"github.com/jzx17/godispatch/pkg/types"
)

// DefaultMaxAttempts is used when a policy is built with a non-positive bound
const DefaultMaxAttempts = 3

// Policy decides whether a failed attempt is retried and how long the task
// waits before it is eligible again. A Policy is immutable and shared by
// every worker of a pool.
type Policy struct {
	maxAttempts      int
	backoff          Backoff
	honourRetryAfter bool
}

// PolicyOption is a configuration option for retry policies
type PolicyOption func(*Policy)

// WithBackoff sets the delay strategy
func WithBackoff(b Backoff) PolicyOption {
	return func(p *Policy) {
		if b != nil {
			p.backoff = b
		}
	}
}

// WithRetryAfter makes a positive TransientError.RetryAfter override the backoff
func WithRetryAfter(enabled bool) PolicyOption {
	return func(p *Policy) {
		p.honourRetryAfter = enabled
	}
}

// NewPolicy creates a retry policy allowing maxAttempts executions per task
func NewPolicy(maxAttempts int, opts ...PolicyOption) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	p := &Policy{
		maxAttempts:      maxAttempts,
		backoff:          NoBackoff{},
		honourRetryAfter: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultPolicy allows three attempts with no delay between them
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultMaxAttempts)
}

// MaxAttempts returns the execution budget per task
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether a task that just failed its attempt-th
// execution with err goes back to the queue. Only transient failures retry.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	return types.IsTransient(err)
}

// CanRetry reports whether budget remains after attempt, regardless of error kind
func (p *Policy) CanRetry(attempt int) bool {
	return attempt < p.maxAttempts
}

// NextDelay returns the eligibility delay for the retry after attempt
func (p *Policy) NextDelay(err error, attempt int) time.Duration {
	if p.honourRetryAfter {
		if d := types.RetryAfter(err); d > 0 {
			return d
		}
	}
	return p.backoff.NextDelay(attempt)
}
