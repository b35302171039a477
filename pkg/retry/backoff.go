// Package retry provides backoff algorithm implementations
package retry

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Backoff computes the delay before a retried task becomes eligible again.
// Implementations must be safe for concurrent use by many workers.
type Backoff interface {
	// NextDelay returns the delay after the given failed attempt (1-based)
	NextDelay(attempt int) time.Duration
}

// NoBackoff makes retries eligible immediately
type NoBackoff struct{}

// NextDelay always returns zero
func (NoBackoff) NextDelay(int) time.Duration {
	return 0
}

// FixedBackoff implements fixed backoff strategy
type FixedBackoff struct {
	delay  time.Duration
	jitter JitterFunc
}

// NewFixedBackoff creates a fixed backoff strategy
func NewFixedBackoff(delay time.Duration, opts ...BackoffOption) *FixedBackoff {
	cfg := applyBackoffOptions(opts)
	return &FixedBackoff{delay: delay, jitter: cfg.jitter}
}

// NextDelay calculates the delay for the next retry
func (b *FixedBackoff) NextDelay(int) time.Duration {
	if b.jitter != nil {
		return b.jitter(b.delay)
	}
	return b.delay
}

// ExponentialBackoff implements exponential backoff strategy
type ExponentialBackoff struct {
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration
	jitter       JitterFunc
}

// NewExponentialBackoff creates an exponential backoff strategy
func NewExponentialBackoff(initialDelay time.Duration, opts ...BackoffOption) *ExponentialBackoff {
	cfg := applyBackoffOptions(opts)
	b := &ExponentialBackoff{
		initialDelay: initialDelay,
		multiplier:   2.0,
		maxDelay:     30 * time.Second,
		jitter:       cfg.jitter,
	}
	if cfg.multiplier > 0 {
		b.multiplier = cfg.multiplier
	}
	if cfg.maxDelay > 0 {
		b.maxDelay = cfg.maxDelay
	}
	return b
}

// NextDelay calculates the delay for the next retry
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	raw := float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt-1))
	delay := b.maxDelay
	if raw < float64(b.maxDelay) {
		delay = time.Duration(raw)
	}

	if b.jitter != nil {
		delay = b.jitter(delay)
	}
	return delay
}

// JitterFunc jitter function type
type JitterFunc func(time.Duration) time.Duration

// FullJitter full jitter function - random within [0, delay] range
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay) + 1))
}

// EqualJitter equal jitter function - delay/2 + random(0, delay/2)
func EqualJitter(delay time.Duration) time.Duration {
	if delay <= 1 {
		return delay
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// BackoffOption configures a backoff strategy
type BackoffOption func(*backoffConfig)

type backoffConfig struct {
	multiplier float64
	maxDelay   time.Duration
	jitter     JitterFunc
}

func applyBackoffOptions(opts []BackoffOption) backoffConfig {
	var cfg backoffConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithMultiplier sets the growth factor (exponential backoff only)
func WithMultiplier(multiplier float64) BackoffOption {
	return func(c *backoffConfig) { c.multiplier = multiplier }
}

// WithMaxDelay caps the delay (exponential backoff only)
func WithMaxDelay(maxDelay time.Duration) BackoffOption {
	return func(c *backoffConfig) { c.maxDelay = maxDelay }
}

// WithJitter sets the jitter function
func WithJitter(jitter JitterFunc) BackoffOption {
	return func(c *backoffConfig) { c.jitter = jitter }
}

// Backoff kinds accepted by ParseBackoff
const (
	KindNone        = "none"
	KindFixed       = "fixed"
	KindExponential = "exponential"
)

// ParseBackoff builds a backoff strategy from its configuration name
func ParseBackoff(kind string, initial, maxDelay time.Duration, multiplier float64, jitter bool) (Backoff, error) {
	var opts []BackoffOption
	if jitter {
		opts = append(opts, WithJitter(EqualJitter))
	}

	switch strings.ToLower(kind) {
	case "", KindNone:
		return NoBackoff{}, nil
	case KindFixed:
		return NewFixedBackoff(initial, opts...), nil
	case KindExponential:
		opts = append(opts, WithMultiplier(multiplier), WithMaxDelay(maxDelay))
		return NewExponentialBackoff(initial, opts...), nil
	default:
		return nil, fmt.Errorf("unknown backoff kind %q", kind)
	}
}
