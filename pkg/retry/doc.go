// Package retry holds the retry policy owned by a worker pool.
//
// A Policy bounds how many times one task may execute and decides, after a
// failed attempt, whether the task goes back to the dispatch queue. Only
// failures wrapped as *types.TransientError are retried; anything else is
// permanent after the first attempt.
//
// The delay before a retried task becomes eligible again comes from a
// Backoff:
//   - NoBackoff: eligible immediately (the default)
//   - FixedBackoff: constant delay
//   - ExponentialBackoff: initial * multiplier^(attempt-1), capped by a max delay
//
// Jitter (FullJitter, EqualJitter) spreads retries of tasks that failed
// together, so a recovering dependency is not hit by all of them at once.
//
// Basic usage:
//
//	policy := retry.NewPolicy(3,
//		retry.WithBackoff(retry.NewExponentialBackoff(50*time.Millisecond,
//			retry.WithMaxDelay(time.Second),
//			retry.WithJitter(retry.EqualJitter))))
//
//	if policy.ShouldRetry(err, task.Attempt) {
//		q.Requeue(task, policy.NextDelay(err, task.Attempt))
//	}
//
// A positive RetryAfter carried by the transient error overrides the backoff
// unless the policy is built with WithRetryAfter(false).
package retry
