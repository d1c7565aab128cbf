package errors

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy describes how often and how patiently a retryable failure is retried.
type RetryPolicy struct {
	// MaxAttempts is the number of retries after the first call (0 disables retrying).
	MaxAttempts int `yaml:"max_attempts"`

	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`

	// Multiplier is the exponential growth factor (default 2.0).
	Multiplier float64 `yaml:"multiplier"`

	// JitterPercent spreads each delay by ±JitterPercent.
	JitterPercent float64 `yaml:"jitter_percent"`
}

// DefaultReplayPolicy is used to retry commit-phase replays during recovery.
func DefaultReplayPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

// NoRetryPolicy runs a function exactly once.
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{}
}

// RetryExecutor runs functions, retrying failures that IsRetryable accepts.
type RetryExecutor struct {
	policy *RetryPolicy
}

func NewRetryExecutor(policy *RetryPolicy) *RetryExecutor {
	if policy == nil {
		policy = DefaultReplayPolicy()
	}
	return &RetryExecutor{policy: policy}
}

// Execute calls fn until it succeeds, fails with a non-retryable error, the
// attempts are exhausted or ctx is done. The last error is returned.
func (e *RetryExecutor) Execute(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= e.policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == e.policy.MaxAttempts {
			break
		}
		delay := AddJitter(CalculateDelay(attempt, e.policy), e.policy.JitterPercent)
		if err := waitBeforeRetry(ctx, delay); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// CalculateDelay returns initial * multiplier^attempt, capped at MaxDelay.
func CalculateDelay(attempt int, policy *RetryPolicy) time.Duration {
	if policy == nil {
		return 0
	}
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := time.Duration(float64(policy.InitialDelay) * math.Pow(multiplier, float64(attempt)))
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		return policy.MaxDelay
	}
	return delay
}

// AddJitter moves delay by a random offset of at most ±jitterPercent, never below 1ms.
func AddJitter(delay time.Duration, jitterPercent float64) time.Duration {
	if jitterPercent <= 0 {
		return delay
	}
	spread := float64(delay) * jitterPercent
	jittered := time.Duration(float64(delay) + (rand.Float64()*2-1)*spread)
	if jittered < time.Millisecond {
		return time.Millisecond
	}
	return jittered
}

func waitBeforeRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
