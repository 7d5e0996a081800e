package orchestrator

import "time"

// RetryPolicy bounds a transient-failure-prone step. The write step and
// each archive step carry independent budgets under the same policy.
type RetryPolicy struct {
	MaxAttempts  int
	BaseInterval time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy matches the pipeline's standard budget: three attempts
// with waits of 2s and 4s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		BaseInterval: 2 * time.Second,
		Multiplier:   2.0,
	}
}

// Backoff returns the wait before the given retry. attempt is 1-based and
// counts the attempt that just failed: Backoff(1) is the wait before the
// second attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := float64(p.BaseInterval)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}
