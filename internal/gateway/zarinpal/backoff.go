package zarinpal

import (
	"math"
	"time"
)

// RetryPolicy defines exponential backoff parameters for verify retries.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy is the verify retry schedule used by the client.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
	}
}

// NextDelay returns the delay for a given attempt (1-based) with clamping.
func (policy RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = time.Second
	}
	if policy.BackoffFactor <= 0 {
		policy.BackoffFactor = 2
	}

	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(attempt-1))
	bounded := time.Duration(delay)
	if policy.MaxDelay > 0 && bounded > policy.MaxDelay {
		bounded = policy.MaxDelay
	}
	if bounded <= 0 {
		bounded = time.Second
	}
	return bounded
}
