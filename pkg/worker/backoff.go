package worker

import "time"

// Backoff defaults used when RetryConfig fields are zero.
const (
	DefaultBackoffBase   = 5 * time.Second
	DefaultBackoffFactor = 2.0
	DefaultBackoffCap    = 5 * time.Minute
	DefaultMaxAttempts   = 3
)

// RetryConfig bounds the retry budget and spaces retries out with
// exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of processing attempts before a
	// job is dead-lettered. Zero uses DefaultMaxAttempts.
	MaxAttempts int

	// BackoffBase is the delay before the first retry. Zero uses
	// DefaultBackoffBase.
	BackoffBase time.Duration

	// BackoffFactor multiplies the delay per attempt. Values below 1
	// use DefaultBackoffFactor.
	BackoffFactor float64

	// BackoffCap clamps the delay. Zero uses DefaultBackoffCap.
	BackoffCap time.Duration
}

func (c RetryConfig) maxAttempts() int {
	if c.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

// Delay returns the backoff before retrying a job that has already
// made attempt attempts. The first retry (attempt=1) waits BackoffBase.
func (c RetryConfig) Delay(attempt int) time.Duration {
	base := c.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	factor := c.BackoffFactor
	if factor < 1 {
		factor = DefaultBackoffFactor
	}
	cap := c.BackoffCap
	if cap <= 0 {
		cap = DefaultBackoffCap
	}

	delay := float64(base)
	for i := 1; i < attempt; i++ {
		delay *= factor
		if delay >= float64(cap) {
			return cap
		}
	}
	if delay > float64(cap) {
		return cap
	}
	return time.Duration(delay)
}
