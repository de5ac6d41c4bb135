package webhook

import (
	"math/rand/v2"
	"time"
)

// retryDelays is the backoff schedule indexed by failed attempts so far.
var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

const (
	// DefaultMaxAttempts is the default maximum delivery attempts.
	DefaultMaxAttempts = 5

	// JitterFactor is the ±fraction of jitter applied to delays.
	JitterFactor = 0.2
)

// NextRetryDelay returns the backoff after a failed attempt, with ±20% jitter.
// failedAttempts is the count before the failure being scheduled (0 after the first).
func NextRetryDelay(failedAttempts int) time.Duration {
	i := min(max(failedAttempts, 0), len(retryDelays)-1)
	base := float64(retryDelays[i])
	jitter := (rand.Float64()*2 - 1) * base * JitterFactor
	return time.Duration(base + jitter)
}

// NextRetryAt returns when the next attempt is due.
func NextRetryAt(now time.Time, failedAttempts int) time.Time {
	return now.Add(NextRetryDelay(failedAttempts))
}

// IsExhausted returns true if max attempts have been reached.
func IsExhausted(attemptCount, maxAttempts int) bool {
	return attemptCount >= maxAttempts
}

// EstimatedMaxDeliveryWindow is the longest span a delivery can stay
// undelivered before it is exhausted, including jitter.
func EstimatedMaxDeliveryWindow() time.Duration {
	var total time.Duration
	for _, d := range retryDelays[:DefaultMaxAttempts-1] {
		total += d
	}
	return time.Duration(float64(total) * (1 + JitterFactor))
}
