// Package backoff provides the retry delay policies used by the queue and
// the batch worker.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

const jitterFraction = 0.2

// Linear returns base multiplied by the attempt number. The queue uses it
// for task-level retries, so the delay grows by one base interval per
// attempt.
func Linear(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	return base * time.Duration(attempt)
}

// ExponentialJitter returns base doubled per attempt, capped at max, with
// +/- 20% jitter to keep concurrent retries from aligning.
func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if max > 0 && delay > float64(max) {
		delay = float64(max)
	}
	jitter := 1 + jitterFraction*(2*rand.Float64()-1)
	return time.Duration(delay * jitter)
}
