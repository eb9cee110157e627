// Package backoff sleeps for a retry schedule while respecting context
// cancellation, grounded directly on the teacher's internal/backoff/sleep.go.
// TurnRunner uses it for the fixed 200ms/800ms/3.2s llm_error_retryable
// schedule (spec.md §4.6); it does not need the teacher's exponential
// ComputeBackoff, since the retry schedule here is spec-mandated literal
// durations rather than a computed policy.
package backoff

import (
	"context"
	"time"
)

// SleepWithContext sleeps for duration, returning early with ctx.Err() if
// ctx is cancelled first.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
