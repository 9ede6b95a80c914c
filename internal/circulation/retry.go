package circulation

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/iliyamo/library-circulation/internal/store"
)

const defaultJitterFactor = 0.3

// retryConfig drives the optimistic concurrency retry around a single
// engine transaction.
type retryConfig struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
}

// retry runs fn until it succeeds, fails with a non-retryable error or
// maxAttempts is reached.  Only store.ErrConflict is retried; the delay
// doubles from baseDelay between attempts with a bit of jitter.
// Exhaustion is reported as a KindTransient error.
func (c retryConfig) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := c.maxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * c.jitterFactor //nolint:gosec // jitter only
			conflictRetries.WithLabelValues(op).Inc()
			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil || !errors.Is(lastErr, store.ErrConflict) {
			return lastErr
		}
	}
	return &Error{
		Kind:   KindTransient,
		Reason: ReasonConflictRetryExhausted,
		Op:     op,
		Detail: "gave up after repeated write conflicts",
		Err:    lastErr,
	}
}
