// Package resilience wraps every outbound call with what the flaky remote
// demands: retry with backoff, per-asset quarantine and a process-wide
// circuit breaker.
package resilience

import (
	"context"
	"time"

	"github.com/tradekit/portfolio-agent/internal/observ"
	"github.com/tradekit/portfolio-agent/internal/recall"
)

// RetryPolicy bounds the retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// WithRetry invokes op, retrying transient failures with exponential
// backoff (base * 2^(attempt-1)). Structural and data errors return
// immediately; the last error is surfaced as a value, never a panic.
func WithRetry(ctx context.Context, policy RetryPolicy, name string, op func(context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		observ.IncCounter("retry_attempts_total", map[string]string{"op": name})
		if !recall.IsRetryable(lastErr) || attempt == attempts {
			break
		}

		delay := policy.BaseDelay << uint(attempt-1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	observ.IncCounter("retry_exhausted_total", map[string]string{"op": name})
	return lastErr
}
