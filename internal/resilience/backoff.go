package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// maxBackoffShift caps the exponent so the delay never overflows.
const maxBackoffShift = 30

// Backoff returns the delay before retry number attempt (zero-based):
// base × 2^attempt. Negative attempts are treated as zero.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	return base << attempt
}

// RetryConfig configures [Retry].
type RetryConfig struct {
	// Attempts is the total number of calls including the first. Default: 3.
	Attempts int

	// Base is the first backoff delay. Default: 250ms.
	Base time.Duration

	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error except context cancellation.
	Retryable func(error) bool
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempt budget is spent or ctx is done. Attempts are separated by
// [Backoff] delays. The last error is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Base <= 0 {
		cfg.Base = 250 * time.Millisecond
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}

	var err error
	for attempt := range cfg.Attempts {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) || attempt == cfg.Attempts-1 {
			return err
		}
		delay := Backoff(cfg.Base, attempt)
		slog.Debug("retrying after failure", "attempt", attempt+1, "delay", delay, "err", err)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}
