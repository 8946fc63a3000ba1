package retry

import (
	"context"
	"fmt"
	"time"

	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
)

// Do runs fn until it succeeds, fails fatally, or the attempt cap is reached.
// Triggers get exactly one attempt. Fatal errors are returned unchanged;
// running out of attempts returns a *flowerrors.ExhaustedError wrapping the
// last failure.
func (p *Policy) Do(ctx context.Context, op string, kind Kind, fn func(context.Context) error) error {
	// Fail fast if context is already cancelled to avoid wasted attempts.
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errContextCancelledBeforeRetry, ctx.Err())
	default:
	}

	maxAttempts := p.config.MaxAttempts
	if kind != KindRead {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		p.stats.totalAttempts.Add(1)

		if err == nil {
			if attempt > 1 {
				p.stats.successfulRetries.Add(1)
				p.logger.Info("operation succeeded after retry",
					"op", op,
					"attempt", attempt)
			} else {
				p.stats.successfulFirstAttempts.Add(1)
			}
			return nil
		}

		if p.Classify(kind, err) == Fatal {
			p.stats.fatalFailures.Add(1)
			p.logger.Debug("non-retryable error",
				"op", op,
				"kind", kind,
				"error", err,
				"attempt", attempt)
			return err
		}

		lastErr = err
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", errContextCancelledDuringRetry, ctx.Err())
		}

		// Prevent unnecessary backoff calculation on final attempt.
		if attempt == maxAttempts {
			break
		}

		backoff := p.Delay(attempt-1, err)
		p.recordBackoffMetrics(backoff)

		p.logger.Debug("retrying after backoff",
			"op", op,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		if err := sleep(ctx, backoff); err != nil {
			return fmt.Errorf("%w: %w", errContextCancelledDuringRetry, err)
		}
	}

	p.stats.exhausted.Add(1)
	p.logger.Warn("retries exhausted",
		"op", op,
		"attempts", maxAttempts,
		"last_error", lastErr)
	return &flowerrors.ExhaustedError{Op: op, Attempts: maxAttempts, Last: lastErr}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p *Policy, op string, kind Kind, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, kind, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
