package retry

import (
	"sync/atomic"
	"time"
)

// retryStats provides thread-safe retry metrics using atomic operations.
type retryStats struct {
	totalAttempts           atomic.Int64 // Every call of the wrapped function
	successfulRetries       atomic.Int64 // Invocations that succeeded after retry
	successfulFirstAttempts atomic.Int64 // Invocations that succeeded on first attempt
	fatalFailures           atomic.Int64 // Invocations stopped by a fatal error
	exhausted               atomic.Int64 // Invocations that ran out of attempts
	maxBackoff              atomic.Int64 // Maximum backoff duration in nanoseconds
}

// Stats holds aggregated metrics for a Policy.
type Stats struct {
	// TotalAttempts is the number of calls, including first attempts and retries.
	TotalAttempts int64 `json:"total_attempts"`
	// SuccessfulRetries is the count of invocations that succeeded only after retrying.
	SuccessfulRetries int64 `json:"successful_retries"`
	// FatalFailures is the count of invocations stopped by a non-retryable error.
	FatalFailures int64 `json:"fatal_failures"`
	// Exhausted is the count of invocations that reached the attempt cap.
	Exhausted int64 `json:"exhausted"`
	// AverageAttempts is the average number of attempts per invocation.
	AverageAttempts float64 `json:"average_attempts"`
	// MaxBackoff is the longest backoff applied.
	MaxBackoff time.Duration `json:"max_backoff"`
}

// recordBackoffMetrics records backoff duration for monitoring.
func (p *Policy) recordBackoffMetrics(backoff time.Duration) {
	backoffNanos := backoff.Nanoseconds()
	for {
		current := p.stats.maxBackoff.Load()
		if backoffNanos <= current {
			break
		}
		if p.stats.maxBackoff.CompareAndSwap(current, backoffNanos) {
			break
		}
	}
}

// Stats returns a snapshot of the policy's counters.
func (p *Policy) Stats() Stats {
	totalAttempts := p.stats.totalAttempts.Load()
	successfulRetries := p.stats.successfulRetries.Load()
	firstAttempts := p.stats.successfulFirstAttempts.Load()
	fatal := p.stats.fatalFailures.Load()
	exhausted := p.stats.exhausted.Load()

	averageAttempts := 1.0
	if invocations := firstAttempts + successfulRetries + fatal + exhausted; invocations > 0 {
		averageAttempts = float64(totalAttempts) / float64(invocations)
	}

	return Stats{
		TotalAttempts:     totalAttempts,
		SuccessfulRetries: successfulRetries,
		FatalFailures:     fatal,
		Exhausted:         exhausted,
		AverageAttempts:   averageAttempts,
		MaxBackoff:        time.Duration(p.stats.maxBackoff.Load()),
	}
}
