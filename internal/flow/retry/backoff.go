package retry

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
)

// NextDelay returns the exponential backoff for the zero-based retry index
// attempt: min(InitialInterval * Multiplier^attempt, MaxInterval). With
// jitter enabled the result is drawn uniformly from [0, delay].
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	backoff := p.config.InitialInterval
	if backoff <= 0 {
		backoff = time.Millisecond // Minimum 1ms to prevent hot loop.
	}
	multiplier := p.config.Multiplier
	if multiplier < 1.0 {
		multiplier = 1.0
	}

	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * multiplier)
		if backoff > p.config.MaxInterval || backoff <= 0 {
			backoff = p.config.MaxInterval
			break
		}
	}
	if backoff > p.config.MaxInterval {
		backoff = p.config.MaxInterval
	}

	if p.config.UseJitter {
		// Full jitter: random between 0 and calculated backoff.
		jitterMs := rand.Int64N(backoff.Milliseconds() + 1) // #nosec G404 -- non-cryptographic jitter is appropriate here
		return time.Duration(jitterMs) * time.Millisecond
	}
	return backoff
}

// Delay returns how long to wait before retrying after err. A server wait
// hint takes precedence over exponential backoff, clamped to MaxRetryAfter
// when one is configured.
func (p *Policy) Delay(attempt int, err error) time.Duration {
	if hint := extractRetryAfter(err); hint > 0 {
		if p.config.MaxRetryAfter > 0 && hint > p.config.MaxRetryAfter {
			return p.config.MaxRetryAfter
		}
		return hint
	}
	return p.NextDelay(attempt)
}

// extractRetryAfter determines server-specified retry delays from errors.
func extractRetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}

	var provider RetryAfterProvider
	if errors.As(err, &provider) {
		return provider.GetRetryAfter()
	}

	var workflowErr *flowerrors.WorkflowError
	if errors.As(err, &workflowErr) && workflowErr.Details != nil {
		if raw, ok := workflowErr.Details["retry_after"]; ok {
			return ParseRetryAfter(raw)
		}
	}

	return 0
}

// ParseRetryAfter converts the supported Retry-After representations to a
// duration: integer seconds (as a number or string), an HTTP date, or a
// time.Duration. Unparseable and past values yield zero.
func ParseRetryAfter(value any) time.Duration {
	switch v := value.(type) {
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case time.Duration:
		return v
	case string:
		if seconds, err := strconv.Atoi(v); err == nil {
			if seconds < 0 {
				return 0
			}
			return time.Duration(seconds) * time.Second
		}
		formats := []string{
			time.RFC1123, time.RFC1123Z,
			time.RFC850, time.ANSIC,
		}
		for _, format := range formats {
			if t, err := time.Parse(format, v); err == nil {
				if d := time.Until(t); d > 0 {
					return d
				}
				return 0
			}
		}
	}
	return 0
}
