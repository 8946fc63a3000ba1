package transport

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
)

// NewTimeoutMiddleware bounds each call by the request's Timeout, or by d
// when the request sets none.
func NewTimeoutMiddleware(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			timeout := req.Timeout
			if timeout <= 0 {
				timeout = d
			}
			if timeout <= 0 {
				return next.Handle(ctx, req)
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next.Handle(ctx, req)
		})
	}
}

// NewRateLimitMiddleware throttles outgoing calls with a token bucket.
// Callers wait for a token while their deadline allows; a call that cannot
// get one in time fails with a local *flowerrors.RateLimitError. A
// non-positive rps disables limiting.
func NewRateLimitMiddleware(rps float64, burst int) Middleware {
	if rps <= 0 {
		return func(next Handler) Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	logger := slog.Default().With("component", "ratelimit")

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if err := limiter.Wait(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil, err
				}

				// Compute the wait without consuming a token.
				reservation := limiter.Reserve()
				delay := reservation.Delay()
				reservation.Cancel()

				retryAfter := int(math.Ceil(delay.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				logger.Warn("local rate limit exceeded",
					"op", req.Operation,
					"retry_after", retryAfter)
				return nil, &flowerrors.RateLimitError{
					Op:         string(req.Operation),
					RetryAfter: retryAfter,
					LocalLimit: true,
				}
			}
			return next.Handle(ctx, req)
		})
	}
}

// NewLoggingMiddleware logs every call with its latency and, on failure, the
// classified error.
func NewLoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default().With("component", "transport")
	}

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if req.RequestID == "" {
				req.RequestID = uuid.New().String()
			}

			start := time.Now()
			logger.DebugContext(ctx, "job api request started",
				"request_id", req.RequestID,
				"op", req.Operation,
				"method", req.Method,
				"path", req.Path,
				"job_id", req.JobID)

			resp, err := next.Handle(ctx, req)
			latency := time.Since(start)

			if err != nil {
				classified := flowerrors.ClassifyError(err)
				logger.WarnContext(ctx, "job api request failed",
					"request_id", req.RequestID,
					"op", req.Operation,
					"job_id", req.JobID,
					"latency_ms", latency.Milliseconds(),
					"error_type", classified.Type,
					"error_code", classified.Code,
					"retryable", classified.Retryable,
					"error", err)
				return nil, err
			}

			logger.InfoContext(ctx, "job api request completed",
				"request_id", req.RequestID,
				"op", req.Operation,
				"job_id", req.JobID,
				"status", resp.StatusCode,
				"latency_ms", latency.Milliseconds())
			return resp, nil
		})
	}
}
