package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType categorizes session engine failures for retry classification.
type ErrorType string

const (
	// ErrorTypeTimeout indicates a call exceeded its deadline (retryable on reads).
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimit indicates the remote asked the client to slow down (retryable on reads).
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNetwork indicates connectivity problems (retryable on reads).
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeUnavailable indicates a transient gateway or availability failure (retryable on reads).
	ErrorTypeUnavailable ErrorType = "remote_unavailable"

	// ErrorTypeBadRequest indicates the remote rejected the input (non-retryable).
	ErrorTypeBadRequest ErrorType = "bad_request"

	// ErrorTypeNotFound indicates the remote does not know the job (non-retryable).
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeServer indicates a non-transient remote server error (non-retryable).
	ErrorTypeServer ErrorType = "server_error"

	// ErrorTypeRemoteFailure indicates the remote job itself reported failure (non-retryable).
	ErrorTypeRemoteFailure ErrorType = "remote_failure"

	// ErrorTypeSerialization indicates a payload could not be encoded or decoded.
	ErrorTypeSerialization ErrorType = "serialization"

	// ErrorTypeUnboundSession indicates a step ran before the session had a job.
	ErrorTypeUnboundSession ErrorType = "unbound_session"

	// ErrorTypeAlreadyBound indicates a conflicting job binding.
	ErrorTypeAlreadyBound ErrorType = "already_bound"

	// ErrorTypeUnknownStep indicates navigation to a step outside the sequence.
	ErrorTypeUnknownStep ErrorType = "unknown_step"

	// ErrorTypeExhausted indicates local retries ran out.
	ErrorTypeExhausted ErrorType = "retries_exhausted"

	// ErrorTypeCanceled indicates the caller abandoned the operation.
	ErrorTypeCanceled ErrorType = "canceled"

	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Common session engine errors.
var (
	// ErrRemoteUnavailable indicates the remote service could not be reached.
	ErrRemoteUnavailable = errors.New("remote service unavailable")

	// ErrRateLimitExceeded indicates a local or remote rate limit was hit.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidResponse indicates the remote returned a payload that does not
	// match the job API contract.
	ErrInvalidResponse = errors.New("invalid remote response")

	// ErrPollTimeout indicates a poll task exceeded its maximum duration.
	ErrPollTimeout = errors.New("poll exceeded maximum duration")
)

// RemoteError captures a failed call to the remote job API.
// StatusCode is zero when no HTTP response was received.
type RemoteError struct {
	Op         string    `json:"op"`          // Job API operation, e.g. "get_status"
	StatusCode int       `json:"status_code"` // HTTP status code
	Message    string    `json:"message"`     // Error message from the body, if any
	Type       ErrorType `json:"type"`        // Classified error type
	RetryAfter int       `json:"retry_after"` // Retry-After header value in seconds
}

// Error returns formatted remote error with status code context.
func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s failed (status %d): %s", e.Op, e.StatusCode, e.Message)
}

// IsRetryable reports whether the failure class is transient.
func (e *RemoteError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeUnavailable:
		return true
	default:
		return false
	}
}

// GetRetryAfter implements the retry-after hint interface.
func (e *RemoteError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// TypeForStatus maps an HTTP status code to an error type.
func TypeForStatus(status int) ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable:
		return ErrorTypeUnavailable
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status >= 400 && status < 500:
		return ErrorTypeBadRequest
	case status >= 500:
		return ErrorTypeServer
	default:
		return ErrorTypeUnknown
	}
}

// RateLimitError is returned when a local limiter refuses to wait.
type RateLimitError struct {
	Op         string `json:"op"`
	RetryAfter int    `json:"retry_after"` // Seconds to wait before retry
	LocalLimit bool   `json:"local_limit"` // Whether this is a local limit
}

// Error returns formatted rate limit error with retry guidance.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %d seconds", e.Op, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Op)
}

// GetRetryAfter implements the retry-after hint interface.
func (e *RateLimitError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// Is allows errors.Is(err, ErrRateLimitExceeded).
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimitExceeded }

// SerializationError reports a value that could not be stored or loaded.
// Nothing is written when it is returned from a store write.
type SerializationError struct {
	SessionID string `json:"session_id"`
	Field     string `json:"field"`
	Cause     error  `json:"-"`
}

// Error returns the failing key and cause.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize session %s field %s: %v", e.SessionID, e.Field, e.Cause)
}

// Unwrap returns the encoder error.
func (e *SerializationError) Unwrap() error { return e.Cause }

// UnboundSessionError reports a step that needs a job id before one exists.
type UnboundSessionError struct {
	SessionID string `json:"session_id"`
}

// Error tells the caller to restart from submission.
func (e *UnboundSessionError) Error() string {
	return fmt.Sprintf("session %s has no bound job; restart from submission", e.SessionID)
}

// AlreadyBoundError reports an attempt to bind a session to a second job.
type AlreadyBoundError struct {
	SessionID string `json:"session_id"`
	Existing  string `json:"existing"`
	Attempted string `json:"attempted"`
}

// Error names both the existing and the rejected job ids.
func (e *AlreadyBoundError) Error() string {
	return fmt.Sprintf("session %s is already bound to job %s, refusing %s", e.SessionID, e.Existing, e.Attempted)
}

// UnknownStepError reports navigation to a step outside the configured sequence.
type UnknownStepError struct {
	Step string `json:"step"`
}

// Error names the unknown step.
func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("unknown step %q", e.Step)
}

// RemoteFailure reports that the remote job finished in a failed state.
// Payload carries the remote-provided error document verbatim.
type RemoteFailure struct {
	JobID   string          `json:"job_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Error includes the remote payload when present.
func (e *RemoteFailure) Error() string {
	if len(e.Payload) == 0 {
		return fmt.Sprintf("remote job %s failed", e.JobID)
	}
	return fmt.Sprintf("remote job %s failed: %s", e.JobID, string(e.Payload))
}

// ExhaustedError reports that an idempotent operation kept failing with
// retryable errors until the attempt cap was reached.
type ExhaustedError struct {
	Op       string `json:"op"`
	Attempts int    `json:"attempts"`
	Last     error  `json:"-"`
}

// Error names the operation and the last failure.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: all retries exhausted after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

// Unwrap returns the last retryable failure.
func (e *ExhaustedError) Unwrap() error { return e.Last }
