package errors

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// ClassifyError transforms session engine errors into a WorkflowError.
// Typed errors are examined first, then sentinel and context errors, then
// network errors, and finally message patterns for untyped errors.
func ClassifyError(err error) *WorkflowError {
	if err == nil {
		return nil
	}

	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr
	}

	if workflowErr := classifyTypedErrors(err); workflowErr != nil {
		return workflowErr
	}

	if workflowErr := classifySentinelErrors(err); workflowErr != nil {
		return workflowErr
	}

	if IsNetworkError(err) {
		return &WorkflowError{
			Type:      ErrorTypeNetwork,
			Message:   "Network error",
			Code:      "NETWORK_ERROR",
			Retryable: true,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	}

	return classifyStringPatternErrors(err)
}

// classifyTypedErrors handles strongly-typed error classification.
func classifyTypedErrors(err error) *WorkflowError {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return &WorkflowError{
			Type:      ErrorTypeExhausted,
			Message:   exhausted.Error(),
			Code:      "RETRIES_EXHAUSTED",
			Retryable: false,
			Details: map[string]any{
				"op":       exhausted.Op,
				"attempts": exhausted.Attempts,
			},
			Cause: err,
		}
	}

	var remoteFailure *RemoteFailure
	if errors.As(err, &remoteFailure) {
		return &WorkflowError{
			Type:      ErrorTypeRemoteFailure,
			Message:   remoteFailure.Error(),
			Code:      "REMOTE_FAILURE",
			Retryable: false,
			Details: map[string]any{
				"job_id":  remoteFailure.JobID,
				"payload": string(remoteFailure.Payload),
			},
			Cause: err,
		}
	}

	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return &WorkflowError{
			Type:      remoteErr.Type,
			Message:   remoteErr.Message,
			Code:      strings.ToUpper(string(remoteErr.Type)),
			Retryable: remoteErr.IsRetryable(),
			Details: map[string]any{
				"op":          remoteErr.Op,
				"status_code": remoteErr.StatusCode,
				"retry_after": remoteErr.RetryAfter,
			},
			Cause: err,
		}
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   rateLimitErr.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Details: map[string]any{
				"op":          rateLimitErr.Op,
				"retry_after": rateLimitErr.RetryAfter,
			},
			Cause: err,
		}
	}

	var serErr *SerializationError
	if errors.As(err, &serErr) {
		return &WorkflowError{
			Type:      ErrorTypeSerialization,
			Message:   serErr.Error(),
			Code:      "SERIALIZATION",
			Retryable: false,
			Details: map[string]any{
				"session_id": serErr.SessionID,
				"field":      serErr.Field,
			},
			Cause: err,
		}
	}

	var unbound *UnboundSessionError
	if errors.As(err, &unbound) {
		return &WorkflowError{
			Type:      ErrorTypeUnboundSession,
			Message:   unbound.Error(),
			Code:      "UNBOUND_SESSION",
			Retryable: false,
			Details:   map[string]any{"session_id": unbound.SessionID},
			Cause:     err,
		}
	}

	var bound *AlreadyBoundError
	if errors.As(err, &bound) {
		return &WorkflowError{
			Type:      ErrorTypeAlreadyBound,
			Message:   bound.Error(),
			Code:      "ALREADY_BOUND",
			Retryable: false,
			Details: map[string]any{
				"session_id": bound.SessionID,
				"existing":   bound.Existing,
				"attempted":  bound.Attempted,
			},
			Cause: err,
		}
	}

	var unknownStep *UnknownStepError
	if errors.As(err, &unknownStep) {
		return &WorkflowError{
			Type:      ErrorTypeUnknownStep,
			Message:   unknownStep.Error(),
			Code:      "UNKNOWN_STEP",
			Retryable: false,
			Details:   map[string]any{"step": unknownStep.Step},
			Cause:     err,
		}
	}

	return nil
}

// classifySentinelErrors handles sentinel and context error classification.
func classifySentinelErrors(err error) *WorkflowError {
	switch {
	case errors.Is(err, context.Canceled):
		return &WorkflowError{
			Type:      ErrorTypeCanceled,
			Message:   err.Error(),
			Code:      "CANCELED",
			Retryable: false,
			Cause:     err,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &WorkflowError{
			Type:      ErrorTypeTimeout,
			Message:   err.Error(),
			Code:      "TIMEOUT",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrRateLimitExceeded):
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   err.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrRemoteUnavailable):
		return &WorkflowError{
			Type:      ErrorTypeUnavailable,
			Message:   err.Error(),
			Code:      "REMOTE_UNAVAILABLE",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrPollTimeout):
		return &WorkflowError{
			Type:      ErrorTypeTimeout,
			Message:   err.Error(),
			Code:      "POLL_TIMEOUT",
			Retryable: false,
			Cause:     err,
		}
	case errors.Is(err, ErrInvalidResponse):
		return &WorkflowError{
			Type:      ErrorTypeSerialization,
			Message:   err.Error(),
			Code:      "INVALID_RESPONSE",
			Retryable: false,
			Cause:     err,
		}
	}

	return nil
}

// classifyStringPatternErrors handles untyped error classification.
func classifyStringPatternErrors(err error) *WorkflowError {
	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "rate limit"):
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   "Rate limit exceeded",
			Code:      "RATE_LIMIT",
			Retryable: true,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		return &WorkflowError{
			Type:      ErrorTypeTimeout,
			Message:   "Request timeout",
			Code:      "TIMEOUT",
			Retryable: true,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	default:
		return &WorkflowError{
			Type:      ErrorTypeUnknown,
			Message:   "Unknown error",
			Code:      "UNKNOWN",
			Retryable: false,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	}
}

// IsNetworkError checks if an error is a network-related error using type
// assertions, falling back to well-known message fragments for errors that
// lost their type along the way.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) && netErr.Timeout() {
			return true
		}
		return isNetworkErrorByString(urlErr.Err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return isNetworkErrorByString(err.Error())
}

// isNetworkErrorByString checks for network errors using string patterns.
func isNetworkErrorByString(errStr string) bool {
	lowered := strings.ToLower(errStr)
	for _, indicator := range networkErrorIndicators {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}

// networkErrorIndicators are pre-lowercased network error fragments.
var networkErrorIndicators = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"unexpected eof",
}
