package activity

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
	"github.com/ahrav/go-reviewflow/internal/flow/retry"
)

// ErrActivityValidation is returned when activity input validation fails.
// It is never retried.
var ErrActivityValidation = errors.New("activity input validation failed")

// Application error types reported to workflows. Workflows match on these
// through temporal.ApplicationError.Type.
const (
	ErrorTypeValidation    = "Validation"
	ErrorTypeRemoteFailure = "RemoteFailure"
	ErrorTypePollLimit     = "PollLimit"
)

// toApplicationError converts a status fetch failure into a Temporal
// application error. Errors the policy considers fatal for reads are marked
// non-retryable so Temporal stops immediately; everything else is left to
// the activity retry policy.
func toApplicationError(policy *retry.Policy, op string, err error) error {
	var failure *flowerrors.RemoteFailure
	if errors.As(err, &failure) {
		return temporal.NewNonRetryableApplicationError(
			failure.Error(), ErrorTypeRemoteFailure, err, failure.Payload)
	}

	errType := "Unknown"
	if wfErr := flowerrors.ClassifyError(err); wfErr != nil {
		errType = string(wfErr.Type)
	}

	msg := fmt.Sprintf("%s failed", op)
	if policy.Classify(retry.KindRead, err) == retry.Fatal {
		return nonRetryable(errType, err, msg)
	}
	return retryable(errType, err, msg)
}

// nonRetryable wraps an error as a Temporal non-retryable application error.
func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}

// retryable wraps an error as a Temporal retryable application error.
func retryable(tag string, cause error, msg string) error {
	return temporal.NewApplicationErrorWithCause(msg, tag, cause)
}
