package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-reviewflow/internal/activity"
	"github.com/ahrav/go-reviewflow/internal/domain"
	"github.com/ahrav/go-reviewflow/internal/flow/configuration"
	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
)

// ProgressQuery is the query type that returns the current PollResult.
const ProgressQuery = "progress"

// PollRequest is the input of PollJobWorkflow.
type PollRequest struct {
	SessionID string `json:"session_id,omitempty"`
	JobID     string `json:"job_id" validate:"required"`
	// Interval between status reads. Zero uses the default poll interval.
	Interval time.Duration `json:"interval" validate:"gte=0"`
	// MaxPolls caps the number of status reads. Zero uses DefaultMaxPolls.
	MaxPolls int `json:"max_polls" validate:"gte=0"`
}

// Validate checks the request shape.
func (r PollRequest) Validate() error {
	return domain.Validator().Struct(r)
}

// PollResult reports the last observed status of the job.
type PollResult struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
	Polls  int              `json:"polls"`
}

// PollJobWorkflow reads the status of req.JobID every req.Interval until the
// job is terminal. A failed job ends the workflow with a non-retryable
// RemoteFailure error carrying the remote payload. Running out of polls ends
// it with a non-retryable PollLimit error.
//
// Transient fetch errors are retried by the activity retry policy; the
// workflow only sees errors that survived it.
func PollJobWorkflow(ctx workflow.Context, req PollRequest) (*PollResult, error) {
	// Version gate enables safe evolution and backward compatibility.
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "poll-job.v", workflow.DefaultVersion, currentVersion)

	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid poll request",
			activity.ErrorTypeValidation,
			err,
		)
	}

	interval := req.Interval
	if interval <= 0 {
		interval = configuration.DefaultPollInterval
	}
	maxPolls := req.MaxPolls
	if maxPolls <= 0 {
		maxPolls = configuration.DefaultMaxPolls
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    configuration.DefaultMaxAttempts,
			NonRetryableErrorTypes: []string{
				activity.ErrorTypeValidation,
				activity.ErrorTypeRemoteFailure,
			},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	result := &PollResult{JobID: req.JobID}
	if err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (PollResult, error) {
		return *result, nil
	}); err != nil {
		return nil, err
	}

	logger := workflow.GetLogger(ctx)

	for poll := 1; poll <= maxPolls; poll++ {
		var status domain.JobStatus
		err := workflow.ExecuteActivity(ctx, activity.GetJobStatusName, activity.StatusRequest{
			SessionID: req.SessionID,
			JobID:     req.JobID,
			Poll:      poll,
		}).Get(ctx, &status)
		if err != nil {
			logger.Warn("status read failed", "job_id", req.JobID, "poll", poll, "error", err)
			return nil, err
		}

		result.Status = status
		result.Polls = poll

		if status.Failed() {
			failure := &flowerrors.RemoteFailure{JobID: req.JobID, Payload: status.Error}
			return nil, temporal.NewNonRetryableApplicationError(
				failure.Error(),
				activity.ErrorTypeRemoteFailure,
				failure,
				status.Error,
			)
		}
		if status.Succeeded() {
			logger.Info("job completed", "job_id", req.JobID, "polls", poll)
			return result, nil
		}

		if err := workflow.Sleep(ctx, interval); err != nil {
			return nil, err
		}
	}

	return nil, temporal.NewNonRetryableApplicationError(
		fmt.Sprintf("job %s not finished after %d polls", req.JobID, maxPolls),
		activity.ErrorTypePollLimit,
		nil,
	)
}
