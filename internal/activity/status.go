// Package activity implements the Temporal activities behind durable job
// polling. Activities perform the remote I/O; the workflow package decides
// when to call them.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/go-reviewflow/internal/domain"
	"github.com/ahrav/go-reviewflow/internal/flow/retry"
	pkgactivity "github.com/ahrav/go-reviewflow/pkg/activity"
	"github.com/ahrav/go-reviewflow/pkg/events"
)

// GetJobStatusName is the registered name of StatusActivities.GetJobStatus.
const GetJobStatusName = "GetJobStatus"

const eventSource = "reviewflow.activity"

// StatusFetcher reads one status observation of a remote job.
type StatusFetcher interface {
	GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error)
}

// StatusRequest is the input of GetJobStatus.
type StatusRequest struct {
	SessionID string `json:"session_id,omitempty"`
	JobID     string `json:"job_id" validate:"required"`
	// Poll is the 1-based poll number within the workflow.
	Poll int `json:"poll" validate:"gte=1"`
}

// Validate checks the request shape.
func (r StatusRequest) Validate() error {
	if err := domain.Validator().Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrActivityValidation, err)
	}
	return nil
}

// StatusActivities reads remote job status on behalf of PollJobWorkflow.
type StatusActivities struct {
	pkgactivity.Base
	api    StatusFetcher
	policy *retry.Policy
}

// NewStatusActivities creates the status activities. policy decides which
// fetch errors are returned as non-retryable.
func NewStatusActivities(base pkgactivity.Base, api StatusFetcher, policy *retry.Policy) *StatusActivities {
	return &StatusActivities{
		Base:   base,
		api:    api,
		policy: policy,
	}
}

// GetJobStatus fetches the status of req.JobID once. Retries are left to the
// Temporal activity retry policy; errors that would never succeed on retry
// come back non-retryable.
func (a *StatusActivities) GetJobStatus(ctx context.Context, req StatusRequest) (domain.JobStatus, error) {
	if err := req.Validate(); err != nil {
		return domain.JobStatus{}, nonRetryable(ErrorTypeValidation, err, "invalid status request")
	}

	info, _ := a.Info(ctx)
	a.Heartbeat(ctx, req.Poll)

	status, err := a.api.GetStatus(ctx, req.JobID)
	if err != nil {
		a.Log(ctx).Error("status fetch failed",
			"job_id", req.JobID,
			"poll", req.Poll,
			"attempt", info.Attempt,
			"error", err)
		return domain.JobStatus{}, toApplicationError(a.policy, "get_status "+req.JobID, err)
	}

	state := domain.PollPolling
	switch {
	case status.Succeeded():
		state = domain.PollCompleted
	case status.Failed():
		state = domain.PollFailed
	}
	progress := domain.PollProgress{
		JobID:      req.JobID,
		State:      state,
		Attempts:   req.Poll,
		Progress:   status.Progress,
		LastStatus: &status,
		Details:    status.Error,
		UpdatedAt:  time.Now().UTC(),
	}
	a.Emit(ctx, events.New(string(domain.EventTypePollProgress), eventSource, req.SessionID, req.JobID, progress))

	return status, nil
}
