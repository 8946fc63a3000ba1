package poll

import (
	"errors"
	"time"

	"github.com/ahrav/go-reviewflow/internal/domain"
	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
)

// Snapshot is a point-in-time copy of a poll task. Snapshots of a terminal
// task never change.
type Snapshot struct {
	TaskID     string
	JobID      string
	State      domain.PollState
	LastStatus *domain.JobStatus
	// Attempts counts fetches that returned a status.
	Attempts int
	// Failures counts consecutive retryable fetch failures since the last
	// successful fetch.
	Failures  int
	Interval  time.Duration
	Err       error
	StartedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the task has stopped for good.
func (s Snapshot) Terminal() bool { return s.State.IsTerminal() }

// Progress projects the snapshot into its persisted read-model form.
func (s Snapshot) Progress() domain.PollProgress {
	p := domain.PollProgress{
		JobID:     s.JobID,
		State:     s.State,
		Attempts:  s.Attempts,
		UpdatedAt: s.UpdatedAt,
	}
	if s.LastStatus != nil {
		status := *s.LastStatus
		p.LastStatus = &status
		p.Progress = status.Progress
	}
	if s.Err != nil {
		p.Error = s.Err.Error()
		var failure *flowerrors.RemoteFailure
		if errors.As(s.Err, &failure) {
			p.Details = failure.Payload
		}
	}
	return p
}

func (s Snapshot) clone() Snapshot {
	if s.LastStatus != nil {
		status := *s.LastStatus
		s.LastStatus = &status
	}
	return s
}
