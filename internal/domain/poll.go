package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PollState is the lifecycle state of a single poll task. States only move
// forward: Idle, then Polling, then exactly one terminal state.
type PollState int32

const (
	// PollIdle is a task that has been created but not started.
	PollIdle PollState = iota
	// PollPolling is a task with a live tick loop.
	PollPolling
	// PollCompleted is a task whose job reached a successful terminal status.
	PollCompleted
	// PollFailed is a task whose job failed or whose fetches could not recover.
	PollFailed
	// PollCancelled is a task stopped by its owner.
	PollCancelled
)

// String returns the state name used in logs and persisted progress.
func (s PollState) String() string {
	switch s {
	case PollIdle:
		return "idle"
	case PollPolling:
		return "polling"
	case PollCompleted:
		return "completed"
	case PollFailed:
		return "failed"
	case PollCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// MarshalText encodes the state by name.
func (s PollState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *PollState) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "idle":
		*s = PollIdle
	case "polling":
		*s = PollPolling
	case "completed":
		*s = PollCompleted
	case "failed":
		*s = PollFailed
	case "cancelled":
		*s = PollCancelled
	default:
		return fmt.Errorf("%w: unknown poll state %q", ErrInvalidTransition, text)
	}
	return nil
}

// IsTerminal reports whether no further transitions are possible.
func (s PollState) IsTerminal() bool {
	return s == PollCompleted || s == PollFailed || s == PollCancelled
}

// CanTransition reports whether moving from s to next is allowed.
func (s PollState) CanTransition(next PollState) bool {
	switch s {
	case PollIdle:
		return next == PollPolling || next == PollCancelled
	case PollPolling:
		return next.IsTerminal()
	default:
		return false
	}
}

// RemoteState is the job state reported by the remote status endpoint.
type RemoteState string

const (
	RemotePending   RemoteState = "Pending"
	RemoteRunning   RemoteState = "Running"
	RemoteSucceeded RemoteState = "Succeeded"
	RemoteFailed    RemoteState = "Failed"
)

// JobStatus is one observation of a remote job.
type JobStatus struct {
	State    RemoteState     `json:"state" validate:"required,oneof=Pending Running Succeeded Failed"`
	Progress int             `json:"progress" validate:"min=0,max=100"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
}

// Validate checks the status against the remote contract.
func (s *JobStatus) Validate() error {
	return validate.Struct(s)
}

// Succeeded reports whether the job finished successfully.
func (s JobStatus) Succeeded() bool { return s.State == RemoteSucceeded }

// Failed reports whether the job finished unsuccessfully.
func (s JobStatus) Failed() bool { return s.State == RemoteFailed }

// Terminal reports whether the remote job will not change state again.
func (s JobStatus) Terminal() bool { return s.Succeeded() || s.Failed() }
