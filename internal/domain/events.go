package domain

import (
	"encoding/json"
	"time"
)

// EventType represents the type of event emitted by the session engine.
type EventType string

const (
	// EventTypeStepAdvanced is emitted after a step result is persisted and the
	// session moves forward.
	EventTypeStepAdvanced EventType = "StepAdvanced"

	// EventTypeStepChanged is emitted after explicit navigation to a step.
	EventTypeStepChanged EventType = "StepChanged"

	// EventTypeJobBound is emitted when a session is first bound to a remote job
	// or explicitly rebound.
	EventTypeJobBound EventType = "JobBound"

	// EventTypePollProgress is emitted for every poll state or status change.
	EventTypePollProgress EventType = "PollProgress"

	// EventTypeSessionReset is emitted after all stored session state is cleared.
	EventTypeSessionReset EventType = "SessionReset"
)

// StepAdvancedPayload describes a forward move through the pipeline.
type StepAdvancedPayload struct {
	From      StepID `json:"from"`
	To        StepID `json:"to"`
	FromIndex int    `json:"from_index"`
	ToIndex   int    `json:"to_index"`
}

// StepChangedPayload describes explicit navigation.
type StepChangedPayload struct {
	From StepID `json:"from"`
	To   StepID `json:"to"`
}

// JobBoundPayload describes a new or replaced binding.
type JobBoundPayload struct {
	RemoteJobID string    `json:"remote_job_id"`
	Previous    string    `json:"previous,omitempty"`
	BoundAt     time.Time `json:"bound_at"`
}

// PollProgress is the persisted projection of a poll task, stored per step so
// hosts can render progress without holding a poll handle.
type PollProgress struct {
	JobID      string          `json:"job_id"`
	State      PollState       `json:"state"`
	Attempts   int             `json:"attempts"`
	Progress   int             `json:"progress"`
	LastStatus *JobStatus      `json:"last_status,omitempty"`
	Error      string          `json:"error,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
