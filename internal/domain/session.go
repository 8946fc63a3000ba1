package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepID identifies one stage of a pipeline.
type StepID string

// String returns the step identifier as a plain string.
func (s StepID) String() string { return string(s) }

// Steps of the reviewer discovery pipeline, in the order the remote service
// expects them to run.
const (
	StepUpload          StepID = "UPLOAD"
	StepMetadata        StepID = "METADATA"
	StepKeywords        StepID = "KEYWORDS"
	StepKeywordString   StepID = "KEYWORD_STRING"
	StepSearch          StepID = "SEARCH"
	StepManualAuthors   StepID = "MANUAL_AUTHORS"
	StepValidate        StepID = "VALIDATE"
	StepRecommendations StepID = "RECOMMENDATIONS"
)

// ScholarFinderSteps returns the default reviewer discovery pipeline.
// A fresh slice is returned on every call so callers may modify it.
func ScholarFinderSteps() Steps {
	return Steps{
		StepUpload,
		StepMetadata,
		StepKeywords,
		StepKeywordString,
		StepSearch,
		StepManualAuthors,
		StepValidate,
		StepRecommendations,
	}
}

// Steps is a fixed, ordered list of step identifiers.
type Steps []StepID

// Validate reports whether the sequence is usable by a sequencer: it must be
// non-empty, contain no blank identifiers and no duplicates.
func (s Steps) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: at least one step is required", ErrInvalidSteps)
	}
	seen := make(map[StepID]struct{}, len(s))
	for i, id := range s {
		if id == "" {
			return fmt.Errorf("%w: step %d has an empty identifier", ErrInvalidSteps, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateStep, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Index returns the position of id in the sequence, or -1 when absent.
func (s Steps) Index(id StepID) int {
	for i, candidate := range s {
		if candidate == id {
			return i
		}
	}
	return -1
}

// Last returns the index of the final step.
func (s Steps) Last() int { return len(s) - 1 }

// ParseSteps converts plain strings into a validated step sequence.
func ParseSteps(raw []string) (Steps, error) {
	steps := make(Steps, len(raw))
	for i, r := range raw {
		steps[i] = StepID(r)
	}
	if err := steps.Validate(); err != nil {
		return nil, err
	}
	return steps, nil
}

// Session is the read model of one pipeline run. It is assembled from the
// session store and is never itself the unit of persistence: every field is
// stored under its own key.
type Session struct {
	ID               string                     `json:"session_id" validate:"required"`
	CurrentStepIndex int                        `json:"current_step_index" validate:"min=0"`
	CurrentStep      StepID                     `json:"current_step"`
	Complete         bool                       `json:"complete"`
	StepData         map[StepID]json.RawMessage `json:"step_data,omitempty"`
	Progress         map[StepID]json.RawMessage `json:"progress,omitempty"`
	Binding          *JobBinding                `json:"binding,omitempty"`
}

// Validate checks the session read model against its structural invariants.
func (s *Session) Validate() error {
	return validate.Struct(s)
}

// JobBinding maps a local session to the identifier the remote service
// assigned to its unit of work.
type JobBinding struct {
	SessionID   string    `json:"session_id" validate:"required"`
	RemoteJobID string    `json:"remote_job_id" validate:"required"`
	BoundAt     time.Time `json:"bound_at"`
}

// Validate ensures both identifiers are present.
func (b *JobBinding) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBinding, err)
	}
	return nil
}
