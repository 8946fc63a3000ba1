package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ahrav/go-reviewflow/internal/domain"
	"github.com/ahrav/go-reviewflow/internal/flow/poll"
)

// ErrPollCancelled is returned by Execute when the poll task it awaited was
// cancelled before the job finished.
var ErrPollCancelled = errors.New("poll cancelled before the job finished")

// ErrNoResourceFetcher is returned when a StepAction names a resource but the
// job API cannot fetch resources.
var ErrNoResourceFetcher = errors.New("job api does not support resource fetches")

// StepAction describes the remote work behind the current step.
type StepAction struct {
	// Operation names the guard and, for triggers, the remote action. Submit
	// actions always run under the OperationSubmit guard.
	Operation string `json:"operation" validate:"required,excludesall=:"`
	// Input is the request document.
	Input any `json:"input,omitempty"`
	// Submit creates and binds the job instead of triggering an action.
	Submit bool `json:"submit"`
	// Await polls the job until it reaches a terminal status.
	Await bool `json:"await"`
	// Resource, when set, is fetched after success and used as the step result.
	Resource string `json:"resource,omitempty" validate:"omitempty,excludesall=/"`
	// Advance moves to the next step once the result is stored.
	Advance bool `json:"advance"`
}

// Validate checks the action's shape.
func (a StepAction) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("invalid step action: %w", err)
	}
	return nil
}

// Execute runs action for the current step under its guard: submit or
// trigger, optionally await the job, then store the result and optionally
// advance. A Busy outcome leaves everything untouched. Failures are returned
// without storing anything.
func (s *Sequencer) Execute(ctx context.Context, action StepAction) (Outcome, json.RawMessage, error) {
	if err := action.Validate(); err != nil {
		return OutcomeNone, nil, err
	}
	raw, err := marshalInput(s.sessionID, action.Operation, action.Input)
	if err != nil {
		return OutcomeNone, nil, err
	}

	op := action.Operation
	if action.Submit {
		op = OperationSubmit
	}

	step := s.Current()
	var result json.RawMessage
	outcome, err := s.guard(ctx, op, func(ctx context.Context) error {
		res, err := s.execute(ctx, step, action, raw)
		if err != nil {
			return err
		}
		result = res

		if action.Advance {
			_, err = s.advanceFrom(ctx, step, result)
			return err
		}
		return s.store.Set(ctx, s.sessionID, step.String(), result)
	})
	return outcome, result, err
}

func (s *Sequencer) execute(ctx context.Context, step domain.StepID, action StepAction, input json.RawMessage) (json.RawMessage, error) {
	var (
		jobID  string
		result json.RawMessage
	)

	if action.Submit {
		if err := s.call(ctx, func(ctx context.Context) error {
			id, err := s.api.Submit(ctx, input)
			jobID = id
			return err
		}); err != nil {
			return nil, err
		}
		if err := s.bind(ctx, jobID, false); err != nil {
			return nil, err
		}
		result, _ = json.Marshal(map[string]string{"job_id": jobID})
	} else {
		id, err := s.binder.Resolve(ctx, s.sessionID)
		if err != nil {
			return nil, err
		}
		jobID = id
		if err := s.call(ctx, func(ctx context.Context) error {
			resp, err := s.api.Trigger(ctx, jobID, action.Operation, input)
			result = resp
			return err
		}); err != nil {
			return nil, err
		}
	}

	if action.Await {
		snap, err := s.await(ctx, step, jobID)
		if err != nil {
			return nil, err
		}
		if snap.LastStatus != nil && len(snap.LastStatus.Result) > 0 {
			result = snap.LastStatus.Result
		}
	}

	if action.Resource != "" {
		fetcher, ok := s.api.(ResourceFetcher)
		if !ok {
			return nil, ErrNoResourceFetcher
		}
		// Fetch retries on its own, so only the outer context bounds it.
		res, err := fetcher.Fetch(ctx, jobID, action.Resource)
		if err != nil {
			return nil, err
		}
		result = res
	}

	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return result, nil
}

// advanceFrom advances only if step is still current, so navigation during a
// long-running action does not store the result under another step.
func (s *Sequencer) advanceFrom(ctx context.Context, step domain.StepID, result json.RawMessage) (domain.StepID, error) {
	if current := s.Current(); current != step {
		s.logger.WarnContext(ctx, "step changed during action, storing without advancing",
			"action_step", step,
			"current", current)
		return current, s.store.Set(ctx, s.sessionID, step.String(), result)
	}
	return s.Advance(ctx, result)
}

// await starts a poll task for step and blocks until it is terminal.
func (s *Sequencer) await(ctx context.Context, step domain.StepID, jobID string) (poll.Snapshot, error) {
	h, err := s.StartPoll(ctx, step, jobID)
	if err != nil {
		return poll.Snapshot{}, err
	}

	snap, err := h.Wait(ctx)
	if err != nil {
		s.engine.Cancel(h)
		return snap, err
	}

	switch snap.State {
	case domain.PollCompleted:
		return snap, nil
	case domain.PollCancelled:
		return snap, ErrPollCancelled
	default:
		return snap, snap.Err
	}
}
