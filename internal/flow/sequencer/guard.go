package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ahrav/go-reviewflow/internal/domain"
	"github.com/ahrav/go-reviewflow/internal/flow/lock"
)

// Outcome reports whether a guarded action ran.
type Outcome int

const (
	// OutcomeNone means the guard itself failed before the action could run.
	OutcomeNone Outcome = iota
	// OutcomeRan means the action ran; its error, if any, is returned.
	OutcomeRan
	// OutcomeBusy means another invocation held the guard and this one was
	// dropped.
	OutcomeBusy
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeRan:
		return "ran"
	case OutcomeBusy:
		return "busy"
	default:
		return "none"
	}
}

// Operation names used for the built-in guarded actions.
const (
	OperationSubmit = "submit"
)

// RunGuarded runs action unless another invocation of the same operation is
// in progress for this session, in which case it returns OutcomeBusy and a nil
// error without calling action. The action's context is bounded by the call
// timeout. The guard is released on every path, panics included, and the
// action's error is returned unchanged.
func (s *Sequencer) RunGuarded(ctx context.Context, op string, action func(ctx context.Context) error) (Outcome, error) {
	return s.guard(ctx, op, func(ctx context.Context) error {
		return s.call(ctx, action)
	})
}

// guard holds the (session, op) lock around fn without imposing a timeout.
func (s *Sequencer) guard(ctx context.Context, op string, fn func(ctx context.Context) error) (Outcome, error) {
	tok, err := s.locker.TryAcquire(ctx, lock.Key{SessionID: s.sessionID, Operation: op})
	if errors.Is(err, lock.ErrBusy) {
		s.logger.DebugContext(ctx, "operation already in progress, dropping", "op", op)
		return OutcomeBusy, nil
	}
	if err != nil {
		return OutcomeNone, fmt.Errorf("acquire %s: %w", op, err)
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := s.locker.Release(releaseCtx, tok); err != nil {
			s.logger.ErrorContext(ctx, "failed to release operation lock",
				"op", op,
				"error", err)
		}
	}()

	return OutcomeRan, fn(ctx)
}

// call runs fn under the call timeout.
func (s *Sequencer) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// Submit creates the remote job for this session and binds it. A session
// already bound to a different job fails with *flowerrors.AlreadyBoundError;
// use Resubmit to replace the binding.
func (s *Sequencer) Submit(ctx context.Context, input any) (Outcome, string, error) {
	return s.submit(ctx, input, false)
}

// Resubmit creates a new remote job and replaces any existing binding.
func (s *Sequencer) Resubmit(ctx context.Context, input any) (Outcome, string, error) {
	return s.submit(ctx, input, true)
}

func (s *Sequencer) submit(ctx context.Context, input any, replace bool) (Outcome, string, error) {
	raw, err := marshalInput(s.sessionID, OperationSubmit, input)
	if err != nil {
		return OutcomeNone, "", err
	}

	var jobID string
	outcome, err := s.guard(ctx, OperationSubmit, func(ctx context.Context) error {
		if err := s.call(ctx, func(ctx context.Context) error {
			id, err := s.api.Submit(ctx, raw)
			jobID = id
			return err
		}); err != nil {
			return err
		}
		return s.bind(ctx, jobID, replace)
	})
	return outcome, jobID, err
}

func (s *Sequencer) bind(ctx context.Context, jobID string, replace bool) error {
	if replace {
		previous, err := s.binder.Rebind(ctx, s.sessionID, jobID)
		if err != nil {
			return err
		}
		if previous != jobID {
			s.emitBound(ctx, jobID, previous)
		}
		return nil
	}

	created, err := s.binder.Bind(ctx, s.sessionID, jobID)
	if err != nil {
		return err
	}
	if created {
		s.emitBound(ctx, jobID, "")
	}
	return nil
}

func (s *Sequencer) emitBound(ctx context.Context, jobID, previous string) {
	b, _, err := s.binder.Lookup(ctx, s.sessionID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read new binding", "error", err)
	}
	s.logger.InfoContext(ctx, "session bound to remote job",
		"job_id", jobID,
		"previous", previous)
	s.emit(ctx, domain.EventTypeJobBound, jobID, domain.JobBoundPayload{
		RemoteJobID: jobID,
		Previous:    previous,
		BoundAt:     b.BoundAt,
	})
}

// Trigger starts op on the bound job. It fails with
// *flowerrors.UnboundSessionError before submission and is never retried.
func (s *Sequencer) Trigger(ctx context.Context, op string, input any) (Outcome, json.RawMessage, error) {
	raw, err := marshalInput(s.sessionID, op, input)
	if err != nil {
		return OutcomeNone, nil, err
	}

	var out json.RawMessage
	outcome, err := s.guard(ctx, op, func(ctx context.Context) error {
		jobID, err := s.binder.Resolve(ctx, s.sessionID)
		if err != nil {
			return err
		}
		return s.call(ctx, func(ctx context.Context) error {
			resp, err := s.api.Trigger(ctx, jobID, op, raw)
			out = resp
			return err
		})
	})
	return outcome, out, err
}
