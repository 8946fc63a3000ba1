// Package sequencer drives a session through its ordered pipeline of steps.
//
// The sequencer owns the current step index and persists it, together with
// each step's result, in the session store. Remote work runs through
// RunGuarded, which admits one invocation per (session, operation) and drops
// the rest, and long-running jobs are followed by poll tasks whose progress is
// projected into the store so hosts can render it without a poll handle.
package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahrav/go-reviewflow/internal/domain"
	"github.com/ahrav/go-reviewflow/internal/flow/binding"
	"github.com/ahrav/go-reviewflow/internal/flow/configuration"
	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
	"github.com/ahrav/go-reviewflow/internal/flow/lock"
	"github.com/ahrav/go-reviewflow/internal/flow/poll"
	"github.com/ahrav/go-reviewflow/internal/flow/store"
	"github.com/ahrav/go-reviewflow/pkg/events"
)

// eventSource identifies sequencer events in envelopes.
const eventSource = "sequencer"

// releaseTimeout bounds lock release after the caller's context is gone.
const releaseTimeout = 5 * time.Second

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("sequencer: missing dependency")

// JobAPI is the remote job service consumed by the sequencer.
type JobAPI interface {
	// Submit creates a job. Not idempotent.
	Submit(ctx context.Context, input json.RawMessage) (string, error)
	// GetStatus reads a job's status. Idempotent.
	GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error)
	// Trigger starts an action on a job. Not idempotent.
	Trigger(ctx context.Context, jobID, action string, input json.RawMessage) (json.RawMessage, error)
}

// ResourceFetcher is implemented by job APIs that can read job resources.
type ResourceFetcher interface {
	Fetch(ctx context.Context, jobID, resource string) (json.RawMessage, error)
}

// Dependencies are the collaborators of a Sequencer. Store, Locker, Engine and
// API are required.
type Dependencies struct {
	Store  *store.Store
	Locker lock.Locker
	Engine *poll.Engine
	API    JobAPI
	Events events.EventSink
	Logger *slog.Logger
}

// Options tune a Sequencer.
type Options struct {
	// Steps is the pipeline. Empty means the reviewer discovery pipeline.
	Steps domain.Steps
	// CallTimeout bounds each remote call made under a guard.
	CallTimeout time.Duration
	// PollInterval is the status polling cadence. Zero uses the engine default.
	PollInterval time.Duration
}

// OptionsFromConfig derives sequencer options from the engine configuration.
func OptionsFromConfig(cfg *configuration.Config) (Options, error) {
	steps := domain.ScholarFinderSteps()
	if len(cfg.Steps) > 0 {
		parsed, err := domain.ParseSteps(cfg.Steps)
		if err != nil {
			return Options{}, err
		}
		steps = parsed
	}
	return Options{
		Steps:        steps,
		CallTimeout:  cfg.CallTimeout,
		PollInterval: cfg.Poll.Interval,
	}, nil
}

// Sequencer is the step state machine of one session.
type Sequencer struct {
	sessionID string
	steps     domain.Steps
	opts      Options

	store  *store.Store
	binder *binding.Binder
	locker lock.Locker
	engine *poll.Engine
	api    JobAPI
	events events.EventSink
	logger *slog.Logger

	mu       sync.RWMutex
	index    int
	complete bool

	pollMu sync.Mutex
	polls  map[domain.StepID]map[*poll.Handle]struct{}
}

// New loads or initialises the state of sessionID. A stored index outside
// the pipeline is clamped to its bounds.
func New(ctx context.Context, sessionID string, opts Options, deps Dependencies) (*Sequencer, error) {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Locker == nil || deps.Engine == nil || deps.API == nil {
		return nil, ErrMissingDependency
	}
	if len(opts.Steps) == 0 {
		opts.Steps = domain.ScholarFinderSteps()
	}
	if err := opts.Steps.Validate(); err != nil {
		return nil, err
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = configuration.DefaultCallTimeout
	}
	if deps.Events == nil {
		deps.Events = events.NewNoOpEventSink()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Sequencer{
		sessionID: sessionID,
		steps:     append(domain.Steps(nil), opts.Steps...),
		opts:      opts,
		store:     deps.Store,
		binder:    binding.New(deps.Store),
		locker:    deps.Locker,
		engine:    deps.Engine,
		api:       deps.API,
		events:    deps.Events,
		logger:    deps.Logger.With("component", "sequencer", "session_id", sessionID),
		polls:     make(map[domain.StepID]map[*poll.Handle]struct{}),
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sequencer) load(ctx context.Context) error {
	var index int
	found, err := s.store.Get(ctx, s.sessionID, store.FieldCurrentStepIndex, &index)
	if err != nil {
		return err
	}

	if !found {
		s.logger.InfoContext(ctx, "starting new session", "step", s.steps[0])
		return s.store.Set(ctx, s.sessionID, store.FieldCurrentStepIndex, 0)
	}

	clamped := min(max(index, 0), s.steps.Last())
	if clamped != index {
		s.logger.WarnContext(ctx, "stored step index out of range, clamping",
			"stored", index,
			"clamped", clamped)
		if err := s.store.Set(ctx, s.sessionID, store.FieldCurrentStepIndex, clamped); err != nil {
			return err
		}
	}
	s.index = clamped

	last := s.steps[s.steps.Last()]
	_, done, err := s.store.GetRaw(ctx, s.sessionID, last.String())
	if err != nil {
		return err
	}
	s.complete = done && clamped == s.steps.Last()
	return nil
}

// SessionID returns the session this sequencer drives.
func (s *Sequencer) SessionID() string { return s.sessionID }

// Steps returns a copy of the pipeline.
func (s *Sequencer) Steps() domain.Steps {
	return append(domain.Steps(nil), s.steps...)
}

// CurrentIndex returns the position of the current step.
func (s *Sequencer) CurrentIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// Current returns the current step.
func (s *Sequencer) Current() domain.StepID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.steps[s.index]
}

// IsComplete reports whether the final step has a persisted result.
func (s *Sequencer) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complete
}

// Advance persists result as the current step's data and moves to the next
// step. At the final step the result is stored and the index stays put. If
// the result cannot be stored the sequencer does not move.
func (s *Sequencer) Advance(ctx context.Context, result any) (domain.StepID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.index
	step := s.steps[from]
	if err := s.store.Set(ctx, s.sessionID, step.String(), result); err != nil {
		return step, err
	}

	if from == s.steps.Last() {
		s.complete = true
		s.logger.InfoContext(ctx, "final step result stored", "step", step)
		return step, nil
	}

	to := from + 1
	if err := s.store.Set(ctx, s.sessionID, store.FieldCurrentStepIndex, to); err != nil {
		return step, err
	}
	s.index = to

	s.logger.InfoContext(ctx, "step advanced", "from", step, "to", s.steps[to])
	s.emit(ctx, domain.EventTypeStepAdvanced, "", domain.StepAdvancedPayload{
		From:      step,
		To:        s.steps[to],
		FromIndex: from,
		ToIndex:   to,
	})
	return s.steps[to], nil
}

// GoTo makes target the current step. Data of other steps is kept and poll
// tasks are left running; the owner cancels them with CancelPolls.
func (s *Sequencer) GoTo(ctx context.Context, target domain.StepID) error {
	idx := s.steps.Index(target)
	if idx < 0 {
		return &flowerrors.UnknownStepError{Step: target.String()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.steps[s.index]
	if err := s.store.Set(ctx, s.sessionID, store.FieldCurrentStepIndex, idx); err != nil {
		return err
	}
	s.index = idx
	if idx != s.steps.Last() {
		s.complete = false
	}

	s.logger.InfoContext(ctx, "step changed", "from", from, "to", target)
	s.emit(ctx, domain.EventTypeStepChanged, "", domain.StepChangedPayload{From: from, To: target})
	return nil
}

// StepResult decodes the stored result of step into out. It reports false
// when the step has no result yet.
func (s *Sequencer) StepResult(ctx context.Context, step domain.StepID, out any) (bool, error) {
	if s.steps.Index(step) < 0 {
		return false, &flowerrors.UnknownStepError{Step: step.String()}
	}
	return s.store.Get(ctx, s.sessionID, step.String(), out)
}

// Progress returns the last projected poll progress of step.
func (s *Sequencer) Progress(ctx context.Context, step domain.StepID) (domain.PollProgress, bool, error) {
	if s.steps.Index(step) < 0 {
		return domain.PollProgress{}, false, &flowerrors.UnknownStepError{Step: step.String()}
	}
	var p domain.PollProgress
	found, err := s.store.Get(ctx, s.sessionID, progressField(step), &p)
	return p, found, err
}

// JobID returns the bound remote job id.
func (s *Sequencer) JobID(ctx context.Context) (string, error) {
	return s.binder.Resolve(ctx, s.sessionID)
}

// Session assembles the read model of the session from the store.
func (s *Sequencer) Session(ctx context.Context) (domain.Session, error) {
	fields, err := s.store.Fields(ctx, s.sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	s.mu.RLock()
	session := domain.Session{
		ID:               s.sessionID,
		CurrentStepIndex: s.index,
		CurrentStep:      s.steps[s.index],
		Complete:         s.complete,
		StepData:         make(map[domain.StepID]json.RawMessage),
		Progress:         make(map[domain.StepID]json.RawMessage),
	}
	s.mu.RUnlock()

	for _, step := range s.steps {
		if raw, ok := fields[step.String()]; ok {
			session.StepData[step] = raw
		}
		if raw, ok := fields[progressField(step)]; ok {
			session.Progress[step] = raw
		}
	}

	b, found, err := s.binder.Lookup(ctx, s.sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if found {
		session.Binding = &b
	}
	return session, nil
}

// Reset cancels every poll task of the session, removes all stored state and
// returns to the first step.
func (s *Sequencer) Reset(ctx context.Context) error {
	s.cancelAllPolls()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Clear(ctx, s.sessionID); err != nil {
		return err
	}
	if err := s.store.Set(ctx, s.sessionID, store.FieldCurrentStepIndex, 0); err != nil {
		return err
	}
	s.index = 0
	s.complete = false

	s.logger.InfoContext(ctx, "session reset")
	s.emit(ctx, domain.EventTypeSessionReset, "", struct{}{})
	return nil
}

func (s *Sequencer) emit(ctx context.Context, eventType domain.EventType, jobID string, payload any) {
	env := events.New(string(eventType), eventSource, s.sessionID, jobID, payload)
	if err := s.events.Append(ctx, env); err != nil {
		s.logger.WarnContext(ctx, "failed to append event",
			"event_type", eventType,
			"error", err)
	}
}

func progressField(step domain.StepID) string {
	return store.FieldProgressPrefix + step.String()
}

func marshalInput(sessionID, field string, input any) (json.RawMessage, error) {
	if input == nil {
		return nil, nil
	}
	if raw, ok := input.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, &flowerrors.SerializationError{SessionID: sessionID, Field: field, Cause: err}
	}
	return data, nil
}

// String formats the sequencer position for logs.
func (s *Sequencer) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("%s@%s(%d/%d)", s.sessionID, s.steps[s.index], s.index+1, len(s.steps))
}
