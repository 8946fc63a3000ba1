// Package poll drives status polling of long-running remote jobs.
//
// Each call to Engine.Start creates a task with its own loop goroutine, so
// ticks of one task never overlap. A task moves Idle, Polling, then exactly
// one of Completed, Failed or Cancelled, and is discarded afterwards. Fetch
// failures are classified as idempotent reads by the retry policy: retryable
// failures keep the cadence until the attempt cap, fatal ones fail the task.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-reviewflow/internal/domain"
	"github.com/ahrav/go-reviewflow/internal/flow/configuration"
	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
	"github.com/ahrav/go-reviewflow/internal/flow/retry"
)

var (
	// ErrEmptyJobID is returned by Start for a task without a job.
	ErrEmptyJobID = errors.New("poll: job id is required")
	// ErrInvalidInterval is returned when neither the caller nor the
	// configuration supplies a positive interval.
	ErrInvalidInterval = errors.New("poll: interval must be positive")
	// ErrNilFetch is returned when Start is called without a fetch function.
	ErrNilFetch = errors.New("poll: fetch function is required")
)

// FetchFunc reads the current status of a remote job. It must be idempotent.
type FetchFunc func(ctx context.Context, jobID string) (domain.JobStatus, error)

// TerminalFunc decides whether a status ends polling.
type TerminalFunc func(domain.JobStatus) bool

// Observer receives a snapshot after every state or status change. Calls for
// one task come from its loop goroutine, except the final Cancelled snapshot,
// which is delivered on the goroutine that cancelled. Deliveries for one task
// never overlap, so Cancel waits for a delivery in progress. An observer must
// not cancel its own task.
type Observer func(Snapshot)

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers a callback for task updates.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger replaces the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine starts and cancels poll tasks.
type Engine struct {
	policy   *retry.Policy
	cfg      configuration.PollConfig
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	active sync.Map // task id -> *Handle
}

// New returns an engine that classifies fetch errors with policy.
func New(policy *retry.Policy, cfg configuration.PollConfig, opts ...Option) *Engine {
	e := &Engine{
		policy: policy,
		cfg:    cfg,
		logger: slog.Default().With("component", "poll"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins polling jobID. The first fetch happens immediately, later ones
// every interval. A non-positive interval falls back to the configured one.
// Cancelling ctx cancels the task.
func (e *Engine) Start(
	ctx context.Context,
	jobID string,
	fetch FetchFunc,
	isTerminal TerminalFunc,
	interval time.Duration,
) (*Handle, error) {
	return e.StartObserved(ctx, jobID, fetch, isTerminal, interval, nil)
}

// StartObserved is Start with an extra observer for this task only. It is
// called after the engine-wide observer.
func (e *Engine) StartObserved(
	ctx context.Context,
	jobID string,
	fetch FetchFunc,
	isTerminal TerminalFunc,
	interval time.Duration,
	observer Observer,
) (*Handle, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}
	if fetch == nil {
		return nil, ErrNilFetch
	}
	if interval <= 0 {
		interval = e.cfg.Interval
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, interval)
	}
	if isTerminal == nil {
		isTerminal = domain.JobStatus.Terminal
	}

	loopCtx, cancel := context.WithCancel(ctx)
	now := e.now()
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
		now:    e.now,
		snap: Snapshot{
			TaskID:    uuid.NewString(),
			JobID:     jobID,
			State:     domain.PollIdle,
			Interval:  interval,
			StartedAt: now,
			UpdatedAt: now,
		},
	}
	for _, o := range []Observer{e.observer, observer} {
		if o != nil {
			h.observers = append(h.observers, o)
		}
	}
	e.active.Store(h.snap.TaskID, h)

	h.update(func(s *Snapshot) bool {
		s.State = domain.PollPolling
		return true
	})

	e.logger.Debug("poll task started",
		"task_id", h.snap.TaskID,
		"job_id", jobID,
		"interval", interval)

	go e.run(loopCtx, h, fetch, isTerminal)
	return h, nil
}

// Cancel stops h. Future ticks are not scheduled and a fetch already in
// flight has its result discarded. Cancelling a terminal task does nothing.
func (e *Engine) Cancel(h *Handle) {
	if h == nil {
		return
	}
	h.Cancel()
}

// CancelAll cancels every task that is still running.
func (e *Engine) CancelAll() {
	e.active.Range(func(_, v any) bool {
		v.(*Handle).Cancel() //nolint:errcheck // only *Handle is stored
		return true
	})
}

// Active returns the number of tasks that have not reached a terminal state.
func (e *Engine) Active() int {
	n := 0
	e.active.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (e *Engine) run(ctx context.Context, h *Handle, fetch FetchFunc, isTerminal TerminalFunc) {
	defer e.active.Delete(h.id())
	defer h.cancel()

	var deadline <-chan time.Time
	if e.cfg.MaxDuration > 0 {
		limit := time.NewTimer(e.cfg.MaxDuration)
		defer limit.Stop()
		deadline = limit.C
	}

	ticker := time.NewTimer(0)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.finish(domain.PollCancelled, nil)
			return
		case <-deadline:
			e.timeout(h)
			return
		case <-ticker.C:
		}

		if done := e.tick(ctx, h, fetch, isTerminal); done {
			return
		}
		ticker.Reset(h.interval())
	}
}

// tick performs one fetch and applies its outcome. It reports whether the
// task reached a terminal state.
func (e *Engine) tick(ctx context.Context, h *Handle, fetch FetchFunc, isTerminal TerminalFunc) bool {
	fetchCtx := ctx
	if e.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()
	}

	status, err := fetch(fetchCtx, h.jobID())

	// Results that arrive after cancellation are dropped.
	if ctx.Err() != nil {
		h.finish(domain.PollCancelled, nil)
		return true
	}

	if err != nil {
		return e.fetchFailed(h, err)
	}

	if !isTerminal(status) {
		h.update(func(s *Snapshot) bool {
			s.Attempts++
			s.Failures = 0
			s.LastStatus = &status
			return true
		})
		return false
	}

	final, ferr := domain.PollCompleted, error(nil)
	if !status.Succeeded() {
		final = domain.PollFailed
		ferr = &flowerrors.RemoteFailure{JobID: h.jobID(), Payload: status.Error}
	}
	applied := h.update(func(s *Snapshot) bool {
		s.Attempts++
		s.Failures = 0
		s.LastStatus = &status
		s.State = final
		s.Err = ferr
		return true
	})
	if applied {
		e.logger.Info("poll task finished",
			"job_id", h.jobID(),
			"state", final,
			"attempts", h.Snapshot().Attempts)
	}
	return true
}

func (e *Engine) fetchFailed(h *Handle, err error) bool {
	if e.policy.Classify(retry.KindRead, err) == retry.Fatal {
		e.logger.Warn("poll fetch failed",
			"job_id", h.jobID(),
			"error", err)
		h.finish(domain.PollFailed, err)
		return true
	}

	var failures int
	h.update(func(s *Snapshot) bool {
		s.Failures++
		failures = s.Failures
		return true
	})

	if failures >= e.policy.MaxAttempts() {
		e.logger.Warn("poll retries exhausted",
			"job_id", h.jobID(),
			"failures", failures,
			"last_error", err)
		h.finish(domain.PollFailed, &flowerrors.ExhaustedError{
			Op:       "poll " + h.jobID(),
			Attempts: failures,
			Last:     err,
		})
		return true
	}

	e.logger.Debug("poll fetch failed, will retry",
		"job_id", h.jobID(),
		"failures", failures,
		"error", err)
	return false
}

func (e *Engine) timeout(h *Handle) {
	e.logger.Warn("poll task exceeded max duration",
		"job_id", h.jobID(),
		"max_duration", e.cfg.MaxDuration)
	h.finish(domain.PollFailed, &flowerrors.WorkflowError{
		Type:      flowerrors.ErrorTypeTimeout,
		Message:   fmt.Sprintf("polling job %s exceeded %v", h.jobID(), e.cfg.MaxDuration),
		Code:      "POLL_TIMEOUT",
		Retryable: false,
		Details:   map[string]any{"job_id": h.jobID(), "max_duration": e.cfg.MaxDuration.String()},
		Cause:     flowerrors.ErrPollTimeout,
	})
}
