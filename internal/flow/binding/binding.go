// Package binding maps a local session to the job id the remote service
// assigned to it. The binding is stored in the session store under the
// jobId field so it survives process restarts.
package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahrav/go-reviewflow/internal/domain"
	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
	"github.com/ahrav/go-reviewflow/internal/flow/store"
)

// ErrEmptyJobID indicates an attempt to bind a session to an empty job id.
var ErrEmptyJobID = errors.New("empty remote job id")

// Binder creates and resolves job bindings. Bind and Rebind are serialized
// within the process so a check-then-write cannot interleave with another.
type Binder struct {
	store  *store.Store
	now    func() time.Time
	mu     sync.Mutex
	logger *slog.Logger
}

// New returns a Binder backed by s.
func New(s *store.Store) *Binder {
	return &Binder{
		store:  s,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default().With("component", "binding"),
	}
}

// Bind records jobID as the session's remote job. Binding the id already
// bound is a no-op; binding a different id fails with
// *flowerrors.AlreadyBoundError. The returned flag reports whether a new
// binding was written.
func (b *Binder) Bind(ctx context.Context, sessionID, jobID string) (bool, error) {
	if jobID == "" {
		return false, ErrEmptyJobID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, found, err := b.lookup(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if found {
		if existing.RemoteJobID == jobID {
			return false, nil
		}
		return false, &flowerrors.AlreadyBoundError{
			SessionID: sessionID,
			Existing:  existing.RemoteJobID,
			Attempted: jobID,
		}
	}

	if err := b.write(ctx, sessionID, jobID); err != nil {
		return false, err
	}
	b.logger.InfoContext(ctx, "session bound",
		"session_id", sessionID,
		"job_id", jobID)
	return true, nil
}

// Rebind replaces any existing binding with jobID. It is used when the
// pipeline is explicitly restarted and returns the previous job id, if any.
func (b *Binder) Rebind(ctx context.Context, sessionID, jobID string) (string, error) {
	if jobID == "" {
		return "", ErrEmptyJobID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, _, err := b.lookup(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if err := b.write(ctx, sessionID, jobID); err != nil {
		return "", err
	}
	b.logger.InfoContext(ctx, "session rebound",
		"session_id", sessionID,
		"job_id", jobID,
		"previous", existing.RemoteJobID)
	return existing.RemoteJobID, nil
}

// Resolve returns the bound job id or *flowerrors.UnboundSessionError.
func (b *Binder) Resolve(ctx context.Context, sessionID string) (string, error) {
	binding, found, err := b.lookup(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", &flowerrors.UnboundSessionError{SessionID: sessionID}
	}
	return binding.RemoteJobID, nil
}

// Lookup returns the full binding, if one exists.
func (b *Binder) Lookup(ctx context.Context, sessionID string) (domain.JobBinding, bool, error) {
	return b.lookup(ctx, sessionID)
}

func (b *Binder) lookup(ctx context.Context, sessionID string) (domain.JobBinding, bool, error) {
	var binding domain.JobBinding
	found, err := b.store.Get(ctx, sessionID, store.FieldJobID, &binding)
	if err != nil {
		return domain.JobBinding{}, false, err
	}
	if !found || binding.RemoteJobID == "" {
		return domain.JobBinding{}, false, nil
	}
	return binding, true, nil
}

func (b *Binder) write(ctx context.Context, sessionID, jobID string) error {
	binding := domain.JobBinding{
		SessionID:   sessionID,
		RemoteJobID: jobID,
		BoundAt:     b.now(),
	}
	if err := binding.Validate(); err != nil {
		return fmt.Errorf("bind session %s: %w", sessionID, err)
	}
	return b.store.Set(ctx, sessionID, store.FieldJobID, binding)
}
