// Package lock implements the single-flight guard: at most one holder per
// (session, operation) key, acquired without blocking. A second caller while
// the key is held receives ErrBusy and is expected to drop its invocation.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrBusy is returned by TryAcquire when the key is already held.
var ErrBusy = errors.New("operation already in progress")

// ErrInvalidKey indicates a key with an empty session or operation.
var ErrInvalidKey = errors.New("invalid lock key")

// Key identifies one guarded operation of one session.
type Key struct {
	SessionID string `json:"session_id"`
	Operation string `json:"operation"`
}

// String formats the key as session:operation.
func (k Key) String() string { return k.SessionID + ":" + k.Operation }

// Validate rejects keys with empty parts.
func (k Key) Validate() error {
	if k.SessionID == "" || k.Operation == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, k.String())
	}
	return nil
}

// Token proves ownership of a key. Releasing requires the token returned by
// the matching TryAcquire, so a stale token can never release a newer holder.
type Token struct {
	Key        Key       `json:"key"`
	ID         string    `json:"id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Locker is the single-flight guard contract.
type Locker interface {
	// TryAcquire takes the key or returns ErrBusy immediately.
	TryAcquire(ctx context.Context, key Key) (Token, error)
	// Release gives the key back. Releasing a token that no longer holds the
	// key is a no-op.
	Release(ctx context.Context, token Token) error
}

// Registry is the in-process Locker. A key is present in held only while it
// is held, so acquisition is a single LoadOrStore and two concurrent callers
// can never both succeed.
type Registry struct {
	held   sync.Map // Key -> *Token
	now    func() time.Time
	logger *slog.Logger
	stats  lockStats
}

type lockStats struct {
	acquired atomic.Int64
	busy     atomic.Int64
	released atomic.Int64
}

// Stats is a snapshot of registry counters.
type Stats struct {
	Acquired int64 `json:"acquired"`
	Busy     int64 `json:"busy"`
	Released int64 `json:"released"`
	// Held counts keys held at the time of the snapshot.
	Held int `json:"held"`
}

// NewRegistry returns an empty in-process lock registry.
func NewRegistry() *Registry {
	return &Registry{
		now:    time.Now,
		logger: slog.Default().With("component", "lock"),
	}
}

// TryAcquire takes key if it is free.
func (r *Registry) TryAcquire(_ context.Context, key Key) (Token, error) {
	if err := key.Validate(); err != nil {
		return Token{}, err
	}

	tok := &Token{Key: key, ID: uuid.NewString(), AcquiredAt: r.now()}
	if _, loaded := r.held.LoadOrStore(key, tok); !loaded {
		r.stats.acquired.Add(1)
		return *tok, nil
	}

	r.stats.busy.Add(1)
	r.logger.Debug("lock busy", "key", key.String())
	return Token{}, ErrBusy
}

// Release frees the key if tok is its current holder. Repeated or stale
// releases do nothing.
func (r *Registry) Release(_ context.Context, tok Token) error {
	v, ok := r.held.Load(tok.Key)
	if !ok {
		return nil
	}
	current := v.(*Token) //nolint:errcheck // only *Token is stored
	if current.ID != tok.ID {
		return nil
	}
	// A concurrent duplicate release loses this delete.
	if r.held.CompareAndDelete(tok.Key, current) {
		r.stats.released.Add(1)
	}
	return nil
}

// Holder returns the current token for key, if held.
func (r *Registry) Holder(key Key) (Token, bool) {
	v, ok := r.held.Load(key)
	if !ok {
		return Token{}, false
	}
	return *v.(*Token), true //nolint:errcheck // only *Token is stored
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() Stats {
	held := 0
	r.held.Range(func(_, _ any) bool {
		held++
		return true
	})
	return Stats{
		Acquired: r.stats.acquired.Load(),
		Busy:     r.stats.busy.Load(),
		Released: r.stats.released.Load(),
		Held:     held,
	}
}
