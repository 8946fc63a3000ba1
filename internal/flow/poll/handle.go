package poll

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/go-reviewflow/internal/domain"
)

// Handle is the owner's view of one poll task.
type Handle struct {
	// deliver is held from a snapshot commit until its observers return, so
	// observers see commits in order and nothing lands after the terminal one.
	deliver sync.Mutex

	mu   sync.Mutex
	snap Snapshot

	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once
	observers []Observer
	now       func() time.Time
}

// Snapshot returns a copy of the current task state.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap.clone()
}

// Done is closed when the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task is terminal or ctx ends, and returns the last
// snapshot.
func (h *Handle) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-h.done:
		return h.Snapshot(), nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

// Cancel moves a running task to Cancelled and stops its loop.
func (h *Handle) Cancel() {
	h.finish(domain.PollCancelled, nil)
	h.cancel()
}

func (h *Handle) id() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap.TaskID
}

func (h *Handle) jobID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap.JobID
}

func (h *Handle) interval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap.Interval
}

// update applies fn unless the task is already terminal. A change of State
// must be a legal forward transition. It reports whether fn was applied.
func (h *Handle) update(fn func(*Snapshot) bool) bool {
	h.deliver.Lock()
	defer h.deliver.Unlock()

	h.mu.Lock()
	if h.snap.State.IsTerminal() {
		h.mu.Unlock()
		return false
	}
	next := h.snap
	if !fn(&next) {
		h.mu.Unlock()
		return false
	}
	if next.State != h.snap.State && !h.snap.State.CanTransition(next.State) {
		h.mu.Unlock()
		return false
	}
	next.UpdatedAt = h.now()
	h.snap = next
	out := h.snap.clone()
	h.mu.Unlock()

	for _, o := range h.observers {
		o(out)
	}
	// Waiters wake only after the observer has seen the final snapshot.
	if out.State.IsTerminal() {
		h.once.Do(func() { close(h.done) })
	}
	return true
}

func (h *Handle) finish(state domain.PollState, err error) bool {
	return h.update(func(s *Snapshot) bool {
		s.State = state
		s.Err = err
		return true
	})
}
