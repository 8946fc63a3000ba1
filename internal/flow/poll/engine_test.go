package poll_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-reviewflow/internal/domain"
	"github.com/ahrav/go-reviewflow/internal/flow/configuration"
	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
	"github.com/ahrav/go-reviewflow/internal/flow/poll"
	"github.com/ahrav/go-reviewflow/internal/flow/retry"
)

const tick = time.Millisecond

func newEngine(t *testing.T, opts ...poll.Option) *poll.Engine {
	t.Helper()
	policy := retry.MustNew(configuration.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: tick,
		MaxInterval:     10 * tick,
		Multiplier:      2,
	})
	return poll.New(policy, configuration.PollConfig{Interval: tick}, opts...)
}

// scripted replays a fixed sequence of fetch results and counts calls. The
// last result repeats once the script is used up.
type scripted struct {
	mu      sync.Mutex
	results []result
	calls   int
}

type result struct {
	status domain.JobStatus
	err    error
}

func (s *scripted) fetch(_ context.Context, _ string) (domain.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i].status, s.results[i].err
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func running() result { return result{status: domain.JobStatus{State: domain.RemoteRunning}} }

func waitDone(t *testing.T, h *poll.Handle) poll.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := h.Wait(ctx)
	require.NoError(t, err, "poll task did not finish")
	return snap
}

// TestEngine_CompletesAfterRunningStatuses covers three Running statuses
// followed by success.
func TestEngine_CompletesAfterRunningStatuses(t *testing.T) {
	src := &scripted{results: []result{
		running(), running(), running(),
		{status: domain.JobStatus{State: domain.RemoteSucceeded, Progress: 100}},
	}}

	h, err := newEngine(t).Start(context.Background(), "job-42", src.fetch, nil, tick)
	require.NoError(t, err)

	snap := waitDone(t, h)
	assert.Equal(t, domain.PollCompleted, snap.State)
	assert.Equal(t, 4, snap.Attempts)
	require.NotNil(t, snap.LastStatus)
	assert.Equal(t, 100, snap.LastStatus.Progress)
	assert.NoError(t, snap.Err)

	time.Sleep(20 * tick)
	assert.Equal(t, 4, src.count(), "no ticks after a terminal state")
	assert.Equal(t, snap, h.Snapshot())
}

func TestEngine_RemoteFailure(t *testing.T) {
	payload := json.RawMessage(`{"message":"no candidates"}`)
	src := &scripted{results: []result{
		running(),
		{status: domain.JobStatus{State: domain.RemoteFailed, Error: payload}},
	}}

	h, err := newEngine(t).Start(context.Background(), "job-42", src.fetch, nil, tick)
	require.NoError(t, err)

	snap := waitDone(t, h)
	assert.Equal(t, domain.PollFailed, snap.State)
	assert.Equal(t, 2, snap.Attempts)

	var failure *flowerrors.RemoteFailure
	require.ErrorAs(t, snap.Err, &failure)
	assert.Equal(t, "job-42", failure.JobID)
	assert.JSONEq(t, string(payload), string(failure.Payload))

	progress := snap.Progress()
	assert.Equal(t, domain.PollFailed, progress.State)
	assert.JSONEq(t, string(payload), string(progress.Details))
	assert.NotEmpty(t, progress.Error)
}

func TestEngine_RetryableFailures(t *testing.T) {
	netErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	t.Run("recovers_below_cap", func(t *testing.T) {
		src := &scripted{results: []result{
			{err: netErr},
			{err: netErr},
			{status: domain.JobStatus{State: domain.RemoteSucceeded, Progress: 100}},
		}}
		h, err := newEngine(t).Start(context.Background(), "job-1", src.fetch, nil, tick)
		require.NoError(t, err)

		snap := waitDone(t, h)
		assert.Equal(t, domain.PollCompleted, snap.State)
		assert.Equal(t, 1, snap.Attempts)
		assert.Equal(t, 0, snap.Failures)
	})

	t.Run("failure_counter_resets_on_success", func(t *testing.T) {
		src := &scripted{results: []result{
			{err: netErr}, {err: netErr}, running(),
			{err: netErr}, {err: netErr},
			{status: domain.JobStatus{State: domain.RemoteSucceeded}},
		}}
		h, err := newEngine(t).Start(context.Background(), "job-1", src.fetch, nil, tick)
		require.NoError(t, err)

		snap := waitDone(t, h)
		assert.Equal(t, domain.PollCompleted, snap.State)
		assert.Equal(t, 6, src.count())
	})

	t.Run("exhausts_at_cap", func(t *testing.T) {
		src := &scripted{results: []result{{err: netErr}}}
		h, err := newEngine(t).Start(context.Background(), "job-1", src.fetch, nil, tick)
		require.NoError(t, err)

		snap := waitDone(t, h)
		assert.Equal(t, domain.PollFailed, snap.State)
		assert.Equal(t, 3, src.count())

		var exhausted *flowerrors.ExhaustedError
		require.ErrorAs(t, snap.Err, &exhausted)
		assert.Equal(t, 3, exhausted.Attempts)
		assert.ErrorIs(t, snap.Err, netErr)
	})
}

func TestEngine_FatalFetchError(t *testing.T) {
	notFound := &flowerrors.RemoteError{Op: "get_status", StatusCode: 404, Type: flowerrors.ErrorTypeNotFound}
	src := &scripted{results: []result{{err: notFound}}}

	h, err := newEngine(t).Start(context.Background(), "job-1", src.fetch, nil, tick)
	require.NoError(t, err)

	snap := waitDone(t, h)
	assert.Equal(t, domain.PollFailed, snap.State)
	assert.Equal(t, 1, src.count())
	assert.ErrorIs(t, snap.Err, notFound)
}

func TestEngine_CancelDiscardsInFlightResult(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context, string) (domain.JobStatus, error) {
		close(entered)
		<-release
		return domain.JobStatus{State: domain.RemoteSucceeded, Progress: 100}, nil
	}

	e := newEngine(t)
	h, err := e.Start(context.Background(), "job-1", fetch, nil, tick)
	require.NoError(t, err)

	<-entered
	e.Cancel(h)

	snap := waitDone(t, h)
	assert.Equal(t, domain.PollCancelled, snap.State)

	close(release)
	require.Eventually(t, func() bool { return e.Active() == 0 }, time.Second, tick)

	after := h.Snapshot()
	assert.Equal(t, domain.PollCancelled, after.State)
	assert.Equal(t, 0, after.Attempts)
	assert.Nil(t, after.LastStatus)

	// Cancelling again is harmless.
	e.Cancel(h)
	assert.Equal(t, after, h.Snapshot())
}

func TestEngine_ParentContextCancels(t *testing.T) {
	src := &scripted{results: []result{running()}}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := newEngine(t).Start(ctx, "job-1", src.fetch, nil, tick)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return src.count() >= 2 }, time.Second, tick)
	cancel()

	snap := waitDone(t, h)
	assert.Equal(t, domain.PollCancelled, snap.State)
}

func TestEngine_CancelAll(t *testing.T) {
	e := newEngine(t)
	src := &scripted{results: []result{running()}}

	var handles []*poll.Handle
	for _, id := range []string{"a", "b", "c"} {
		h, err := e.Start(context.Background(), id, src.fetch, nil, tick)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	e.CancelAll()
	for _, h := range handles {
		assert.Equal(t, domain.PollCancelled, waitDone(t, h).State)
	}
	require.Eventually(t, func() bool { return e.Active() == 0 }, time.Second, tick)
}

// TestEngine_StateIsMonotonic records every observed state and checks that
// the sequence only moves forward and never leaves a terminal state.
func TestEngine_StateIsMonotonic(t *testing.T) {
	cases := []struct {
		name    string
		results []result
	}{
		{"completed", []result{running(), {status: domain.JobStatus{State: domain.RemoteSucceeded}}}},
		{"failed", []result{running(), {status: domain.JobStatus{State: domain.RemoteFailed}}}},
		{"fatal", []result{{err: &flowerrors.RemoteError{StatusCode: 400, Type: flowerrors.ErrorTypeBadRequest}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var (
				mu     sync.Mutex
				states []domain.PollState
			)
			e := newEngine(t, poll.WithObserver(func(s poll.Snapshot) {
				mu.Lock()
				states = append(states, s.State)
				mu.Unlock()
			}))

			src := &scripted{results: tc.results}
			h, err := e.Start(context.Background(), "job-1", src.fetch, nil, tick)
			require.NoError(t, err)
			waitDone(t, h)
			h.Cancel()

			mu.Lock()
			defer mu.Unlock()
			require.NotEmpty(t, states)
			assert.Equal(t, domain.PollPolling, states[0])
			for i := 1; i < len(states); i++ {
				prev, next := states[i-1], states[i]
				require.False(t, prev.IsTerminal(), "update after terminal state %s", prev)
				if prev != next {
					assert.True(t, prev.CanTransition(next), "%s -> %s", prev, next)
				}
			}
			assert.True(t, states[len(states)-1].IsTerminal())
		})
	}
}

func TestEngine_CustomTerminalPredicate(t *testing.T) {
	src := &scripted{results: []result{
		{status: domain.JobStatus{State: domain.RemoteRunning, Progress: 10}},
		{status: domain.JobStatus{State: domain.RemoteRunning, Progress: 60}},
		{status: domain.JobStatus{State: domain.RemoteRunning, Progress: 100}},
	}}
	atFull := func(s domain.JobStatus) bool { return s.Progress >= 100 }

	h, err := newEngine(t).Start(context.Background(), "job-1", src.fetch, atFull, tick)
	require.NoError(t, err)

	// A terminal status that did not succeed counts as a failure.
	snap := waitDone(t, h)
	assert.Equal(t, domain.PollFailed, snap.State)
	assert.Equal(t, 3, snap.Attempts)
}

func TestEngine_StartValidation(t *testing.T) {
	e := poll.New(retry.MustNew(configuration.RetryConfig{
		MaxAttempts:     1,
		InitialInterval: tick,
		MaxInterval:     tick,
		Multiplier:      1,
	}), configuration.PollConfig{})
	fetch := (&scripted{results: []result{running()}}).fetch

	_, err := e.Start(context.Background(), "", fetch, nil, tick)
	assert.ErrorIs(t, err, poll.ErrEmptyJobID)

	_, err = e.Start(context.Background(), "job-1", nil, nil, tick)
	assert.ErrorIs(t, err, poll.ErrNilFetch)

	_, err = e.Start(context.Background(), "job-1", fetch, nil, 0)
	assert.ErrorIs(t, err, poll.ErrInvalidInterval)
}

func TestEngine_ObserverSeesEveryStatus(t *testing.T) {
	var seen atomic.Int32
	e := newEngine(t, poll.WithObserver(func(s poll.Snapshot) {
		if s.LastStatus != nil {
			seen.Add(1)
		}
	}))

	src := &scripted{results: []result{
		running(), running(),
		{status: domain.JobStatus{State: domain.RemoteSucceeded}},
	}}
	h, err := e.Start(context.Background(), "job-1", src.fetch, nil, tick)
	require.NoError(t, err)
	waitDone(t, h)

	assert.Equal(t, int32(3), seen.Load())
}

// TestEngine_CancelWaitsForDeliveryInProgress holds an observer inside a
// Polling delivery while the task is cancelled. The Cancelled snapshot must be
// observed last.
func TestEngine_CancelWaitsForDeliveryInProgress(t *testing.T) {
	var (
		mu       sync.Mutex
		states   []domain.PollState
		inside   = make(chan struct{})
		release  = make(chan struct{})
		holdOnce sync.Once
	)
	e := newEngine(t, poll.WithObserver(func(s poll.Snapshot) {
		if s.State == domain.PollPolling && s.Attempts == 1 {
			held := false
			holdOnce.Do(func() { held = true })
			if held {
				close(inside)
				<-release
			}
		}
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	}))

	src := &scripted{results: []result{running()}}
	h, err := e.Start(context.Background(), "job-1", src.fetch, nil, tick)
	require.NoError(t, err)
	<-inside

	cancelled := make(chan struct{})
	go func() {
		e.Cancel(h)
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("cancel returned while a delivery was in progress")
	case <-time.After(20 * tick):
	}
	close(release)
	<-cancelled

	snap := waitDone(t, h)
	assert.Equal(t, domain.PollCancelled, snap.State)
	assert.Equal(t, 1, snap.Attempts)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, domain.PollCancelled, states[len(states)-1])
	for _, s := range states[:len(states)-1] {
		assert.False(t, s.IsTerminal())
	}
}
