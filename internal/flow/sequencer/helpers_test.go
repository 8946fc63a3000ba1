package sequencer_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-reviewflow/internal/domain"
	"github.com/ahrav/go-reviewflow/internal/flow/configuration"
	"github.com/ahrav/go-reviewflow/internal/flow/lock"
	"github.com/ahrav/go-reviewflow/internal/flow/poll"
	"github.com/ahrav/go-reviewflow/internal/flow/retry"
	"github.com/ahrav/go-reviewflow/internal/flow/sequencer"
	"github.com/ahrav/go-reviewflow/internal/flow/store"
	"github.com/ahrav/go-reviewflow/pkg/events"
)

var threeSteps = domain.Steps{domain.StepUpload, domain.StepSearch, domain.StepValidate}

// fakeAPI is a scripted JobAPI. Status reads replay statuses and repeat the
// last one once the script is used up.
type fakeAPI struct {
	mu sync.Mutex

	nextJobID   int
	submitErr   error
	submitCalls int

	triggerResp  json.RawMessage
	triggerErr   error
	triggerCalls int
	triggered    []string

	statuses    []domain.JobStatus
	statusErr   error
	statusCalls int

	resources map[string]json.RawMessage
}

func (f *fakeAPI) Submit(_ context.Context, _ json.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.nextJobID++
	return fmt.Sprintf("job-%d", f.nextJobID), nil
}

func (f *fakeAPI) GetStatus(_ context.Context, _ string) (domain.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return domain.JobStatus{}, f.statusErr
	}
	if len(f.statuses) == 0 {
		return domain.JobStatus{State: domain.RemoteRunning}, nil
	}
	i := min(f.statusCalls-1, len(f.statuses)-1)
	return f.statuses[i], nil
}

func (f *fakeAPI) Trigger(_ context.Context, jobID, action string, _ json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggerCalls++
	f.triggered = append(f.triggered, jobID+"/"+action)
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	return f.triggerResp, nil
}

func (f *fakeAPI) Fetch(_ context.Context, _, resource string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.resources[resource]; ok {
		return doc, nil
	}
	return nil, fmt.Errorf("no resource %s", resource)
}

func (f *fakeAPI) counts() (submit, trigger, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls, f.triggerCalls, f.statusCalls
}

type fixture struct {
	seq    *sequencer.Sequencer
	store  *store.Store
	locker *lock.Registry
	engine *poll.Engine
	api    *fakeAPI
	sink   *events.MemoryEventSink
}

func newFixture(t *testing.T, steps domain.Steps) *fixture {
	t.Helper()
	return newFixtureWithStore(t, steps, newMemoryStore(), &fakeAPI{})
}

func newFixtureWithStore(t *testing.T, steps domain.Steps, s *store.Store, api *fakeAPI) *fixture {
	t.Helper()

	policy := retry.MustNew(configuration.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	})
	f := &fixture{
		store:  s,
		locker: lock.NewRegistry(),
		engine: poll.New(policy, configuration.PollConfig{Interval: time.Millisecond}),
		api:    api,
		sink:   events.NewMemoryEventSink(),
	}

	seq, err := sequencer.New(context.Background(), "p1", sequencer.Options{
		Steps:       steps,
		CallTimeout: time.Second,
	}, sequencer.Dependencies{
		Store:  f.store,
		Locker: f.locker,
		Engine: f.engine,
		API:    f.api,
		Events: f.sink,
	})
	require.NoError(t, err)
	f.seq = seq
	t.Cleanup(f.engine.CancelAll)
	return f
}

func newMemoryStore() *store.Store {
	return store.New(store.NewMemoryBackend())
}
