package sequencer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ahrav/go-reviewflow/internal/domain"
	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
	"github.com/ahrav/go-reviewflow/internal/flow/lock"
	"github.com/ahrav/go-reviewflow/internal/flow/sequencer"
	"github.com/ahrav/go-reviewflow/internal/flow/store"
)

// TestSequencer_AdvanceStoresResult covers a fresh session advancing from
// its first step.
func TestSequencer_AdvanceStoresResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeSteps)

	require.Equal(t, 0, f.seq.CurrentIndex())
	require.Equal(t, domain.StepUpload, f.seq.Current())

	next, err := f.seq.Advance(ctx, map[string]string{"file": "x"})
	require.NoError(t, err)
	assert.Equal(t, domain.StepSearch, next)
	assert.Equal(t, 1, f.seq.CurrentIndex())

	raw, found, err := f.store.GetRaw(ctx, "p1", "UPLOAD")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"file":"x"}`, string(raw))

	var index int
	_, err = f.store.Get(ctx, "p1", store.FieldCurrentStepIndex, &index)
	require.NoError(t, err)
	assert.Equal(t, 1, index)

	advanced := f.sink.OfType(string(domain.EventTypeStepAdvanced))
	require.Len(t, advanced, 1)
	assert.JSONEq(t, `{"from":"UPLOAD","to":"SEARCH","from_index":0,"to_index":1}`, string(advanced[0].Payload))
}

func TestSequencer_AdvanceAtLastStepIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeSteps)

	for range 2 {
		_, err := f.seq.Advance(ctx, "ok")
		require.NoError(t, err)
	}
	require.Equal(t, 2, f.seq.CurrentIndex())
	assert.False(t, f.seq.IsComplete())

	step, err := f.seq.Advance(ctx, map[string]int{"accepted": 3})
	require.NoError(t, err)
	assert.Equal(t, domain.StepValidate, step)
	assert.Equal(t, 2, f.seq.CurrentIndex())
	assert.True(t, f.seq.IsComplete())

	var got map[string]int
	found, err := f.seq.StepResult(ctx, domain.StepValidate, &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, got["accepted"])

	assert.Len(t, f.sink.OfType(string(domain.EventTypeStepAdvanced)), 2)
}

func TestSequencer_AdvanceSerializationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeSteps)

	_, err := f.seq.Advance(ctx, map[string]any{"bad": make(chan int)})

	var serr *flowerrors.SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "UPLOAD", serr.Field)
	assert.Equal(t, 0, f.seq.CurrentIndex())

	_, found, err := f.store.GetRaw(ctx, "p1", "UPLOAD")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSequencer_GoTo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeSteps)

	_, err := f.seq.Advance(ctx, map[string]string{"file": "x"})
	require.NoError(t, err)

	require.NoError(t, f.seq.GoTo(ctx, domain.StepValidate))
	assert.Equal(t, domain.StepValidate, f.seq.Current())

	require.NoError(t, f.seq.GoTo(ctx, domain.StepUpload))
	assert.Equal(t, 0, f.seq.CurrentIndex())

	// Navigation keeps earlier results.
	var upload map[string]string
	found, err := f.seq.StepResult(ctx, domain.StepUpload, &upload)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "x", upload["file"])

	err = f.seq.GoTo(ctx, "NOPE")
	var unknown *flowerrors.UnknownStepError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "NOPE", unknown.Step)
	assert.Equal(t, 0, f.seq.CurrentIndex())

	assert.Len(t, f.sink.OfType(string(domain.EventTypeStepChanged)), 2)
}

func TestSequencer_StepResultUnknownStep(t *testing.T) {
	f := newFixture(t, threeSteps)

	var out any
	_, err := f.seq.StepResult(context.Background(), domain.StepKeywords, &out)
	var unknown *flowerrors.UnknownStepError
	assert.ErrorAs(t, err, &unknown)
}

func TestSequencer_ResumesFromStore(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.NewMemoryBackend())

	first := newFixtureWithStore(t, threeSteps, s, &fakeAPI{})
	_, err := first.seq.Advance(ctx, "uploaded")
	require.NoError(t, err)
	_, err = first.seq.Advance(ctx, "searched")
	require.NoError(t, err)

	second := newFixtureWithStore(t, threeSteps, s, &fakeAPI{})
	assert.Equal(t, 2, second.seq.CurrentIndex())
	assert.Equal(t, domain.StepValidate, second.seq.Current())
	assert.False(t, second.seq.IsComplete())

	_, err = second.seq.Advance(ctx, "validated")
	require.NoError(t, err)

	third := newFixtureWithStore(t, threeSteps, s, &fakeAPI{})
	assert.True(t, third.seq.IsComplete())
}

func TestSequencer_ClampsStoredIndex(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.NewMemoryBackend())
	require.NoError(t, s.Set(ctx, "p1", store.FieldCurrentStepIndex, 7))

	f := newFixtureWithStore(t, threeSteps, s, &fakeAPI{})
	assert.Equal(t, 2, f.seq.CurrentIndex())

	var index int
	_, err := s.Get(ctx, "p1", store.FieldCurrentStepIndex, &index)
	require.NoError(t, err)
	assert.Equal(t, 2, index)
}

func TestSequencer_DefaultPipeline(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, domain.ScholarFinderSteps(), f.seq.Steps())
	assert.Equal(t, domain.StepUpload, f.seq.Current())
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	deps := sequencer.Dependencies{
		Store:  store.New(store.NewMemoryBackend()),
		Locker: lock.NewRegistry(),
		Engine: newFixture(t, threeSteps).engine,
		API:    &fakeAPI{},
	}

	_, err := sequencer.New(ctx, "a:b", sequencer.Options{}, deps)
	assert.ErrorIs(t, err, store.ErrInvalidSessionID)

	_, err = sequencer.New(ctx, "p1", sequencer.Options{Steps: domain.Steps{"A", "A"}}, deps)
	assert.ErrorIs(t, err, domain.ErrDuplicateStep)

	noAPI := deps
	noAPI.API = nil
	_, err = sequencer.New(ctx, "p1", sequencer.Options{}, noAPI)
	assert.ErrorIs(t, err, sequencer.ErrMissingDependency)
}

func TestSequencer_Reset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeSteps)

	_, _, err := f.seq.Submit(ctx, map[string]string{"file": "x"})
	require.NoError(t, err)
	_, err = f.seq.Advance(ctx, "uploaded")
	require.NoError(t, err)

	require.NoError(t, f.seq.Reset(ctx))
	assert.Equal(t, 0, f.seq.CurrentIndex())
	assert.False(t, f.seq.IsComplete())

	_, err = f.seq.JobID(ctx)
	var unbound *flowerrors.UnboundSessionError
	assert.ErrorAs(t, err, &unbound)

	fields, err := f.store.Fields(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{store.FieldCurrentStepIndex}, keys(fields))
	assert.Len(t, f.sink.OfType(string(domain.EventTypeSessionReset)), 1)
}

func TestSequencer_SessionReadModel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeSteps)

	_, jobID, err := f.seq.Submit(ctx, nil)
	require.NoError(t, err)
	_, err = f.seq.Advance(ctx, map[string]string{"file": "x"})
	require.NoError(t, err)

	session, err := f.seq.Session(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Validate())
	assert.Equal(t, "p1", session.ID)
	assert.Equal(t, 1, session.CurrentStepIndex)
	assert.Equal(t, domain.StepSearch, session.CurrentStep)
	assert.JSONEq(t, `{"file":"x"}`, string(session.StepData[domain.StepUpload]))
	require.NotNil(t, session.Binding)
	assert.Equal(t, jobID, session.Binding.RemoteJobID)
}

// TestSequencer_IndexBoundsProperty drives random navigation and checks the
// index never leaves the pipeline and advancing at the end never moves.
func TestSequencer_IndexBoundsProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		f := newFixture(t, threeSteps)
		last := len(threeSteps) - 1

		ops := rapid.IntRange(1, 40).Draw(rt, "ops")
		for range ops {
			before := f.seq.CurrentIndex()
			if rapid.Bool().Draw(rt, "advance") {
				_, err := f.seq.Advance(ctx, before)
				require.NoError(rt, err)
				want := min(before+1, last)
				require.Equal(rt, want, f.seq.CurrentIndex())
			} else {
				target := rapid.SampledFrom([]domain.StepID(threeSteps)).Draw(rt, "target")
				require.NoError(rt, f.seq.GoTo(ctx, target))
				require.Equal(rt, threeSteps.Index(target), f.seq.CurrentIndex())
			}

			idx := f.seq.CurrentIndex()
			require.GreaterOrEqual(rt, idx, 0)
			require.LessOrEqual(rt, idx, last)
		}
	})
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
