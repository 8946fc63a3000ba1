package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	e := New("StepAdvanced", "sequencer", "p1", "job-1", map[string]string{"to": "SEARCH"})

	_, err := uuid.Parse(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "StepAdvanced", e.Type)
	assert.Equal(t, "sequencer", e.Source)
	assert.Equal(t, "1.0.0", e.Version)
	assert.Equal(t, "p1", e.SessionID)
	assert.Equal(t, "job-1", e.JobID)
	assert.JSONEq(t, `{"to":"SEARCH"}`, string(e.Payload))
	assert.False(t, e.Timestamp.IsZero())
}

func TestNew_UnencodablePayload(t *testing.T) {
	e := New("PollProgress", "poll", "p1", "", make(chan int))
	assert.Equal(t, json.RawMessage("null"), e.Payload)
}

func TestMemoryEventSink(t *testing.T) {
	ctx := context.Background()
	sink := NewMemoryEventSink()

	require.NoError(t, sink.Append(ctx, New("A", "s", "p1", "", nil)))
	require.NoError(t, sink.Append(ctx, New("B", "s", "p1", "", nil)))
	require.NoError(t, sink.Append(ctx, New("A", "s", "p1", "", nil)))

	assert.Len(t, sink.Events(), 3)
	assert.Len(t, sink.OfType("A"), 2)
	assert.Empty(t, sink.OfType("C"))

	events := sink.Events()
	events[0].Type = "mutated"
	assert.Equal(t, "A", sink.Events()[0].Type)
}

func TestNoOpAndLogSinks(t *testing.T) {
	ctx := context.Background()
	e := New("A", "s", "p1", "", nil)

	assert.NoError(t, NewNoOpEventSink().Append(ctx, e))
	assert.NoError(t, NewLogEventSink(nil).Append(ctx, e))
}
