// Package events provides the generic event infrastructure for session engine
// notifications. It defines the Envelope type for wrapping events with
// consistent metadata and the EventSink interface for delivery.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps an event payload with the metadata needed to route and
// correlate it.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type identifies the event for routing.
	// Examples: "StepAdvanced", "PollProgress"
	Type string `json:"type"`

	// Source identifies the component that emitted this event.
	Source string `json:"source"`

	// Version enables schema evolution of the payload.
	Version string `json:"version"`

	// Timestamp records when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// SessionID identifies the local session the event belongs to.
	SessionID string `json:"session_id"`

	// JobID identifies the remote job, when one is bound.
	JobID string `json:"job_id,omitempty"`

	// Payload contains the event data as JSON. Schema varies by Type.
	Payload json.RawMessage `json:"payload"`
}

// New builds an envelope with a fresh identifier. A payload that cannot be
// encoded is replaced by JSON null so emission never fails the caller.
func New(eventType, source, sessionID, jobID string, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage("null")
	}
	return Envelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Version:   "1.0.0",
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		JobID:     jobID,
		Payload:   raw,
	}
}

// EventSink defines the interface for emitting events to downstream consumers.
//
// Returns error if the event cannot be queued, but callers should
// not fail their primary operation due to event sink failures.
type EventSink interface {
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink is a null implementation of EventSink for testing or when events are disabled.
type NoOpEventSink struct{}

// Append implements EventSink.Append with no-op behavior.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error {
	return nil
}

// NewNoOpEventSink creates a new no-op event sink.
func NewNoOpEventSink() EventSink {
	return &NoOpEventSink{}
}

// LogEventSink writes every envelope to a structured logger at debug level.
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates a sink that logs events. A nil logger falls back to
// the default logger.
func NewLogEventSink(logger *slog.Logger) *LogEventSink {
	if logger == nil {
		logger = slog.Default().With("component", "events")
	}
	return &LogEventSink{logger: logger}
}

// Append logs the envelope.
func (s *LogEventSink) Append(ctx context.Context, e Envelope) error {
	s.logger.DebugContext(ctx, "event",
		"id", e.ID,
		"type", e.Type,
		"source", e.Source,
		"session_id", e.SessionID,
		"job_id", e.JobID,
		"payload", string(e.Payload))
	return nil
}

// MemoryEventSink records envelopes in order. It is safe for concurrent use.
type MemoryEventSink struct {
	mu     sync.Mutex
	events []Envelope
}

// NewMemoryEventSink creates an empty in-memory sink.
func NewMemoryEventSink() *MemoryEventSink { return &MemoryEventSink{} }

// Append records the envelope.
func (s *MemoryEventSink) Append(_ context.Context, e Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of the recorded envelopes.
func (s *MemoryEventSink) Events() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, len(s.events))
	copy(out, s.events)
	return out
}

// OfType returns the recorded envelopes whose Type matches.
func (s *MemoryEventSink) OfType(eventType string) []Envelope {
	var out []Envelope
	for _, e := range s.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
