// Package store persists step-scoped session data as JSON under flat keys of
// the form session:<sessionId>:<field>. Writes are visible to the next read
// as soon as Set returns; each write replaces one key atomically.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
)

// Well-known session fields.
const (
	FieldJobID            = "jobId"
	FieldCurrentStepIndex = "currentStepIndex"
	// FieldProgressPrefix prefixes the per-step poll progress projection.
	FieldProgressPrefix = "progress."
)

const keyPrefix = "session:"

// ErrInvalidSessionID indicates an empty session id or one containing the
// key separator.
var ErrInvalidSessionID = errors.New("invalid session id")

// ErrInvalidField indicates an empty field name.
var ErrInvalidField = errors.New("invalid field")

// Backend is a byte-level key/value store. Implementations must make Save
// atomic per key and must not buffer writes.
type Backend interface {
	// Load returns the value stored under key and whether it exists.
	Load(ctx context.Context, key string) ([]byte, bool, error)
	// Save replaces the value stored under key.
	Save(ctx context.Context, key string, value []byte) error
	// Scan returns every key/value pair whose key starts with prefix.
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)
	// DeletePrefix removes every key that starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// Close releases backend resources.
	Close() error
}

// Key returns the backend key for a session field.
func Key(sessionID, field string) string {
	return keyPrefix + sessionID + ":" + field
}

// Prefix returns the key prefix shared by every field of a session.
func Prefix(sessionID string) string {
	return keyPrefix + sessionID + ":"
}

// ValidateSessionID rejects ids that would make key prefixes ambiguous.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if strings.Contains(sessionID, ":") {
		return fmt.Errorf("%w: %q contains ':'", ErrInvalidSessionID, sessionID)
	}
	return nil
}

// Store is the JSON session store. It performs no locking of its own:
// concurrent writers to the same field are last-writer-wins.
type Store struct {
	backend Backend
	logger  *slog.Logger
}

// New wraps backend in a Store.
func New(backend Backend) *Store {
	return &Store{
		backend: backend,
		logger:  slog.Default().With("component", "session_store"),
	}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Close closes the underlying backend.
func (s *Store) Close() error { return s.backend.Close() }

// Set encodes v as JSON and stores it under the session field. A value that
// cannot be encoded returns a *flowerrors.SerializationError and nothing is
// written.
func (s *Store) Set(ctx context.Context, sessionID, field string, v any) error {
	if err := checkKey(sessionID, field); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return &flowerrors.SerializationError{SessionID: sessionID, Field: field, Cause: err}
	}

	if err := s.backend.Save(ctx, Key(sessionID, field), data); err != nil {
		return fmt.Errorf("save session %s field %s: %w", sessionID, field, err)
	}
	s.logger.DebugContext(ctx, "field stored",
		"session_id", sessionID,
		"field", field,
		"bytes", len(data))
	return nil
}

// GetRaw returns the stored JSON document for a session field.
func (s *Store) GetRaw(ctx context.Context, sessionID, field string) (json.RawMessage, bool, error) {
	if err := checkKey(sessionID, field); err != nil {
		return nil, false, err
	}

	data, ok, err := s.backend.Load(ctx, Key(sessionID, field))
	if err != nil {
		return nil, false, fmt.Errorf("load session %s field %s: %w", sessionID, field, err)
	}
	if !ok {
		return nil, false, nil
	}
	return json.RawMessage(data), true, nil
}

// Get decodes the stored value for a session field into out. It reports
// false when the field has never been written.
func (s *Store) Get(ctx context.Context, sessionID, field string, out any) (bool, error) {
	data, ok, err := s.GetRaw(ctx, sessionID, field)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return true, &flowerrors.SerializationError{SessionID: sessionID, Field: field, Cause: err}
	}
	return true, nil
}

// Fields returns every stored field of a session keyed by field name.
func (s *Store) Fields(ctx context.Context, sessionID string) (map[string]json.RawMessage, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	prefix := Prefix(sessionID)
	entries, err := s.backend.Scan(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("scan session %s: %w", sessionID, err)
	}

	fields := make(map[string]json.RawMessage, len(entries))
	for key, value := range entries {
		fields[strings.TrimPrefix(key, prefix)] = json.RawMessage(value)
	}
	return fields, nil
}

// Clear removes every field of a session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := s.backend.DeletePrefix(ctx, Prefix(sessionID)); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	s.logger.InfoContext(ctx, "session cleared", "session_id", sessionID)
	return nil
}

func checkKey(sessionID, field string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if field == "" {
		return fmt.Errorf("%w: empty field for session %s", ErrInvalidField, sessionID)
	}
	return nil
}
