package store

import (
	"bytes"
	"context"
	"strings"

	"github.com/patrickmn/go-cache"
)

// MemoryBackend keeps session data in process memory. Entries never expire.
// It suits tests and hosts that do not need state to survive a restart.
type MemoryBackend struct {
	cache *cache.Cache
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{cache: cache.New(cache.NoExpiration, 0)}
}

// Load returns a copy of the stored bytes.
func (m *MemoryBackend) Load(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v.([]byte)), true, nil //nolint:errcheck // only []byte is stored
}

// Save stores a copy of value so later mutation by the caller is not observed.
func (m *MemoryBackend) Save(_ context.Context, key string, value []byte) error {
	m.cache.Set(key, bytes.Clone(value), cache.NoExpiration)
	return nil
}

// Scan returns copies of every entry under prefix.
func (m *MemoryBackend) Scan(_ context.Context, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for key, item := range m.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			out[key] = bytes.Clone(item.Object.([]byte)) //nolint:errcheck // only []byte is stored
		}
	}
	return out, nil
}

// DeletePrefix removes every entry under prefix.
func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) error {
	for key := range m.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			m.cache.Delete(key)
		}
	}
	return nil
}

// Close drops all entries.
func (m *MemoryBackend) Close() error {
	m.cache.Flush()
	return nil
}
