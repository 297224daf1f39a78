package kv_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentwire/agentwire/internal/port/kv/kvtest"
)

// memStore is a map-backed reference implementation used to validate the
// compliance suite itself.
type memStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.entries[key]
	return val, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func TestComplianceSuiteAgainstReferenceStore(t *testing.T) {
	kvtest.TestStore(t, &memStore{entries: make(map[string][]byte)})
}
