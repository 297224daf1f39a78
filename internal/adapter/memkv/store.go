// Package memkv implements the kv port in process using dgraph-io/ristretto.
// It is the default store for single-instance and console deployments.
package memkv

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// ErrDropped is returned when ristretto rejects a write. The registry holds
// few small entries, so this only happens when the store is sized far too
// small for the workload.
var ErrDropped = errors.New("memkv: set dropped")

// Store wraps a ristretto cache as an in-process key-value store.
type Store struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a ristretto-backed store. maxCostBytes is the maximum total
// size of stored values in bytes.
func New(maxCostBytes int64) (*Store, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

// Get retrieves a value.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := s.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value. A ttl of zero never expires. Ristretto applies writes
// asynchronously, so Set waits for the buffers to drain; a Get issued after
// Set returns must observe the write.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if !s.c.SetWithTTL(key, value, int64(len(value)), ttl) {
		return ErrDropped
	}
	s.c.Wait()
	return nil
}

// Delete removes a value.
func (s *Store) Delete(_ context.Context, key string) error {
	s.c.Del(key)
	return nil
}

// Close releases the store's resources.
func (s *Store) Close() {
	s.c.Close()
}
