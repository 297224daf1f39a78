// Package natskv implements the kv port on a NATS JetStream KeyValue
// bucket, the store for multi-instance deployments.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Store wraps a JetStream KeyValue bucket.
type Store struct {
	kv jetstream.KeyValue
}

// New creates a NATS KV-backed store.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// encodeKey maps registry keys onto the restricted NATS KV key alphabet.
// Project paths carry spaces, colons and other bytes JetStream rejects.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// Get retrieves a value.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores a value. Expiry is managed at bucket level; the per-entry ttl
// is ignored.
func (s *Store) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := s.kv.Put(ctx, encodeKey(key), value)
	return err
}

// Delete removes a value.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, encodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
