// Package tiered implements the kv port as a fast local tier over a
// durable remote tier.
package tiered

import (
	"context"
	"time"

	"github.com/agentwire/agentwire/internal/port/kv"
)

// Store layers a local store (memkv) over a durable one (postgres or
// natskv). The durable tier is the source of truth: writes land there
// first, and the local tier only mirrors what the durable tier accepted.
// Get checks local first and backfills it on a durable hit.
type Store struct {
	local    kv.Store
	durable  kv.Store
	localTTL time.Duration
}

// New creates a tiered store. localTTL bounds how long mirrored entries
// live in the local tier.
func New(local, durable kv.Store, localTTL time.Duration) *Store {
	return &Store{local: local, durable: durable, localTTL: localTTL}
}

// Get checks the local tier, then the durable one, backfilling local on a
// durable hit.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := s.local.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = s.durable.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		_ = s.local.Set(ctx, key, val, s.localTTL)
		return val, true, nil
	}

	return nil, false, nil
}

// Set writes the durable tier first, then mirrors into the local tier. A
// local mirror failure is swallowed: the next Get backfills from durable.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.durable.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	_ = s.local.Set(ctx, key, value, s.localTTL)
	return nil
}

// Delete removes from the local tier first so a failed durable delete
// cannot leave a stale local hit.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.local.Delete(ctx, key); err != nil {
		return err
	}
	return s.durable.Delete(ctx, key)
}
