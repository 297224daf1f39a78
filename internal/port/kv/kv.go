// Package kv defines the port interface for session-registry persistence.
package kv

import (
	"context"
	"time"
)

// Store is the port interface for durable key-value state. A ttl of zero
// means the entry does not expire.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
