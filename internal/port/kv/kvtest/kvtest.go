// Package kvtest provides a compliance suite for kv.Store implementations.
package kvtest

import (
	"context"
	"testing"
	"time"

	"github.com/agentwire/agentwire/internal/port/kv"
)

// TestStore exercises the behavior every kv.Store implementation must
// provide. It leaves the keys it wrote behind, so callers should hand it
// a scratch store or namespace.
func TestStore(t *testing.T, s kv.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := s.Set(ctx, "compliance-key", []byte("compliance-val"), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := s.Get(ctx, "compliance-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != "compliance-val" {
			t.Fatalf("expected compliance-val, got %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := s.Get(ctx, "nonexistent-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = s.Set(ctx, "del-key", []byte("del-val"), time.Minute)
		if err := s.Delete(ctx, "del-key"); err != nil {
			t.Fatal(err)
		}
		_, found, err := s.Get(ctx, "del-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := s.Delete(ctx, "never-existed"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = s.Set(ctx, "ow-key", []byte("v1"), time.Minute)
		_ = s.Set(ctx, "ow-key", []byte("v2"), time.Minute)
		val, found, err := s.Get(ctx, "ow-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s", val)
		}
	})

	t.Run("NoExpiry", func(t *testing.T) {
		if err := s.Set(ctx, "pin-key", []byte("pinned"), 0); err != nil {
			t.Fatal(err)
		}
		_, found, err := s.Get(ctx, "pin-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected entry with zero ttl to persist")
		}
	})
}
