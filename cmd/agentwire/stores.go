package main

import (
	"context"
	"fmt"

	"github.com/agentwire/agentwire/internal/adapter/memkv"
	awnats "github.com/agentwire/agentwire/internal/adapter/nats"
	"github.com/agentwire/agentwire/internal/adapter/natskv"
	"github.com/agentwire/agentwire/internal/adapter/postgres"
	"github.com/agentwire/agentwire/internal/adapter/tiered"
	"github.com/agentwire/agentwire/internal/config"
	"github.com/agentwire/agentwire/internal/port/kv"
)

// buildStore assembles the session registry store for the configured
// driver. The returned func releases whatever the store holds open.
func buildStore(ctx context.Context, cfg *config.Config, natsConn *awnats.Conn) (kv.Store, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		s, err := memkv.New(cfg.Store.MemoryMB << 20)
		if err != nil {
			return nil, nil, fmt.Errorf("memory store: %w", err)
		}
		return s, s.Close, nil

	case "nats":
		if natsConn == nil {
			return nil, nil, fmt.Errorf("nats store requires a nats connection")
		}
		bucket, err := natsConn.KeyValue(ctx, cfg.Store.Bucket, cfg.Store.BucketTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("nats bucket: %w", err)
		}
		return natskv.New(bucket), func() {}, nil

	case "postgres":
		store, closePool, err := buildPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, closePool, nil

	case "tiered":
		local, err := memkv.New(cfg.Store.MemoryMB << 20)
		if err != nil {
			return nil, nil, fmt.Errorf("local tier: %w", err)
		}
		durable, closePool, err := buildPostgres(ctx, cfg)
		if err != nil {
			local.Close()
			return nil, nil, err
		}
		cleanup := func() {
			closePool()
			local.Close()
		}
		return tiered.New(local, durable, cfg.Store.LocalTTL), cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func buildPostgres(ctx context.Context, cfg *config.Config) (*postgres.Store, func(), error) {
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return postgres.NewStore(pool), pool.Close, nil
}
