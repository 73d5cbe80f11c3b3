package progress

import (
	"context"
	"fmt"

	"github.com/p-n-ai/pai-player/internal/platform/cache"
	"github.com/p-n-ai/pai-player/internal/platform/database"
)

// Backend kinds accepted by OpenBackend.
const (
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindRedis    = "redis"
	KindPostgres = "postgres"
)

// BackendConfig selects and configures a Backend.
type BackendConfig struct {
	Kind           string
	SQLitePath     string
	DatabaseURL    string
	MaxConns       int
	MinConns       int
	CacheURL       string
	CacheNamespace string // prefix for every Redis key, see cache.Options
}

// OpenBackend connects the configured backend. The returned close function
// releases its connections and is never nil.
func OpenBackend(ctx context.Context, cfg BackendConfig) (Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Kind {
	case KindMemory, "":
		return NewMemoryBackend(), noop, nil

	case KindSQLite:
		b, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return b, b.Close, nil

	case KindRedis:
		c, err := cache.New(ctx, cache.Options{URL: cfg.CacheURL, Namespace: cfg.CacheNamespace})
		if err != nil {
			return nil, noop, fmt.Errorf("connecting redis backend: %w", err)
		}
		return NewRedisBackend(c.Client, cfg.CacheNamespace), c.Close, nil

	case KindPostgres:
		db, err := database.New(ctx, database.Options{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("connecting postgres backend: %w", err)
		}
		b, err := NewPostgresBackend(db.Pool)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		if err := b.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, noop, err
		}
		return b, db.Close, nil
	}

	return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Kind)
}
