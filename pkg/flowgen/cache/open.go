package cache

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Open creates the store for a configured backend. The dsn is a file path
// for sqlite, a redis:// URL for redis, and a connection string for
// postgres; memory ignores it. BackendNone and "" return a nil Store.
// A sqlite file has its expired entries pruned when opened.
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch backend {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		if dsn == "" {
			dsn = "flowgen-cache.db"
		}
		s, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		// Expired rows are never read but would otherwise stay on disk.
		if _, err := s.Prune(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case BackendRedis:
		return NewRedisStoreFromURL(ctx, dsn)
	case BackendPostgres:
		return OpenPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
