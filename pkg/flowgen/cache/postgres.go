package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS flowgen_programs (
    key        TEXT PRIMARY KEY,
    code       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_flowgen_programs_expires ON flowgen_programs(expires_at);
`

// PostgresStore caches programs in PostgreSQL via a pgx pool.
type PostgresStore struct {
	db     *pgxpool.Pool
	owned  bool
	closed atomic.Bool
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing pool. Close leaves the pool open.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects to dsn and creates the schema.
// Close closes the pool.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s := &PostgresStore{db: pool, owned: true}
	if err := s.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// CreateSchema creates the cache table if it doesn't exist.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// DropSchema drops the cache table.
func (s *PostgresStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS flowgen_programs`)
	return err
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	if s.closed.Load() {
		return "", ErrStoreClosed
	}
	var code string
	err := s.db.QueryRow(ctx,
		`SELECT code FROM flowgen_programs
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())`,
		key,
	).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load program: %w", err)
	}
	return code, nil
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	var expiresAt *time.Time
	if exp := expiry(ttl); !exp.IsZero() {
		expiresAt = &exp
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO flowgen_programs (key, code, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET
		     code = EXCLUDED.code,
		     created_at = NOW(),
		     expires_at = EXCLUDED.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("save program: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM flowgen_programs WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete program: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.owned {
		s.db.Close()
	}
	return nil
}
