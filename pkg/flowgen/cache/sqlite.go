package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists cached programs to SQLite.
// It is suitable for single-process deployments.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite cache.
// The path should be a file path (e.g., "./flowgen-cache.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS programs (
			key TEXT PRIMARY KEY,
			code TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var code string
	err := s.db.QueryRowContext(ctx, `
		SELECT code FROM programs
		WHERE key = ? AND (expires_at = 0 OR expires_at > ?)
	`, key, time.Now().UnixNano()).Scan(&code)

	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load program: %w", err)
	}
	return code, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var expiresAt int64
	if exp := expiry(ttl); !exp.IsZero() {
		expiresAt = exp.UnixNano()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO programs (key, code, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			code = excluded.code,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, key, value, time.Now().UTC().Format(time.RFC3339Nano), expiresAt)
	if err != nil {
		return fmt.Errorf("save program: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM programs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete program: %w", err)
	}
	return nil
}

// Prune removes expired entries and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM programs WHERE expires_at != 0 AND expires_at <= ?
	`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune programs: %w", err)
	}
	return res.RowsAffected()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
