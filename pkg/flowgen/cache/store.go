// Package cache stores generated programs keyed by strategy, rule set
// version, and canonical graph hash.
package cache

import (
	"context"
	"errors"
	"time"
)

// Store caches generated program text.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the cached value for key.
	// Returns ErrNotFound if the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)

	// Put stores value under key, overwriting any previous value.
	// A ttl of zero means the entry never expires.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Returns nil if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for cache operations.
var (
	// ErrNotFound indicates a key is absent or expired.
	ErrNotFound = errors.New("cache entry not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("cache store closed")
)

// Key builds the cache key for a program. scope names the generator, with
// its model when it has one ("delegate@sonnet"). Changing the rule set
// version invalidates every entry produced under the previous rules.
func Key(scope, rulesVersion, graphHash string) string {
	return "flowgen:" + scope + ":" + rulesVersion + ":" + graphHash
}

// expiry converts a ttl into an absolute deadline; zero means none.
func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl).UTC()
}
