package domain

import (
	"context"
	"time"
)

// ResponseCacheStore is the bounded storage behind the response cache.
// Implementations can be in-memory (default) or distributed (Valkey).
type ResponseCacheStore interface {
	// Get retrieves a completion by its fingerprint key.
	// Returns nil if not found or expired.
	Get(ctx context.Context, fingerprint string) (*Completion, error)

	// Save stores a completion under the fingerprint with the given TTL,
	// evicting least-recently-used entries past the size bound.
	Save(ctx context.Context, fingerprint string, c *Completion, ttl time.Duration) error

	// PurgeExpired eagerly drops TTL-expired entries. Normally entries are
	// lazy-expired on access.
	PurgeExpired(ctx context.Context) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Len reports the current entry count.
	Len(ctx context.Context) (int, error)
}
