// Package kvstore provides the atomic key-value coordinator used as the
// idempotency ledger: a TTL-aware map whose operations never interleave.
package kvstore

import (
	"context"
	"time"
)

// Store is a TTL-aware key-value map. A ttl <= 0 means the entry never expires.
//
// TryInsert is the coordination primitive: among any number of callers racing
// on the same key, exactly one observes true.
type Store[V any] interface {
	// Get returns the live value for key. Expired entries read as absent.
	Get(ctx context.Context, key string) (V, bool, error)
	// Set upserts value, replacing any previous TTL with ttl.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	// TryInsert stores value only if key has no live entry.
	TryInsert(ctx context.Context, key string, value V, ttl time.Duration) (bool, error)
	// Delete removes key and reports whether a live entry was present.
	Delete(ctx context.Context, key string) (bool, error)
	Has(ctx context.Context, key string) (bool, error)
}
