// Package cache stores normalized metadata documents so an archive that was
// already inspected does not run its build script again.
//
// Three backends implement [Cache]:
//   - [FileCache]: one JSON file per entry under a local directory (CLI default)
//   - [RedisCache]: a shared Redis instance, for several serve replicas
//   - [NullCache]: caching disabled
//
// Keys come from a [Keyer] so callers never build them by hand. A key covers
// the SHA-256 of the archive bytes plus every option that changes the
// document (interpreter, build script name, schema version).
package cache

import (
	"context"
	"time"
)

// TTLMetadata is how long a metadata document stays cached. Archive contents
// are addressed by hash, so entries only go stale when the interpreter or its
// setuptools version changes.
const TTLMetadata = 7 * 24 * time.Hour

// Cache is a byte-oriented key/value store with per-entry expiry.
type Cache interface {
	// Get returns the value for key. A missing or expired entry is reported
	// as hit == false with a nil error.
	Get(ctx context.Context, key string) (data []byte, hit bool, err error)

	// Set stores data under key. A ttl <= 0 never expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the cache.
	Close() error
}

// Clearer is implemented by caches that can drop every entry they own.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Clear removes all entries from c if it supports clearing.
// It reports whether c was cleared.
func Clear(ctx context.Context, c Cache) (bool, error) {
	cl, ok := c.(Clearer)
	if !ok {
		return false, nil
	}
	return true, cl.Clear(ctx)
}
