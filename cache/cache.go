// Package cache provides the read-through cache used for catalog browsing.
// Memory serves tests and single-instance deployments; Redis serves
// everything else. Neither is ever consulted for balance-affecting reads.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values with a TTL.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	Close() error
}

type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)

// GetOrSet retrieves a value or computes and stores it if missing. A
// failing Get is treated as a miss. A failing Set is returned alongside
// the computed value; a failing fn returns a nil value.
func GetOrSet(ctx context.Context, c Cache, key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error) {
	if value, err := c.Get(ctx, key); err == nil {
		return value, nil
	}

	value, err := fn()
	if err != nil {
		return nil, err
	}
	return value, c.Set(ctx, key, value, ttl)
}
