// Package cache provides the key-value cache consumed by the engine for
// customer snapshots and metrics counters. The cache is advisory: callers
// treat every failure as a miss and fall through to the backing store.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is the string-keyed get/set-with-TTL surface the engine consumes.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Increment atomically adds delta to a numeric counter, creating it at
	// zero when absent, and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	Delete(ctx context.Context, key string) error
}

// IsMiss reports whether the error represents an absent key rather than a
// backend failure.
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}
