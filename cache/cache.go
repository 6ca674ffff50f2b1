// Package cache provides the optional look-aside document cache fronting
// Database.GetDocument reads (SPEC_FULL §3). It is adapted from the
// teacher's nodestorage/v2/cache package: the same generic Cache[T]
// contract, the same Memory/Redis backend split, keyed by plain strings
// here (document ids) rather than Mongo ObjectIDs.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned when a key is not present (or has expired).
	ErrMiss = errors.New("cache: miss")
	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache: closed")
)

// Cache stores values of type T under string keys with a per-entry TTL.
// A cache is purely an accelerator: callers must always be prepared to
// fall through to the source of truth on ErrMiss.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, error)
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// Options configures a cache backend's default TTL and, for MemoryCache,
// its eviction behavior.
type Options struct {
	DefaultTTL       time.Duration
	MaxItems         int
	EvictionInterval time.Duration
}

// DefaultOptions mirrors the teacher's DefaultCacheOptions.
func DefaultOptions() *Options {
	return &Options{
		DefaultTTL:       time.Hour,
		MaxItems:         10000,
		EvictionInterval: 5 * time.Minute,
	}
}
