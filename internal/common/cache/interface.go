package cache

import (
	"context"
	"time"
)

// Cache is the subset of Redis hash operations the evaluation service
// actually exercises: store.{get,set,del,len,ex} is backed by a single hash
// per scoped key (see internal/kvstore). This is deliberately narrower than
// a general-purpose Redis client: no sets, sorted sets, lists, locks, or
// pipelining, because nothing in this service uses them.
type Cache interface {
	HashOps

	// Close closes the cache connection.
	Close() error
}

// HashOps defines hash (map) operations.
type HashOps interface {
	// HSet sets field in the hash stored at key to value.
	HSet(ctx context.Context, key, field string, value interface{}) error

	// HGet returns the value associated with field in the hash stored at key.
	HGet(ctx context.Context, key, field string) (string, error)

	// HDel deletes one or more fields from the hash stored at key.
	HDel(ctx context.Context, key string, fields ...string) error

	// HExists checks if a field exists in the hash stored at key.
	HExists(ctx context.Context, key, field string) (bool, error)

	// HLen returns the number of fields in the hash stored at key.
	HLen(ctx context.Context, key string) (int64, error)

	// HExpireNX sets a TTL on a single hash field if and only if that field
	// has no TTL yet. Returns false if the field already carried an expiry.
	HExpireNX(ctx context.Context, key, field string, ttl time.Duration) (bool, error)
}
