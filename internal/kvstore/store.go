package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Potat-Industries/eval-server/internal/common/cache"
)

const (
	maxFields    = 100
	maxFieldSize = 10_000
)

// Store is the guest-visible KV facade: scoped keys backed by a single
// Redis hash per key, field cardinality and value size capped per §3/§4.5.
type Store struct {
	cache cache.Cache
}

func New(c cache.Cache) *Store {
	return &Store{cache: c}
}

// Get reads field key of the hash named by the derived scoped key.
func (s *Store) Get(ctx context.Context, key string, flag *ScopeFlags, ids Ids) (string, error) {
	scoped, err := DeriveKey(flag, ids)
	if err != nil {
		return "", err
	}
	v, err := s.cache.HGet(ctx, hashName(scoped), key)
	if err != nil {
		return "", fmt.Errorf("kv get failed: %w", err)
	}
	return v, nil
}

// Set writes a field, JSON-encoding non-string values, refusing writes that
// would exceed the field-count or value-size caps. When ex > 0 it applies a
// per-field TTL in NX mode (only if the field has none yet).
func (s *Store) Set(ctx context.Context, key string, value interface{}, flag *ScopeFlags, ids Ids, ex int) error {
	scoped, err := DeriveKey(flag, ids)
	if err != nil {
		return err
	}

	encoded, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("kv encode failed: %w", err)
	}
	if len(encoded) > maxFieldSize {
		return fmt.Errorf("value exceeds %d character limit", maxFieldSize)
	}

	name := hashName(scoped)
	exists, err := s.cache.HExists(ctx, name, key)
	if err != nil {
		return fmt.Errorf("kv check failed: %w", err)
	}
	if !exists {
		count, err := s.cache.HLen(ctx, name)
		if err != nil {
			return fmt.Errorf("kv size check failed: %w", err)
		}
		if count >= maxFields {
			return fmt.Errorf("hash exceeds %d field limit", maxFields)
		}
	}

	if err := s.cache.HSet(ctx, name, key, encoded); err != nil {
		return fmt.Errorf("kv set failed: %w", err)
	}

	if ex > 0 {
		if _, err := s.cache.HExpireNX(ctx, name, key, time.Duration(ex)*time.Second); err != nil {
			return fmt.Errorf("kv expire failed: %w", err)
		}
	}

	return nil
}

// Del removes a field from the scoped hash.
func (s *Store) Del(ctx context.Context, key string, flag *ScopeFlags, ids Ids) error {
	scoped, err := DeriveKey(flag, ids)
	if err != nil {
		return err
	}
	if err := s.cache.HDel(ctx, hashName(scoped), key); err != nil {
		return fmt.Errorf("kv del failed: %w", err)
	}
	return nil
}

// Len returns the number of fields in the scoped hash.
func (s *Store) Len(ctx context.Context, flag *ScopeFlags, ids Ids) (int64, error) {
	scoped, err := DeriveKey(flag, ids)
	if err != nil {
		return 0, err
	}
	n, err := s.cache.HLen(ctx, hashName(scoped))
	if err != nil {
		return 0, fmt.Errorf("kv len failed: %w", err)
	}
	return n, nil
}

// Ex sets a per-field TTL in NX mode on an existing field.
func (s *Store) Ex(ctx context.Context, key string, seconds int, flag *ScopeFlags, ids Ids) (bool, error) {
	scoped, err := DeriveKey(flag, ids)
	if err != nil {
		return false, err
	}
	ok, err := s.cache.HExpireNX(ctx, hashName(scoped), key, time.Duration(seconds)*time.Second)
	if err != nil {
		return false, fmt.Errorf("kv ex failed: %w", err)
	}
	return ok, nil
}

func hashName(scopedKey string) string {
	return "eval:kv:" + scopedKey
}

func encodeValue(value interface{}) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
