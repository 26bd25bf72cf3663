package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Potat-Industries/eval-server/internal/common/cache"
)

func newTestCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCache(mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCacheHashRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	if err := c.HSet(ctx, "eval:kv:scope1", "field", "value"); err != nil {
		t.Fatalf("HSet() error = %v", err)
	}

	got, err := c.HGet(ctx, "eval:kv:scope1", "field")
	if err != nil {
		t.Fatalf("HGet() error = %v", err)
	}
	if got != "value" {
		t.Fatalf("HGet() = %q, want %q", got, "value")
	}

	exists, err := c.HExists(ctx, "eval:kv:scope1", "field")
	if err != nil {
		t.Fatalf("HExists() error = %v", err)
	}
	if !exists {
		t.Fatal("HExists() = false, want true")
	}

	n, err := c.HLen(ctx, "eval:kv:scope1")
	if err != nil {
		t.Fatalf("HLen() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("HLen() = %d, want 1", n)
	}

	if err := c.HDel(ctx, "eval:kv:scope1", "field"); err != nil {
		t.Fatalf("HDel() error = %v", err)
	}

	exists, err = c.HExists(ctx, "eval:kv:scope1", "field")
	if err != nil {
		t.Fatalf("HExists() after delete error = %v", err)
	}
	if exists {
		t.Fatal("HExists() after delete = true, want false")
	}
}

func TestRedisCacheHExpireNX(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	if err := c.HSet(ctx, "eval:kv:scope2", "field", "value"); err != nil {
		t.Fatalf("HSet() error = %v", err)
	}

	applied, err := c.HExpireNX(ctx, "eval:kv:scope2", "field", time.Minute)
	if err != nil {
		t.Fatalf("HExpireNX() error = %v", err)
	}
	if !applied {
		t.Fatal("HExpireNX() on a fresh field = false, want true")
	}

	appliedAgain, err := c.HExpireNX(ctx, "eval:kv:scope2", "field", time.Hour)
	if err != nil {
		t.Fatalf("HExpireNX() second call error = %v", err)
	}
	if appliedAgain {
		t.Fatal("HExpireNX() on an already-expiring field = true, want false")
	}
}

func TestRedisCacheHDelEmptyIsNoop(t *testing.T) {
	c := newTestCache(t)
	if err := c.HDel(context.Background(), "eval:kv:scope3"); err != nil {
		t.Fatalf("HDel() with no fields error = %v", err)
	}
}
