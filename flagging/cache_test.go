package flagging

import (
	"context"
	"testing"
	"time"
)

// Internal test package: cache expiry is pinned by swapping the cache's
// clock, which stays unexported.

func TestMemoryCache_PutGet(t *testing.T) {
	c := NewMemoryCache(time.Hour)
	ctx := context.Background()

	key := CacheKey("t1", "f1", ContextUser, "u1")
	want := EvaluationResult{FlagKey: "f1", Value: true, Variant: "on"}
	c.Put(ctx, key, want)

	got, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Value != true || got.Variant != "on" {
		t.Errorf("cached result mismatch: %+v", got)
	}
}

func TestMemoryCache_MissOnUnknownKey(t *testing.T) {
	c := NewMemoryCache(time.Hour)
	if _, ok := c.Get(context.Background(), "nope"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	// GIVEN: An entry written at T with a 1h TTL
	// WHEN: The clock advances past T+1h
	// THEN: The entry reads as a miss and is dropped

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Hour)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Put(ctx, "k", EvaluationResult{FlagKey: "f1"})

	now = now.Add(59 * time.Minute)
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("entry should still be fresh before TTL")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("entry should expire after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be deleted lazily, have %d entries", c.Len())
	}
}

func TestMemoryCache_DefaultTTL(t *testing.T) {
	c := NewMemoryCache(0)
	if c.TTL() != DefaultCacheTTL {
		t.Errorf("non-positive TTL should fall back to %v, got %v", DefaultCacheTTL, c.TTL())
	}
}

func TestMemoryCache_ClearTenant(t *testing.T) {
	// GIVEN: Entries for two tenants
	// WHEN: One tenant is cleared
	// THEN: Only that tenant's entries disappear

	c := NewMemoryCache(time.Hour)
	ctx := context.Background()

	c.Put(ctx, CacheKey("t1", "f1", ContextUser, "u1"), EvaluationResult{})
	c.Put(ctx, CacheKey("t1", "f2", ContextUser, "u1"), EvaluationResult{})
	c.Put(ctx, CacheKey("t2", "f1", ContextUser, "u1"), EvaluationResult{})

	c.ClearTenant(ctx, "t1")

	if _, ok := c.Get(ctx, CacheKey("t1", "f1", ContextUser, "u1")); ok {
		t.Error("t1 entry should be cleared")
	}
	if _, ok := c.Get(ctx, CacheKey("t2", "f1", ContextUser, "u1")); !ok {
		t.Error("t2 entry should survive")
	}
}

func TestMemoryCache_ClearAll(t *testing.T) {
	c := NewMemoryCache(time.Hour)
	ctx := context.Background()

	c.Put(ctx, "a", EvaluationResult{})
	c.Put(ctx, "b", EvaluationResult{})
	c.ClearAll(ctx)

	if c.Len() != 0 {
		t.Errorf("expected empty cache, have %d entries", c.Len())
	}
}

func TestCacheKey_TenantPrefix(t *testing.T) {
	key := CacheKey("t1", "f1", ContextSession, "s-9")
	if key != "t1:f1:session:s-9" {
		t.Errorf("unexpected cache key %q", key)
	}
}
