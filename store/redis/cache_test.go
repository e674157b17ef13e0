package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/warp/feature-engine/flagging"
	redisstore "github.com/warp/feature-engine/store/redis"
)

func newTestCache(t *testing.T, ttl time.Duration) (*redisstore.Cache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisstore.NewCache(client, ttl, nil), srv
}

func sampleResult(flagKey string) flagging.EvaluationResult {
	return flagging.EvaluationResult{
		FlagKey:           flagKey,
		Value:             true,
		Variant:           "beta",
		IsTargeted:        true,
		RolloutPercentage: 50,
		EvaluatedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCache_PutGet(t *testing.T) {
	// GIVEN: A cached evaluation
	// WHEN: Read back by the same key
	// THEN: The full result survives the round trip

	cache, _ := newTestCache(t, time.Hour)
	ctx := context.Background()
	key := flagging.CacheKey("t1", "dark-mode", flagging.ContextUser, "u1")

	cache.Put(ctx, key, sampleResult("dark-mode"))

	got, ok := cache.Get(ctx, key)
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got.FlagKey != "dark-mode" || got.Variant != "beta" || got.Value != true {
		t.Errorf("cached result mangled: %+v", got)
	}
	if got.RolloutPercentage != 50 || !got.IsTargeted {
		t.Errorf("cached result mangled: %+v", got)
	}
}

func TestCache_Miss(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)
	if _, ok := cache.Get(context.Background(), "t1:nope:user:u1"); ok {
		t.Error("unwritten key should miss")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	cache, srv := newTestCache(t, time.Hour)
	ctx := context.Background()
	key := flagging.CacheKey("t1", "dark-mode", flagging.ContextUser, "u1")

	cache.Put(ctx, key, sampleResult("dark-mode"))
	srv.FastForward(59 * time.Minute)
	if _, ok := cache.Get(ctx, key); !ok {
		t.Error("entry should survive inside the TTL")
	}

	srv.FastForward(2 * time.Minute)
	if _, ok := cache.Get(ctx, key); ok {
		t.Error("entry should expire after the TTL")
	}
}

func TestCache_CorruptEntryIsMissAndDropped(t *testing.T) {
	// GIVEN: A key holding bytes that are not a result
	// WHEN: Read
	// THEN: Treated as a miss and removed from Redis

	cache, srv := newTestCache(t, time.Hour)
	ctx := context.Background()
	key := flagging.CacheKey("t1", "dark-mode", flagging.ContextUser, "u1")

	srv.Set("flageval:"+key, "{not json")

	if _, ok := cache.Get(ctx, key); ok {
		t.Error("corrupt entry should miss")
	}
	if srv.Exists("flageval:" + key) {
		t.Error("corrupt entry should be deleted")
	}
}

func TestCache_ClearTenant(t *testing.T) {
	// Invalidation is tenant-scoped: the other tenant's entries survive.
	cache, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	t1Key := flagging.CacheKey("t1", "dark-mode", flagging.ContextUser, "u1")
	t2Key := flagging.CacheKey("t2", "dark-mode", flagging.ContextUser, "u1")
	cache.Put(ctx, t1Key, sampleResult("dark-mode"))
	cache.Put(ctx, t2Key, sampleResult("dark-mode"))

	cache.ClearTenant(ctx, "t1")

	if _, ok := cache.Get(ctx, t1Key); ok {
		t.Error("cleared tenant's entry should be gone")
	}
	if _, ok := cache.Get(ctx, t2Key); !ok {
		t.Error("other tenant's entry should survive")
	}
}

func TestCache_ClearAll(t *testing.T) {
	cache, srv := newTestCache(t, time.Hour)
	ctx := context.Background()

	for _, tenant := range []string{"t1", "t2", "t3"} {
		cache.Put(ctx, flagging.CacheKey(tenant, "dark-mode", flagging.ContextUser, "u1"), sampleResult("dark-mode"))
	}
	// A foreign key outside the cache prefix must not be touched.
	srv.Set("other:app:key", "keep")

	cache.ClearAll(ctx)

	for _, tenant := range []string{"t1", "t2", "t3"} {
		key := flagging.CacheKey(tenant, "dark-mode", flagging.ContextUser, "u1")
		if _, ok := cache.Get(ctx, key); ok {
			t.Errorf("entry for %s should be gone", tenant)
		}
	}
	if !srv.Exists("other:app:key") {
		t.Error("keys outside the cache prefix must survive ClearAll")
	}
}

func TestCache_BrokenServerDegradesToMiss(t *testing.T) {
	cache, srv := newTestCache(t, time.Hour)
	ctx := context.Background()
	key := flagging.CacheKey("t1", "dark-mode", flagging.ContextUser, "u1")

	cache.Put(ctx, key, sampleResult("dark-mode"))
	srv.Close()

	// A dead Redis turns reads into misses and writes into no-ops, never
	// into errors or panics.
	if _, ok := cache.Get(ctx, key); ok {
		t.Error("dead server should read as a miss")
	}
	cache.Put(ctx, key, sampleResult("dark-mode"))
	cache.ClearAll(ctx)
}
