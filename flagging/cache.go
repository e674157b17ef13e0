/*
cache.go - Short-TTL, tenant-scoped evaluation cache

PURPOSE:
  Memoizes evaluation results keyed by (tenant, flagKey, contextType,
  contextID). The cache is an optimization only: correctness never depends
  on a hit, because a cold cache reproduces the same decision (the bucket
  hash is pure). Staleness up to the TTL window is an accepted trade-off.

NO NEGATIVE CACHING:
  "Flag not found" is never cached; absence always re-resolves.

IMPLEMENTATIONS:
  - MemoryCache (this file): process-local TTL map, the recommended default
  - store/redis: shared cache for multi-process deployments
*/
package flagging

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is how long an evaluation result stays fresh unless
// configured otherwise.
const DefaultCacheTTL = 24 * time.Hour

// Cache memoizes evaluation results. Implementations must be safe for
// concurrent use. Get/Put are best-effort: a broken cache backend degrades
// to recomputation, never to an error.
type Cache interface {
	Get(ctx context.Context, key string) (EvaluationResult, bool)
	Put(ctx context.Context, key string, result EvaluationResult)
	ClearAll(ctx context.Context)
	ClearTenant(ctx context.Context, tenantID string)
}

// CacheKey builds the canonical cache key: tenant:flagKey:contextType:contextID.
// The tenant prefix is what makes ClearTenant possible.
func CacheKey(tenantID, flagKey string, ctxType ContextType, ctxID string) string {
	return tenantID + ":" + flagKey + ":" + string(ctxType) + ":" + ctxID
}

// =============================================================================
// MEMORY CACHE - Process-local TTL map
// =============================================================================

type cacheEntry struct {
	result    EvaluationResult
	expiresAt time.Time
}

// MemoryCache is a mutex-protected TTL map. It is an explicit component
// instance owned by the engine, not a package-level singleton, so tests can
// instantiate isolated engines.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryCache creates a cache with the given TTL. A non-positive TTL
// falls back to DefaultCacheTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// TTL returns the configured entry lifetime.
func (c *MemoryCache) TTL() time.Duration { return c.ttl }

func (c *MemoryCache) Get(_ context.Context, key string) (EvaluationResult, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return EvaluationResult{}, false
	}
	if c.now().After(entry.expiresAt) {
		// Expired entries are dropped lazily on the next read.
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return EvaluationResult{}, false
	}
	return entry.result, true
}

func (c *MemoryCache) Put(_ context.Context, key string, result EvaluationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, expiresAt: c.now().Add(c.ttl)}
}

func (c *MemoryCache) ClearAll(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// ClearTenant removes every entry whose key carries the tenant prefix.
func (c *MemoryCache) ClearTenant(_ context.Context, tenantID string) {
	prefix := tenantID + ":"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Len reports the number of live entries (expired ones included until read).
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
