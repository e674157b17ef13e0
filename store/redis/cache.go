/*
Package redis provides a shared evaluation cache backed by Redis.

PURPOSE:
  Implements flagging.Cache over Redis so that multiple engine processes
  share one evaluation cache. TTL handling moves to Redis itself (SET with
  expiry), which keeps eviction off the application's hands.

BEST-EFFORT SEMANTICS:
  Cache failures never surface to callers. A broken Redis degrades every
  lookup to a miss and every write to a no-op; the engine recomputes the
  decision from the definition store instead. Failures are logged at warn.

KEY LAYOUT:
  flageval:<tenant>:<flagKey>:<contextType>:<contextID>
  The fixed prefix scopes SCAN-based invalidation to this cache's keys only.

SEE ALSO:
  - flagging/cache.go: Cache interface and the in-process MemoryCache
*/
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/feature-engine/flagging"
)

const keyPrefix = "flageval:"

// scanBatch bounds how many keys a single SCAN page returns during
// invalidation.
const scanBatch = 256

// Cache is a Redis-backed flagging.Cache.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewCache wraps an existing client. A non-positive TTL falls back to
// flagging.DefaultCacheTTL; a nil logger falls back to a no-op logger.
func NewCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = flagging.DefaultCacheTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{client: client, ttl: ttl, log: log}
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) Get(ctx context.Context, key string) (flagging.EvaluationResult, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("evaluation cache read failed", zap.String("key", key), zap.Error(err))
		}
		return flagging.EvaluationResult{}, false
	}

	var result flagging.EvaluationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		c.log.Warn("evaluation cache entry corrupt", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, keyPrefix+key)
		return flagging.EvaluationResult{}, false
	}
	return result, true
}

func (c *Cache) Put(ctx context.Context, key string, result flagging.EvaluationResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.log.Warn("evaluation cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("evaluation cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) ClearAll(ctx context.Context) {
	c.deleteByPattern(ctx, keyPrefix+"*")
}

// ClearTenant removes every cached evaluation for one tenant. The tenant is
// the first key segment after the prefix, so a pattern match suffices.
func (c *Cache) ClearTenant(ctx context.Context, tenantID string) {
	c.deleteByPattern(ctx, keyPrefix+tenantID+":*")
}

// deleteByPattern walks matching keys with SCAN and deletes them in batches.
// SCAN instead of KEYS keeps invalidation from blocking the server.
func (c *Cache) deleteByPattern(ctx context.Context, pattern string) {
	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()

	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			c.deleteKeys(ctx, batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		c.log.Warn("evaluation cache scan failed", zap.String("pattern", pattern), zap.Error(err))
	}
	if len(batch) > 0 {
		c.deleteKeys(ctx, batch)
	}
}

func (c *Cache) deleteKeys(ctx context.Context, keys []string) {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("evaluation cache delete failed", zap.Int("keys", len(keys)), zap.Error(err))
	}
}
