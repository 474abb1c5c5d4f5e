package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"threatlens/pkg/analytics"
)

// ErrCacheMiss is returned by a RemoteCache when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// RemoteCache is the shared second cache tier.
type RemoteCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RedisCache adapts a go-redis client to RemoteCache.
type RedisCache struct {
	rdb redis.UniversalClient
}

func NewRedisCache(rdb redis.UniversalClient) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// CacheStats counts lookups per tier.
type CacheStats struct {
	L1Hits int64 `json:"l1_hits"`
	L2Hits int64 `json:"l2_hits"`
	Misses int64 `json:"misses"`
}

// CacheConfig sizes the membership cache.
type CacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// CachedMembership fronts a MembershipSource with an in-process expirable LRU
// (L1) and an optional shared cache (L2). L2 failures are logged and the
// lookup falls through to the source.
type CachedMembership struct {
	next   analytics.MembershipSource
	l1     *expirable.LRU[uuid.UUID, []uuid.UUID]
	l2     RemoteCache
	ttl    time.Duration
	logger *zap.Logger

	l1Hits, l2Hits, misses atomic.Int64
}

// NewCachedMembership wraps next. l2 may be nil.
func NewCachedMembership(next analytics.MembershipSource, l2 RemoteCache, cfg CacheConfig, logger *zap.Logger) *CachedMembership {
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedMembership{
		next:   next,
		l1:     expirable.NewLRU[uuid.UUID, []uuid.UUID](cfg.Size, nil, cfg.TTL),
		l2:     l2,
		ttl:    cfg.TTL,
		logger: logger,
	}
}

func cacheKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("threatlens:tenant:%s:asns", tenantID)
}

func (c *CachedMembership) TenantAsns(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	if ids, ok := c.l1.Get(tenantID); ok {
		c.l1Hits.Add(1)
		return slices.Clone(ids), nil
	}
	if ids, ok := c.fromL2(ctx, tenantID); ok {
		c.l2Hits.Add(1)
		c.l1.Add(tenantID, ids)
		return slices.Clone(ids), nil
	}

	c.misses.Add(1)
	ids, err := c.next.TenantAsns(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.l1.Add(tenantID, slices.Clone(ids))
	c.toL2(ctx, tenantID, ids)
	return ids, nil
}

func (c *CachedMembership) fromL2(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, bool) {
	if c.l2 == nil {
		return nil, false
	}
	raw, err := c.l2.Get(ctx, cacheKey(tenantID))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) && ctx.Err() == nil {
			c.logger.Warn("membership cache read failed", zap.Stringer("tenant_id", tenantID), zap.Error(err))
		}
		return nil, false
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		c.logger.Warn("membership cache entry corrupt", zap.Stringer("tenant_id", tenantID), zap.Error(err))
		return nil, false
	}
	return ids, true
}

func (c *CachedMembership) toL2(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) {
	if c.l2 == nil {
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := c.l2.Set(ctx, cacheKey(tenantID), raw, c.ttl); err != nil && ctx.Err() == nil {
		c.logger.Warn("membership cache write failed", zap.Stringer("tenant_id", tenantID), zap.Error(err))
	}
}

// Invalidate drops a tenant from both tiers after its ASN assignments change.
func (c *CachedMembership) Invalidate(ctx context.Context, tenantID uuid.UUID) error {
	c.l1.Remove(tenantID)
	if c.l2 == nil {
		return nil
	}
	if err := c.l2.Del(ctx, cacheKey(tenantID)); err != nil {
		return fmt.Errorf("invalidate tenant %s: %w", tenantID, err)
	}
	return nil
}

// Stats returns a snapshot of the tier counters.
func (c *CachedMembership) Stats() CacheStats {
	return CacheStats{L1Hits: c.l1Hits.Load(), L2Hits: c.l2Hits.Load(), Misses: c.misses.Load()}
}
