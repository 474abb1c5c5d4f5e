package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucket refills continuously at refill/interval_ms tokens per
// millisecond and charges one token. Returns {allowed, remaining, wait_ms}.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now

if now > ts then
	tokens = math.min(capacity, tokens + (now - ts) * refill / interval_ms)
	ts = now
end

local allowed = 0
local wait = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	wait = math.ceil((1 - tokens) * interval_ms / refill)
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', ts)
redis.call('PEXPIRE', key, ttl_ms)
return {allowed, math.floor(tokens), wait}
`)

// RedisLimiter shares buckets between API replicas.
type RedisLimiter struct {
	rdb    redis.Scripter
	cfg    Config
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(rdb redis.Scripter, cfg Config, prefix string) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, cfg: cfg.withDefaults(), prefix: prefix, now: time.Now}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := tokenBucket.Run(ctx, r.rdb, []string{r.bucketKey(key)},
		r.cfg.Capacity,
		r.cfg.Refill,
		r.cfg.Interval.Milliseconds(),
		r.now().UnixMilli(),
		(r.cfg.idle() + r.cfg.Interval).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  res[1],
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// bucketKey hashes key so tenant ids never appear in Redis key names.
func (r *RedisLimiter) bucketKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s:bucket:%s", r.prefix, hex.EncodeToString(h[:16]))
}
