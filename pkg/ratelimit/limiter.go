// Package ratelimit meters API calls per tenant with token buckets, shared
// through Redis when available and kept in process otherwise.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter charges one token to key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config sizes every bucket: Capacity tokens, refilled by Refill tokens per
// Interval.
type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Capacity int64         `mapstructure:"capacity"`
	Refill   int64         `mapstructure:"refill"`
	Interval time.Duration `mapstructure:"interval"`
	MaxKeys  int           `mapstructure:"max_keys"`
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 120
	}
	if c.Refill <= 0 {
		c.Refill = c.Capacity
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 10_000
	}
	return c
}

// idle is how long a bucket takes to refill from empty; after that it is
// indistinguishable from a fresh one.
func (c Config) idle() time.Duration {
	return time.Duration(math.Ceil(float64(c.Capacity)/float64(c.Refill))) * c.Interval
}

type bucket struct {
	tokens float64
	last   time.Time
}

// LocalLimiter keeps buckets in a bounded in-process LRU.
type LocalLimiter struct {
	cfg     Config
	now     func() time.Time
	mu      sync.Mutex
	buckets *expirable.LRU[string, *bucket]
}

func NewLocalLimiter(cfg Config) *LocalLimiter {
	cfg = cfg.withDefaults()
	return &LocalLimiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: expirable.NewLRU[string, *bucket](cfg.MaxKeys, nil, cfg.idle()),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Capacity), last: now}
	}
	if elapsed := now.Sub(b.last); elapsed > 0 {
		b.tokens = math.Min(float64(l.cfg.Capacity), b.tokens+float64(elapsed)/float64(l.cfg.Interval)*float64(l.cfg.Refill))
		b.last = now
	}
	d := take(&b.tokens, l.cfg)
	// Get does not extend the entry's TTL; Add does. A bucket in use must not
	// expire and come back full.
	l.buckets.Add(key, b)
	return d, nil
}

func take(tokens *float64, cfg Config) Decision {
	if *tokens >= 1 {
		*tokens--
		return Decision{Allowed: true, Remaining: int64(*tokens)}
	}
	wait := (1 - *tokens) / float64(cfg.Refill) * float64(cfg.Interval)
	return Decision{Remaining: 0, RetryAfter: time.Duration(math.Ceil(wait))}
}

// Fallback uses primary and switches to secondary for the calls where primary
// errors.
type Fallback struct {
	primary   Limiter
	secondary Limiter
	logger    *zap.Logger
}

func NewFallback(primary, secondary Limiter, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Allow(ctx context.Context, key string) (Decision, error) {
	d, err := f.primary.Allow(ctx, key)
	if err == nil {
		return d, nil
	}
	if ctx.Err() == nil {
		f.logger.Warn("shared rate limiter unavailable, using local buckets", zap.Error(err))
	}
	return f.secondary.Allow(ctx, key)
}
