// Package ratelimit admits at most Limit requests per key in fixed windows aligned to the epoch,
// so a 24h window resets at midnight UTC.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Result is the outcome of one admission check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
	Reset(ctx context.Context, key string) error
}

type Option func(*window)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(w *window) {
		w.now = now
	}
}

type window struct {
	limit  int
	length time.Duration
	now    func() time.Time
}

func newWindow(limit int, length time.Duration, opts ...Option) window {
	w := window{limit: limit, length: length, now: time.Now}
	for _, opt := range opts {
		opt(&w)
	}
	return w
}

// current returns the id of the window containing now and the time left in it
func (w window) current() (string, time.Duration) {
	now := w.now()
	start := now.Truncate(w.length)
	return strconv.FormatInt(start.Unix(), 10), start.Add(w.length).Sub(now)
}

func (w window) result(count int, left time.Duration) Result {
	r := Result{Allowed: count <= w.limit, Limit: w.limit, Remaining: max(w.limit-count, 0)}
	if !r.Allowed {
		r.RetryAfter = left
	}
	return r
}

// MemoryLimiter keeps counters in process memory; they are lost on restart
type MemoryLimiter struct {
	window
	mu    sync.Mutex
	cache *cache.Cache
}

func NewMemoryLimiter(limit int, length time.Duration, opts ...Option) *MemoryLimiter {
	return &MemoryLimiter{
		window: newWindow(limit, length, opts...),
		cache:  cache.New(length, length),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	id, left := m.current()
	k := key + ":" + id

	m.mu.Lock()
	defer m.mu.Unlock()
	count := 1
	if x, found := m.cache.Get(k); found {
		count = x.(int) + 1
	}
	m.cache.Set(k, count, cache.DefaultExpiration)
	return m.result(count, left), nil
}

func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	id, _ := m.current()
	m.cache.Delete(key + ":" + id)
	return nil
}

// RedisLimiter shares counters between processes through INCR and EXPIRE
type RedisLimiter struct {
	window
	client *redis.Client
	prefix string
}

func NewRedisLimiter(client *redis.Client, limit int, length time.Duration, opts ...Option) *RedisLimiter {
	return &RedisLimiter{
		window: newWindow(limit, length, opts...),
		client: client,
		prefix: "docqa:ratelimit:",
	}
}

// NewRedisClient parses a redis:// URL
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	id, left := r.current()
	k := r.prefix + key + ":" + id

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, r.length)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("redis pipeline error: %w", err)
	}
	return r.result(int(incr.Val()), left), nil
}

func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	id, _ := r.current()
	return r.client.Del(ctx, r.prefix+key+":"+id).Err()
}

type Config struct {
	Limiter Limiter
	// KeyGenerator defaults to the matched route path plus the client address
	KeyGenerator func(c *fiber.Ctx) string
}

// New returns fiber middleware rejecting requests over the limit with 429.
// Limiter errors let the request through.
func New(cfg Config) fiber.Handler {
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = func(c *fiber.Ctx) string {
			return c.Route().Path + "|" + c.IP()
		}
	}

	return func(c *fiber.Ctx) error {
		key := cfg.KeyGenerator(c)
		res, err := cfg.Limiter.Allow(c.UserContext(), key)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("Rate limiter error")
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			log.Warn().Str("key", key).Dur("retry_after", res.RetryAfter).Msg("Rate limit exceeded")
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		return c.Next()
	}
}
