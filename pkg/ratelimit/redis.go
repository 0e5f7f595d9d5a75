package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/lewiskimaru/lasomi-sub001/pkg/redis"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing"
)

// slidingWindowScript counts requests in the window atomically and admits the
// caller when under the limit. Returns {allowed, remaining, oldest_ms}.
var slidingWindowScript = goredis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call("zremrangebyscore", key, "-inf", window_start)

	local current = redis.call("zcard", key)

	if current < limit then
		redis.call("zadd", key, now, now .. "-" .. math.random())
		redis.call("pexpire", key, window_ms)
		return {1, limit - current - 1}
	else
		local oldest = redis.call("zrange", key, 0, 0, "WITHSCORES")
		if #oldest > 0 then
			return {0, 0, oldest[2]}
		end
		return {0, 0, 0}
	end
`)

// RedisLimiter rate limits providers with a Redis sliding window shared across
// service instances. Dynamic blocks (Retry-After) are Redis keys with TTL so
// every instance backs off together. The in-flight cap is per instance.
type RedisLimiter struct {
	client    *redis.Client
	logger    ectologger.Logger
	keyPrefix string
	limits    map[string]ProviderLimit
	fallback  ProviderLimit

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewRedisLimiter creates a Redis-backed limiter. limits maps provider name
// to its budget; providers not listed get the fallback.
func NewRedisLimiter(client *redis.Client, logger ectologger.Logger, limits map[string]ProviderLimit, fallback ProviderLimit) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		logger:    logger,
		keyPrefix: "lasomi:ratelimit:",
		limits:    limits,
		fallback:  fallback,
		slots:     make(map[string]chan struct{}),
	}
}

func (l *RedisLimiter) limitFor(provider string, override ProviderLimit) ProviderLimit {
	limit := l.fallback
	if cfg, ok := l.limits[provider]; ok {
		limit = cfg
	}
	// a job's own request budget wins over the configured one; the in-flight
	// cap stays operator-controlled
	if override.Requests > 0 {
		limit.Requests = override.Requests
		if override.Window > 0 {
			limit.Window = override.Window
		}
	}
	return limit
}

func (l *RedisLimiter) key(provider string) string {
	return l.keyPrefix + provider
}

func (l *RedisLimiter) blockKey(provider string) string {
	return l.keyPrefix + provider + ":block"
}

// Acquire blocks until the provider budget admits a request. The release
// function frees the in-flight slot.
func (l *RedisLimiter) Acquire(ctx context.Context, provider string, override ProviderLimit, maxWait time.Duration) (func(), error) {
	ctx, span := tracing.StartSpan(ctx, "RedisLimiter.Acquire")
	defer span.End()

	limit := l.limitFor(provider, override)
	deadline := time.Now().Add(maxWait)

	release, err := l.acquireSlot(ctx, provider, limit, deadline)
	if err != nil {
		return nil, err
	}

	for {
		retryIn, err := l.tryAllow(ctx, provider, limit)
		if err != nil {
			// fail open on Redis errors so a cache outage does not stall jobs
			l.logger.WithContext(ctx).WithError(err).Warnf("rate limit check failed for %s, allowing", provider)
			return release, nil
		}
		if retryIn == 0 {
			return release, nil
		}

		if time.Now().Add(retryIn).After(deadline) {
			release()
			return nil, fmt.Errorf("rate limit wait for %s would exceed %v", provider, maxWait)
		}

		l.logger.WithContext(ctx).Infof("rate limited on %s, waiting %v", provider, retryIn)

		select {
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		case <-time.After(retryIn):
		}
	}
}

// tryAllow returns 0 when admitted, otherwise the suggested wait.
func (l *RedisLimiter) tryAllow(ctx context.Context, provider string, limit ProviderLimit) (time.Duration, error) {
	// A dynamic block takes precedence over the sliding window.
	blocked, ttl, err := l.isBlocked(ctx, provider)
	if err != nil {
		return 0, err
	}
	if blocked {
		if ttl <= 0 {
			ttl = time.Second
		}
		return ttl, nil
	}

	now := time.Now()
	result, err := slidingWindowScript.Run(ctx, l.client.Redis(), []string{l.key(provider)},
		now.UnixMilli(),
		now.Add(-limit.Window).UnixMilli(),
		limit.Requests,
		limit.Window.Milliseconds(),
	).Slice()
	if err != nil {
		return 0, err
	}

	allowed, err := toInt64(result[0])
	if err != nil {
		return 0, err
	}
	if allowed == 1 {
		return 0, nil
	}

	retryIn := limit.Window
	if len(result) > 2 {
		if oldestMs, err := toInt64(result[2]); err == nil && oldestMs > 0 {
			retryIn = time.UnixMilli(oldestMs).Add(limit.Window).Sub(now)
		}
	}
	if retryIn <= 0 {
		retryIn = 100 * time.Millisecond
	}
	return retryIn, nil
}

// Block pauses a provider for the given duration across all instances.
func (l *RedisLimiter) Block(ctx context.Context, provider string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return l.client.Set(ctx, l.blockKey(provider), "1", d)
}

func (l *RedisLimiter) isBlocked(ctx context.Context, provider string) (bool, time.Duration, error) {
	exists, err := l.client.Exists(ctx, l.blockKey(provider))
	if err != nil {
		return false, 0, err
	}
	if !exists {
		return false, 0, nil
	}
	ttl, err := l.client.TTL(ctx, l.blockKey(provider))
	if err != nil {
		return true, 0, err
	}
	if ttl < 0 {
		ttl = 0
	}
	return true, ttl, nil
}

func (l *RedisLimiter) acquireSlot(ctx context.Context, provider string, limit ProviderLimit, deadline time.Time) (func(), error) {
	if limit.MaxConcurrent <= 0 {
		return func() {}, nil
	}

	l.mu.Lock()
	sem, ok := l.slots[provider]
	if !ok {
		sem = make(chan struct{}, limit.MaxConcurrent)
		l.slots[provider] = sem
	}
	l.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-sem }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("no concurrency slot for %s before deadline", provider)
	}
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(n, 64)
			if ferr != nil {
				return 0, err
			}
			return int64(f), nil
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
