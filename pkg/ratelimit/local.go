package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter rate limits providers in-process with token buckets. Used when
// Redis is disabled and in tests.
type LocalLimiter struct {
	limits   map[string]ProviderLimit
	fallback ProviderLimit

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	slots    map[string]chan struct{}
	blocked  map[string]time.Time
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter(limits map[string]ProviderLimit, fallback ProviderLimit) *LocalLimiter {
	return &LocalLimiter{
		limits:   limits,
		fallback: fallback,
		buckets:  make(map[string]*rate.Limiter),
		slots:    make(map[string]chan struct{}),
		blocked:  make(map[string]time.Time),
	}
}

func (l *LocalLimiter) limitFor(provider string, override ProviderLimit) ProviderLimit {
	limit := l.fallback
	if cfg, ok := l.limits[provider]; ok {
		limit = cfg
	}
	// a job's own request budget wins over the configured one
	if override.Requests > 0 {
		limit.Requests = override.Requests
		if override.Window > 0 {
			limit.Window = override.Window
		}
	}
	return limit
}

func (l *LocalLimiter) bucket(provider string, limit ProviderLimit) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := limit.Window
	if window <= 0 {
		window = time.Minute
	}
	perSecond := rate.Limit(float64(limit.Requests) / window.Seconds())

	b, ok := l.buckets[provider]
	if !ok {
		b = rate.NewLimiter(perSecond, int(limit.Requests))
		l.buckets[provider] = b
		return b
	}
	if b.Limit() != perSecond {
		b.SetLimit(perSecond)
		b.SetBurst(int(limit.Requests))
	}
	return b
}

// Acquire blocks until the provider bucket admits a request.
func (l *LocalLimiter) Acquire(ctx context.Context, provider string, override ProviderLimit, maxWait time.Duration) (func(), error) {
	limit := l.limitFor(provider, override)
	deadline := time.Now().Add(maxWait)

	// honor a dynamic block first
	l.mu.Lock()
	until, isBlocked := l.blocked[provider]
	l.mu.Unlock()
	if isBlocked {
		wait := time.Until(until)
		if wait > 0 {
			if time.Now().Add(wait).After(deadline) {
				return nil, fmt.Errorf("rate limit wait for %s would exceed %v", provider, maxWait)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	release, err := l.acquireSlot(ctx, provider, limit, deadline)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if err := l.bucket(provider, limit).Wait(waitCtx); err != nil {
		release()
		return nil, fmt.Errorf("rate limit wait for %s: %w", provider, err)
	}

	return release, nil
}

// Block pauses a provider for the given duration.
func (l *LocalLimiter) Block(_ context.Context, provider string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	l.mu.Lock()
	l.blocked[provider] = time.Now().Add(d)
	l.mu.Unlock()
	return nil
}

func (l *LocalLimiter) acquireSlot(ctx context.Context, provider string, limit ProviderLimit, deadline time.Time) (func(), error) {
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
