package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/lewiskimaru/lasomi-sub001/pkg/connectors"
)

// RetryPolicy controls retries for transient provider failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns the standard provider retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// Retry runs op until it succeeds, fails permanently, or attempts run out.
// Only transient connector errors (unavailable, rate limited) are retried;
// invalid AOI and partial data errors return immediately. Returns the last
// result, the attempt count, and the last error.
func Retry[T any](ctx context.Context, policy RetryPolicy, logger ectologger.Logger, limiter Limiter, provider string, op func(context.Context) (T, error)) (T, int, error) {
	var result T
	var err error

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := policy.InitialBackoff
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = op(ctx)
		if err == nil {
			return result, attempt, nil
		}

		ce, ok := connectors.AsConnectorError(err)
		if !ok || !ce.Retryable() || attempt == attempts {
			return result, attempt, err
		}

		wait := backoff
		if ce.RetryAfter > 0 {
			wait = ce.RetryAfter
			if limiter != nil {
				// back off every worker on this provider, not just this call
				_ = limiter.Block(ctx, provider, ce.RetryAfter)
			}
		}
		wait += time.Duration(rand.Int63n(int64(wait)/4 + 1)) // jitter

		logger.WithContext(ctx).WithFields(map[string]any{
			"provider": provider,
			"attempt":  attempt,
			"kind":     string(ce.Kind),
			"wait":     wait.String(),
		}).Warn("provider fetch failed, retrying")

		select {
		case <-ctx.Done():
			return result, attempt, ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return result, attempts, err
}
