package ratelimit

import (
	"context"
	"time"
)

// ProviderLimit configures one provider's request budget.
type ProviderLimit struct {
	Requests      int64         // allowed requests per window
	Window        time.Duration // sliding window size
	MaxConcurrent int           // in-flight cap, 0 for unlimited
}

// Limiter gates provider requests. Acquire blocks until a request slot is
// available or maxWait/ctx expires; the returned release function must be
// called when the request completes. A non-zero override tightens or loosens
// the configured budget for this call only — jobs may carry their own
// per-provider request rate. Block pauses a provider for the given duration,
// used when the provider sends Retry-After.
type Limiter interface {
	Acquire(ctx context.Context, provider string, override ProviderLimit, maxWait time.Duration) (func(), error)
	Block(ctx context.Context, provider string, d time.Duration) error
}
