package fetch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/lewiskimaru/lasomi-sub001/pkg/connectors"
	"github.com/lewiskimaru/lasomi-sub001/pkg/metrics"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
	"github.com/lewiskimaru/lasomi-sub001/pkg/ratelimit"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing"
)

// ErrNoData is returned when no enabled provider produced any features.
var ErrNoData = errors.New("no provider returned data")

// Result is the outcome of the fetch phase: raw features from every provider
// that produced any, plus per-provider errors and stats for the job record.
type Result struct {
	Features []models.SourceFeature
	Errors   []models.ProviderError
	Stats    []models.ProviderStats
}

// Config tunes the orchestrator.
type Config struct {
	// MaxLimiterWait bounds how long a worker waits for a rate-limit slot
	// before the provider is recorded as rate limited.
	MaxLimiterWait time.Duration
	// DefaultProviderTimeout applies when the job's provider config carries
	// no timeout of its own.
	DefaultProviderTimeout time.Duration
	Retry                  ratelimit.RetryPolicy
}

// DefaultConfig returns the standard fetch configuration.
func DefaultConfig() Config {
	return Config{
		MaxLimiterWait:         30 * time.Second,
		DefaultProviderTimeout: 60 * time.Second,
		Retry:                  ratelimit.DefaultRetryPolicy(),
	}
}

// ConnectorBuilder builds the connectors for a job's enabled providers.
// Implemented by connectors.Factory.
type ConnectorBuilder interface {
	BuildEnabled(providers map[string]models.ProviderConfig) ([]connectors.Connector, error)
}

// Orchestrator runs the fetch phase: one worker per enabled provider, each
// gated by the rate limiter and retried on transient failures. Workers never
// share mutable state; results flow back over a channel.
type Orchestrator struct {
	logger  ectologger.Logger
	factory ConnectorBuilder
	limiter ratelimit.Limiter
	cfg     Config
}

// NewOrchestrator creates a fetch orchestrator.
func NewOrchestrator(logger ectologger.Logger, factory ConnectorBuilder, limiter ratelimit.Limiter, cfg Config) *Orchestrator {
	return &Orchestrator{
		logger:  logger,
		factory: factory,
		limiter: limiter,
		cfg:     cfg,
	}
}

type providerResult struct {
	provider string
	features []models.SourceFeature
	attempts int
	duration time.Duration
	err      error
}

// Fetch dispatches all enabled providers concurrently and collects their
// results. A provider failing is not fatal: its error is recorded and the
// remaining providers' features are still returned. Only when no provider
// yields any features does Fetch return ErrNoData.
func (o *Orchestrator) Fetch(ctx context.Context, aoi models.AreaOfInterest, providers map[string]models.ProviderConfig) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "fetch.Orchestrator.Fetch")
	defer span.End()

	conns, err := o.factory.BuildEnabled(providers)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return nil, errors.New("no providers enabled")
	}

	results := make(chan providerResult, len(conns))
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn connectors.Connector) {
			defer wg.Done()
			results <- o.fetchOne(ctx, conn, aoi, providers[conn.Name()])
		}(conn)
	}
	wg.Wait()
	close(results)

	out := &Result{}
	for res := range results {
		stat := models.ProviderStats{
			Provider:     res.provider,
			FeatureCount: len(res.features),
			Attempts:     res.attempts,
			DurationMS:   res.duration.Milliseconds(),
		}

		if res.err != nil {
			pe := models.ProviderError{
				Provider: res.provider,
				Kind:     string(connectors.KindUnavailable),
				Message:  res.err.Error(),
			}
			if ce, ok := connectors.AsConnectorError(res.err); ok {
				pe.Kind = string(ce.Kind)
				stat.Partial = ce.Kind == connectors.KindPartialData
			}
			out.Errors = append(out.Errors, pe)

			o.logger.WithContext(ctx).WithError(res.err).WithFields(map[string]any{
				"provider": res.provider,
				"attempts": res.attempts,
			}).Warn("provider fetch failed")
		}

		// partial results still count
		out.Features = append(out.Features, res.features...)
		out.Stats = append(out.Stats, stat)
	}

	sort.Slice(out.Errors, func(i, j int) bool { return out.Errors[i].Provider < out.Errors[j].Provider })
	sort.Slice(out.Stats, func(i, j int) bool { return out.Stats[i].Provider < out.Stats[j].Provider })
	sort.Slice(out.Features, func(i, j int) bool { return out.Features[i].Key() < out.Features[j].Key() })

	if len(out.Features) == 0 {
		return out, ErrNoData
	}

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"providers": len(conns),
		"features":  len(out.Features),
		"errors":    len(out.Errors),
	}).Info("fetch phase complete")

	return out, nil
}

func (o *Orchestrator) fetchOne(ctx context.Context, conn connectors.Connector, aoi models.AreaOfInterest, pc models.ProviderConfig) providerResult {
	provider := conn.Name()
	start := time.Now()

	timeout := o.cfg.DefaultProviderTimeout
	if pc.TimeoutSeconds > 0 {
		timeout = time.Duration(pc.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var budget ratelimit.ProviderLimit
	if pc.RequestsPerMinute > 0 {
		budget = ratelimit.ProviderLimit{Requests: int64(pc.RequestsPerMinute), Window: time.Minute}
	}

	acquireStart := time.Now()
	release, err := o.limiter.Acquire(ctx, provider, budget, o.cfg.MaxLimiterWait)
	metrics.RateLimitWaitTime.WithLabelValues(provider).Observe(time.Since(acquireStart).Seconds())
	if err != nil {
		return providerResult{
			provider: provider,
			duration: time.Since(start),
			err:      connectors.NewError(provider, connectors.KindRateLimited, "no request slot before deadline", err),
		}
	}
	defer release()

	features, attempts, err := ratelimit.Retry(ctx, o.cfg.Retry, o.logger, o.limiter, provider, func(ctx context.Context) ([]models.SourceFeature, error) {
		return conn.Fetch(ctx, aoi)
	})

	return providerResult{
		provider: provider,
		features: features,
		attempts: attempts,
		duration: time.Since(start),
		err:      err,
	}
}
