package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewiskimaru/lasomi-sub001/pkg/connectors"
	"github.com/lewiskimaru/lasomi-sub001/pkg/logging"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
	"github.com/lewiskimaru/lasomi-sub001/pkg/ratelimit"
)

type fakeConnector struct {
	name  string
	calls atomic.Int32
	fetch func(ctx context.Context, attempt int32) ([]models.SourceFeature, error)
}

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) Fetch(ctx context.Context, _ models.AreaOfInterest) ([]models.SourceFeature, error) {
	return f.fetch(ctx, f.calls.Add(1))
}

type fakeBuilder struct {
	conns []connectors.Connector
}

func (b *fakeBuilder) BuildEnabled(providers map[string]models.ProviderConfig) ([]connectors.Connector, error) {
	out := make([]connectors.Connector, 0, len(b.conns))
	for _, c := range b.conns {
		if pc, ok := providers[c.Name()]; ok && pc.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

type noopLimiter struct {
	blocked atomic.Int32

	mu      sync.Mutex
	budgets map[string]ratelimit.ProviderLimit
}

func (l *noopLimiter) Acquire(_ context.Context, provider string, override ratelimit.ProviderLimit, _ time.Duration) (func(), error) {
	l.mu.Lock()
	if l.budgets == nil {
		l.budgets = make(map[string]ratelimit.ProviderLimit)
	}
	l.budgets[provider] = override
	l.mu.Unlock()
	return func() {}, nil
}

func (l *noopLimiter) budgetFor(provider string) ratelimit.ProviderLimit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budgets[provider]
}

func (l *noopLimiter) Block(context.Context, string, time.Duration) error {
	l.blocked.Add(1)
	return nil
}

func sourceFeature(provider, id string) models.SourceFeature {
	return models.SourceFeature{
		Provider:   provider,
		SourceID:   id,
		Type:       models.FeatureTypeBuilding,
		Geometry:   geojson.NewGeometry(orb.Point{36.8, -1.3}),
		Confidence: 1.0,
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = ratelimit.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	return cfg
}

func allEnabled(names ...string) map[string]models.ProviderConfig {
	out := make(map[string]models.ProviderConfig, len(names))
	for _, name := range names {
		out[name] = models.ProviderConfig{Enabled: true}
	}
	return out
}

func TestFetch_AllProvidersSucceed(t *testing.T) {
	builder := &fakeBuilder{conns: []connectors.Connector{
		&fakeConnector{name: "microsoft", fetch: func(context.Context, int32) ([]models.SourceFeature, error) {
			return []models.SourceFeature{sourceFeature("microsoft", "m1"), sourceFeature("microsoft", "m2")}, nil
		}},
		&fakeConnector{name: "osm", fetch: func(context.Context, int32) ([]models.SourceFeature, error) {
			return []models.SourceFeature{sourceFeature("osm", "way/1")}, nil
		}},
	}}
	o := NewOrchestrator(logging.NewNop(), builder, &noopLimiter{}, fastConfig())

	result, err := o.Fetch(context.Background(), models.AreaOfInterest{}, allEnabled("microsoft", "osm"))
	require.NoError(t, err)

	assert.Len(t, result.Features, 3)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Stats, 2)
	assert.Equal(t, "microsoft", result.Stats[0].Provider)
	assert.Equal(t, 2, result.Stats[0].FeatureCount)
	assert.Equal(t, 1, result.Stats[0].Attempts)

	// canonical ordering regardless of completion order
	assert.Equal(t, "microsoft:m1", result.Features[0].Key())
	assert.Equal(t, "osm:way/1", result.Features[2].Key())
}

func TestFetch_OneProviderFailsOthersSurvive(t *testing.T) {
	builder := &fakeBuilder{conns: []connectors.Connector{
		&fakeConnector{name: "google", fetch: func(context.Context, int32) ([]models.SourceFeature, error) {
			return nil, connectors.NewError("google", connectors.KindInvalidAOI, "bbox rejected", nil)
		}},
		&fakeConnector{name: "osm", fetch: func(context.Context, int32) ([]models.SourceFeature, error) {
			return []models.SourceFeature{sourceFeature("osm", "way/1")}, nil
		}},
	}}
	o := NewOrchestrator(logging.NewNop(), builder, &noopLimiter{}, fastConfig())

	result, err := o.Fetch(context.Background(), models.AreaOfInterest{}, allEnabled("google", "osm"))
	require.NoError(t, err)

	assert.Len(t, result.Features, 1)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "google", result.Errors[0].Provider)
	assert.Equal(t, "invalid_aoi", result.Errors[0].Kind)
}

func TestFetch_RetriesTransientFailure(t *testing.T) {
	conn := &fakeConnector{name: "microsoft"}
	conn.fetch = func(_ context.Context, attempt int32) ([]models.SourceFeature, error) {
		if attempt < 3 {
			return nil, connectors.NewError("microsoft", connectors.KindUnavailable, "tile service down", nil)
		}
		return []models.SourceFeature{sourceFeature("microsoft", "m1")}, nil
	}
	o := NewOrchestrator(logging.NewNop(), &fakeBuilder{conns: []connectors.Connector{conn}}, &noopLimiter{}, fastConfig())

	result, err := o.Fetch(context.Background(), models.AreaOfInterest{}, allEnabled("microsoft"))
	require.NoError(t, err)

	assert.Len(t, result.Features, 1)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 3, result.Stats[0].Attempts)
}

func TestFetch_InvalidAOINotRetried(t *testing.T) {
	conn := &fakeConnector{name: "google"}
	conn.fetch = func(context.Context, int32) ([]models.SourceFeature, error) {
		return nil, connectors.NewError("google", connectors.KindInvalidAOI, "bad polygon", nil)
	}
	o := NewOrchestrator(logging.NewNop(), &fakeBuilder{conns: []connectors.Connector{conn}}, &noopLimiter{}, fastConfig())

	result, err := o.Fetch(context.Background(), models.AreaOfInterest{}, allEnabled("google"))
	require.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, int32(1), conn.calls.Load())
	assert.Len(t, result.Errors, 1)
}

func TestFetch_PartialDataKeepsFeatures(t *testing.T) {
	conn := &fakeConnector{name: "microsoft"}
	conn.fetch = func(context.Context, int32) ([]models.SourceFeature, error) {
		partial := []models.SourceFeature{sourceFeature("microsoft", "m1")}
		return partial, connectors.NewError("microsoft", connectors.KindPartialData, "page 2 failed", nil)
	}
	o := NewOrchestrator(logging.NewNop(), &fakeBuilder{conns: []connectors.Connector{conn}}, &noopLimiter{}, fastConfig())

	result, err := o.Fetch(context.Background(), models.AreaOfInterest{}, allEnabled("microsoft"))
	require.NoError(t, err)

	assert.Len(t, result.Features, 1)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "partial_data", result.Errors[0].Kind)
	assert.True(t, result.Stats[0].Partial)
}

func TestFetch_AllProvidersEmpty(t *testing.T) {
	builder := &fakeBuilder{conns: []connectors.Connector{
		&fakeConnector{name: "osm", fetch: func(context.Context, int32) ([]models.SourceFeature, error) {
			return nil, nil
		}},
	}}
	o := NewOrchestrator(logging.NewNop(), builder, &noopLimiter{}, fastConfig())

	result, err := o.Fetch(context.Background(), models.AreaOfInterest{}, allEnabled("osm"))
	require.ErrorIs(t, err, ErrNoData)
	assert.Empty(t, result.Errors)
}

func TestFetch_NoProvidersEnabled(t *testing.T) {
	o := NewOrchestrator(logging.NewNop(), &fakeBuilder{}, &noopLimiter{}, fastConfig())

	_, err := o.Fetch(context.Background(), models.AreaOfInterest{}, map[string]models.ProviderConfig{
		"osm": {Enabled: false},
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoData)
}

func TestFetch_RetryAfterBlocksProvider(t *testing.T) {
	limiter := &noopLimiter{}
	conn := &fakeConnector{name: "osm"}
	conn.fetch = func(_ context.Context, attempt int32) ([]models.SourceFeature, error) {
		if attempt == 1 {
			return nil, &connectors.ConnectorError{
				Provider:   "osm",
				Kind:       connectors.KindRateLimited,
				Message:    "too many requests",
				RetryAfter: time.Millisecond,
			}
		}
		return []models.SourceFeature{sourceFeature("osm", "way/1")}, nil
	}
	o := NewOrchestrator(logging.NewNop(), &fakeBuilder{conns: []connectors.Connector{conn}}, limiter, fastConfig())

	result, err := o.Fetch(context.Background(), models.AreaOfInterest{}, allEnabled("osm"))
	require.NoError(t, err)
	assert.Len(t, result.Features, 1)
	assert.Equal(t, int32(1), limiter.blocked.Load())
}

func TestFetch_JobRequestBudgetReachesLimiter(t *testing.T) {
	limiter := &noopLimiter{}
	builder := &fakeBuilder{conns: []connectors.Connector{
		&fakeConnector{name: "google", fetch: func(context.Context, int32) ([]models.SourceFeature, error) {
			return []models.SourceFeature{sourceFeature("google", "g1")}, nil
		}},
		&fakeConnector{name: "osm", fetch: func(context.Context, int32) ([]models.SourceFeature, error) {
			return []models.SourceFeature{sourceFeature("osm", "way/1")}, nil
		}},
	}}
	o := NewOrchestrator(logging.NewNop(), builder, limiter, fastConfig())

	providers := map[string]models.ProviderConfig{
		"google": {Enabled: true, RequestsPerMinute: 5},
		"osm":    {Enabled: true},
	}
	_, err := o.Fetch(context.Background(), models.AreaOfInterest{}, providers)
	require.NoError(t, err)

	// the job's own budget reaches the limiter; providers without one defer
	// to the configured limits
	assert.Equal(t, ratelimit.ProviderLimit{Requests: 5, Window: time.Minute}, limiter.budgetFor("google"))
	assert.Equal(t, ratelimit.ProviderLimit{}, limiter.budgetFor("osm"))
}

func TestFetch_ProviderTimeout(t *testing.T) {
	conn := &fakeConnector{name: "osm"}
	conn.fetch = func(ctx context.Context, _ int32) ([]models.SourceFeature, error) {
		select {
		case <-ctx.Done():
			return nil, connectors.NewError("osm", connectors.KindUnavailable, "interrupted", ctx.Err())
		case <-time.After(5 * time.Second):
			return []models.SourceFeature{sourceFeature("osm", "way/1")}, nil
		}
	}

	cfg := fastConfig()
	cfg.Retry.MaxAttempts = 1
	o := NewOrchestrator(logging.NewNop(), &fakeBuilder{conns: []connectors.Connector{conn}}, &noopLimiter{}, cfg)

	providers := map[string]models.ProviderConfig{
		"osm": {Enabled: true, TimeoutSeconds: 1},
	}
	start := time.Now()
	result, err := o.Fetch(context.Background(), models.AreaOfInterest{}, providers)
	require.ErrorIs(t, err, ErrNoData)
	assert.Less(t, time.Since(start), 3*time.Second)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "unavailable", result.Errors[0].Kind)
}

func TestFetch_CancelledContext(t *testing.T) {
	conn := &fakeConnector{name: "osm"}
	conn.fetch = func(ctx context.Context, _ int32) ([]models.SourceFeature, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	o := NewOrchestrator(logging.NewNop(), &fakeBuilder{conns: []connectors.Connector{conn}}, &noopLimiter{}, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := o.Fetch(ctx, models.AreaOfInterest{}, allEnabled("osm"))
	require.ErrorIs(t, err, ErrNoData)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "context canceled")
}
