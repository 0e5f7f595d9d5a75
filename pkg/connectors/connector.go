package connectors

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/lewiskimaru/lasomi-sub001/pkg/httpclient"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

// Connector fetches raw features for an AOI from one provider. Fetch honors
// ctx cancellation and may return partial results together with a
// ConnectorError of kind PartialData.
type Connector interface {
	Name() string
	Fetch(ctx context.Context, aoi models.AreaOfInterest) ([]models.SourceFeature, error)
}

// Config holds the default provider endpoints. A job's provider config can
// override the endpoint per submission.
type Config struct {
	OSMEndpoint       string
	MicrosoftEndpoint string
	GoogleEndpoint    string
	DefaultTimeout    time.Duration
}

// Factory builds connectors from per-job provider configuration. Connectors
// are constructed per job; there is no process-global connector state.
type Factory struct {
	logger ectologger.Logger
	http   *httpclient.Client
	cfg    Config
}

// NewFactory creates a connector factory.
func NewFactory(logger ectologger.Logger, httpClient *httpclient.Client, cfg Config) *Factory {
	return &Factory{
		logger: logger,
		http:   httpClient,
		cfg:    cfg,
	}
}

// Build creates the connector for a provider name with the job's overrides
// applied.
func (f *Factory) Build(name string, pc models.ProviderConfig) (Connector, error) {
	timeout := f.cfg.DefaultTimeout
	if pc.TimeoutSeconds > 0 {
		timeout = time.Duration(pc.TimeoutSeconds) * time.Second
	}

	switch name {
	case models.ProviderOSM:
		endpoint := f.cfg.OSMEndpoint
		if pc.Endpoint != "" {
			endpoint = pc.Endpoint
		}
		return NewOSMConnector(endpoint, timeout, f.logger), nil
	case models.ProviderMicrosoft:
		endpoint := f.cfg.MicrosoftEndpoint
		if pc.Endpoint != "" {
			endpoint = pc.Endpoint
		}
		return NewMicrosoftConnector(endpoint, f.http, f.logger), nil
	case models.ProviderGoogle:
		endpoint := f.cfg.GoogleEndpoint
		if pc.Endpoint != "" {
			endpoint = pc.Endpoint
		}
		return NewGoogleConnector(endpoint, f.http, f.logger), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}

// BuildEnabled creates connectors for all enabled providers, sorted by name
// for deterministic dispatch order.
func (f *Factory) BuildEnabled(providers map[string]models.ProviderConfig) ([]Connector, error) {
	names := make([]string, 0, len(providers))
	for name, pc := range providers {
		if pc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]Connector, 0, len(names))
	for _, name := range names {
		c, err := f.Build(name, providers[name])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
