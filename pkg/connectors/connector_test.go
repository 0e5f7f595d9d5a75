package connectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewiskimaru/lasomi-sub001/pkg/httpclient"
	"github.com/lewiskimaru/lasomi-sub001/pkg/logging"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

func testFactory() *Factory {
	logger := logging.NewNop()
	return NewFactory(logger, httpclient.NewClient(httpclient.DefaultConfig(), logger), Config{
		OSMEndpoint:       "https://overpass.example.com/api/interpreter",
		MicrosoftEndpoint: "https://footprints.example.com/v1/buildings",
		GoogleEndpoint:    "https://openbuildings.example.com/v3/polygons",
		DefaultTimeout:    30 * time.Second,
	})
}

func TestFactory_Build(t *testing.T) {
	f := testFactory()

	tests := []struct {
		provider string
		wantName string
	}{
		{provider: models.ProviderOSM, wantName: "osm"},
		{provider: models.ProviderMicrosoft, wantName: "microsoft"},
		{provider: models.ProviderGoogle, wantName: "google"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			c, err := f.Build(tt.provider, models.ProviderConfig{Enabled: true})
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, c.Name())
		})
	}
}

func TestFactory_BuildUnknown(t *testing.T) {
	f := testFactory()
	_, err := f.Build("esri", models.ProviderConfig{Enabled: true})
	assert.Error(t, err)
}

func TestFactory_BuildEnabled(t *testing.T) {
	f := testFactory()

	conns, err := f.BuildEnabled(map[string]models.ProviderConfig{
		models.ProviderOSM:       {Enabled: true},
		models.ProviderGoogle:    {Enabled: true},
		models.ProviderMicrosoft: {Enabled: false},
	})
	require.NoError(t, err)
	require.Len(t, conns, 2)

	// sorted by name for deterministic dispatch
	assert.Equal(t, "google", conns[0].Name())
	assert.Equal(t, "osm", conns[1].Name())
}

func TestBuildOverpassQuery(t *testing.T) {
	q := buildOverpassQuery("-1.3 36.8 -1.3 36.9 -1.2 36.9 -1.3 36.8")
	assert.Contains(t, q, `way["building"](poly:"-1.3 36.8`)
	assert.Contains(t, q, `way["highway"]`)
	assert.Contains(t, q, `node["amenity"]`)
	assert.Contains(t, q, "out body;")
}
