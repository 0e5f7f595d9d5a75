package connectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewiskimaru/lasomi-sub001/pkg/httpclient"
	"github.com/lewiskimaru/lasomi-sub001/pkg/logging"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

const googleCSVPage = `latitude,longitude,area_in_meters,confidence,geometry,full_plus_code
-1.2900,36.8050,120.5,0.91,"POLYGON((36.805 -1.29, 36.8052 -1.29, 36.8052 -1.2898, 36.805 -1.2898, 36.805 -1.29))",6GCRPR55+XX
-1.2905,36.8100,80.0,0.65,"POLYGON((36.810 -1.2905, 36.8102 -1.2905, 36.8102 -1.2903, 36.810 -1.2903, 36.810 -1.2905))",
`

func TestGoogleConnector_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "0" {
			w.Write([]byte(googleCSVPage))
			return
		}
		w.Write([]byte("latitude,longitude,area_in_meters,confidence,geometry,full_plus_code\n"))
	}))
	defer server.Close()

	logger := logging.NewNop()
	conn := NewGoogleConnector(server.URL, httpclient.NewClient(httpclient.DefaultConfig(), logger), logger)

	features, err := conn.Fetch(context.Background(), testAOI())
	require.NoError(t, err)
	require.Len(t, features, 2)

	assert.Equal(t, models.ProviderGoogle, features[0].Provider)
	assert.Equal(t, "6GCRPR55+XX", features[0].SourceID)
	assert.Equal(t, 0.91, features[0].Confidence)
	assert.Equal(t, 120.5, features[0].Attributes["area_in_meters"])

	// the second row has no plus code and falls back to a fingerprint id
	assert.NotEmpty(t, features[1].SourceID)
	assert.NotEqual(t, features[0].SourceID, features[1].SourceID)
}

func TestGoogleConnector_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	logger := logging.NewNop()
	conn := NewGoogleConnector(server.URL, httpclient.NewClient(httpclient.DefaultConfig(), logger), logger)

	_, err := conn.Fetch(context.Background(), testAOI())
	require.Error(t, err)

	ce, ok := AsConnectorError(err)
	require.True(t, ok)
	assert.Equal(t, KindUnavailable, ce.Kind)
}

func TestParsePolygonWKT(t *testing.T) {
	tests := []struct {
		name    string
		wkt     string
		wantErr bool
		rings   int
		points  int
	}{
		{
			name:   "simple polygon",
			wkt:    "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))",
			rings:  1,
			points: 5,
		},
		{
			name:   "polygon with hole",
			wkt:    "POLYGON((0 0, 4 0, 4 4, 0 4, 0 0),(1 1, 2 1, 2 2, 1 2, 1 1))",
			rings:  2,
			points: 5,
		},
		{
			name:    "not a polygon",
			wkt:     "POINT(1 2)",
			wantErr: true,
		},
		{
			name:    "ring too short",
			wkt:     "POLYGON((0 0, 1 1, 0 0))",
			wantErr: true,
		},
		{
			name:    "garbage",
			wkt:     "POLYGON((a b, c d))",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poly, err := parsePolygonWKT(tt.wkt)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, poly, tt.rings)
			assert.Len(t, poly[0], tt.points)
			assert.Equal(t, orb.Point{0, 0}, poly[0][0])
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, float64(0), ParseRetryAfter("").Seconds())
	assert.Equal(t, float64(30), ParseRetryAfter("30").Seconds())
	assert.Equal(t, float64(0), ParseRetryAfter("-5").Seconds())
	assert.Equal(t, float64(0), ParseRetryAfter("not a value").Seconds())
}
