package connectors

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/serjvanilla/go-overpass"

	"github.com/lewiskimaru/lasomi-sub001/pkg/geometry"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

// OSMConnector fetches buildings, roads, and points of interest from an
// Overpass API endpoint.
type OSMConnector struct {
	client  *overpass.Client
	timeout time.Duration
	logger  ectologger.Logger
}

// NewOSMConnector creates an Overpass-backed connector.
func NewOSMConnector(endpoint string, timeout time.Duration, logger ectologger.Logger) *OSMConnector {
	httpClient := &http.Client{
		Timeout: timeout,
	}
	client := overpass.NewWithSettings(endpoint, 2, httpClient)
	return &OSMConnector{
		client:  &client,
		timeout: timeout,
		logger:  logger,
	}
}

// Name returns the provider identifier.
func (c *OSMConnector) Name() string {
	return models.ProviderOSM
}

// Fetch queries Overpass for features inside the AOI polygon.
func (c *OSMConnector) Fetch(ctx context.Context, aoi models.AreaOfInterest) ([]models.SourceFeature, error) {
	poly, ok := aoi.Polygon()
	if !ok {
		return nil, NewError(c.Name(), KindInvalidAOI, "aoi is not a polygon", nil)
	}

	query := buildOverpassQuery(geometry.OverpassPoly(poly))

	result, err := c.executeQuery(ctx, query)
	if err != nil {
		return nil, c.classify(err)
	}

	features := convertOverpassResult(result)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"provider": c.Name(),
		"count":    len(features),
	}).Debug("Overpass fetch complete")

	return features, nil
}

// executeQuery runs the Overpass query in a goroutine so ctx cancellation is
// honored; the underlying client has no context support.
func (c *OSMConnector) executeQuery(ctx context.Context, query string) (*overpass.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type queryResult struct {
		result overpass.Result
		err    error
	}
	done := make(chan queryResult, 1)

	go func() {
		result, err := c.client.Query(query)
		done <- queryResult{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case qr := <-done:
		if qr.err != nil {
			return nil, fmt.Errorf("overpass query failed: %w", qr.err)
		}
		return &qr.result, nil
	}
}

func (c *OSMConnector) classify(err error) *ConnectorError {
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "too many requests") {
		return NewError(c.Name(), KindRateLimited, "overpass rate limited", err)
	}
	return NewError(c.Name(), KindUnavailable, "overpass unavailable", err)
}

func buildOverpassQuery(polyFilter string) string {
	return fmt.Sprintf(`
		[out:json][timeout:60];
		(
			way["building"](poly:"%s");
			way["highway"](poly:"%s");
			node["amenity"](poly:"%s");
			node["shop"](poly:"%s");
		);
		out body;
		>;
		out skel qt;
	`, polyFilter, polyFilter, polyFilter, polyFilter)
}

func convertOverpassResult(result *overpass.Result) []models.SourceFeature {
	var features []models.SourceFeature

	for _, node := range result.Nodes {
		if node == nil || len(node.Tags) == 0 {
			continue
		}
		if node.Tags["amenity"] == "" && node.Tags["shop"] == "" {
			continue
		}

		features = append(features, models.SourceFeature{
			Provider:   models.ProviderOSM,
			SourceID:   fmt.Sprintf("node/%d", node.ID),
			Type:       models.FeatureTypePOI,
			Geometry:   geojson.NewGeometry(orb.Point{node.Lon, node.Lat}),
			Confidence: 1.0,
			Name:       node.Tags["name"],
			Attributes: tagAttributes(node.Tags),
		})
	}

	for _, way := range result.Ways {
		if way == nil || len(way.Nodes) < 2 {
			continue
		}

		feature, ok := convertWay(way)
		if ok {
			features = append(features, feature)
		}
	}

	// Overpass results come back as maps; sort for a deterministic slice.
	sort.Slice(features, func(i, j int) bool {
		return features[i].SourceID < features[j].SourceID
	})

	return features
}

func convertWay(way *overpass.Way) (models.SourceFeature, bool) {
	line := make(orb.LineString, 0, len(way.Nodes))
	for _, node := range way.Nodes {
		if node == nil {
			continue
		}
		line = append(line, orb.Point{node.Lon, node.Lat})
	}
	if len(line) < 2 {
		return models.SourceFeature{}, false
	}

	closed := line[0] == line[len(line)-1]

	var g orb.Geometry
	featureType := ""
	switch {
	case way.Tags["building"] != "" && closed && len(line) >= 4:
		g = orb.Polygon{orb.Ring(line)}
		featureType = models.FeatureTypeBuilding
	case way.Tags["highway"] != "":
		g = line
		featureType = models.FeatureTypeRoad
	default:
		return models.SourceFeature{}, false
	}

	if geometry.IsDegenerate(g) {
		return models.SourceFeature{}, false
	}

	return models.SourceFeature{
		Provider:   models.ProviderOSM,
		SourceID:   fmt.Sprintf("way/%d", way.ID),
		Type:       featureType,
		Geometry:   geojson.NewGeometry(g),
		Confidence: 1.0,
		Name:       way.Tags["name"],
		Attributes: tagAttributes(way.Tags),
	}, true
}

func tagAttributes(tags map[string]string) map[string]any {
	if len(tags) == 0 {
		return nil
	}
	attrs := make(map[string]any, len(tags))
	for k, v := range tags {
		attrs[k] = v
	}
	return attrs
}
