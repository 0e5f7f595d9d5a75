package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Gobusters/ectologger"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/lewiskimaru/lasomi-sub001/pkg/fingerprint"
	"github.com/lewiskimaru/lasomi-sub001/pkg/geometry"
	"github.com/lewiskimaru/lasomi-sub001/pkg/httpclient"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

const microsoftMaxPages = 100

// MicrosoftConnector fetches building footprints served as paged GeoJSON
// FeatureCollections over a bbox query.
type MicrosoftConnector struct {
	endpoint string
	http     *httpclient.Client
	logger   ectologger.Logger
}

// NewMicrosoftConnector creates the Microsoft building footprints connector.
func NewMicrosoftConnector(endpoint string, httpClient *httpclient.Client, logger ectologger.Logger) *MicrosoftConnector {
	return &MicrosoftConnector{
		endpoint: endpoint,
		http:     httpClient,
		logger:   logger,
	}
}

// Name returns the provider identifier.
func (c *MicrosoftConnector) Name() string {
	return models.ProviderMicrosoft
}

// Fetch walks bbox pages until an empty page. A failure partway through
// returns the pages already collected with a PartialData error.
func (c *MicrosoftConnector) Fetch(ctx context.Context, aoi models.AreaOfInterest) ([]models.SourceFeature, error) {
	poly, ok := aoi.Polygon()
	if !ok {
		return nil, NewError(c.Name(), KindInvalidAOI, "aoi is not a polygon", nil)
	}

	bbox := geometry.BoundBBox(poly.Bound())

	var features []models.SourceFeature
	for page := 0; page < microsoftMaxPages; page++ {
		pageFeatures, err := c.fetchPage(ctx, bbox, page)
		if err != nil {
			if ce, ok := AsConnectorError(err); ok && page > 0 {
				// keep what we have; the caller decides whether partial data
				// is acceptable
				partial := NewError(c.Name(), KindPartialData,
					fmt.Sprintf("page %d failed after %d features", page, len(features)), ce)
				return features, partial
			}
			return nil, err
		}
		if len(pageFeatures) == 0 {
			break
		}

		for _, f := range pageFeatures {
			if featureInAOI(f, poly) {
				features = append(features, f)
			}
		}
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"provider": c.Name(),
		"count":    len(features),
	}).Debug("footprint fetch complete")

	return features, nil
}

func (c *MicrosoftConnector) fetchPage(ctx context.Context, bbox string, page int) ([]models.SourceFeature, error) {
	u := fmt.Sprintf("%s?bbox=%s&page=%d", c.endpoint, url.QueryEscape(bbox), page)

	resp, err := c.http.Get(ctx, u, nil)
	if err != nil {
		return nil, NewError(c.Name(), KindUnavailable, "request failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		ce := NewError(c.Name(), KindRateLimited, "rate limited", nil)
		ce.RetryAfter = ParseRetryAfter(resp.RetryAfter())
		return nil, ce
	case resp.StatusCode == http.StatusBadRequest:
		return nil, NewError(c.Name(), KindInvalidAOI, "provider rejected the aoi", nil)
	default:
		return nil, NewError(c.Name(), KindUnavailable,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	fc, err := geojson.UnmarshalFeatureCollection(resp.Body)
	if err != nil {
		return nil, NewError(c.Name(), KindUnavailable, "malformed geojson page", err)
	}

	features := make([]models.SourceFeature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		g := f.Geometry
		if geometry.IsDegenerate(g) {
			continue
		}

		confidence := 1.0
		if v, ok := f.Properties["confidence"].(float64); ok {
			confidence = v
		}

		features = append(features, models.SourceFeature{
			Provider:   models.ProviderMicrosoft,
			SourceID:   microsoftSourceID(f, g),
			Type:       models.FeatureTypeBuilding,
			Geometry:   geojson.NewGeometry(g),
			Confidence: confidence,
			Attributes: footprintAttributes(f.Properties),
		})
	}

	return features, nil
}

func microsoftSourceID(f *geojson.Feature, g orb.Geometry) string {
	if id, ok := f.ID.(string); ok && id != "" {
		return id
	}
	if id, ok := f.ID.(float64); ok {
		return fmt.Sprintf("%.0f", id)
	}
	return fingerprint.Geometry(g, models.FeatureTypeBuilding)
}

func footprintAttributes(props geojson.Properties) map[string]any {
	if len(props) == 0 {
		return nil
	}
	attrs := make(map[string]any, len(props))
	for k, v := range props {
		attrs[k] = v
	}
	return attrs
}

// featureInAOI keeps features whose centroid falls inside the AOI polygon.
// The bbox query over-fetches at the corners.
func featureInAOI(f models.SourceFeature, aoi orb.Polygon) bool {
	if f.Geometry == nil {
		return false
	}
	return planar.PolygonContains(aoi, geometry.Centroid(f.Geometry.Geometry()))
}
