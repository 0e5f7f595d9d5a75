package connectors

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/lewiskimaru/lasomi-sub001/pkg/fingerprint"
	"github.com/lewiskimaru/lasomi-sub001/pkg/geometry"
	"github.com/lewiskimaru/lasomi-sub001/pkg/httpclient"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

const googleMaxPages = 100

// GoogleConnector fetches Open Buildings footprints served as paged CSV:
// latitude, longitude, area_in_meters, confidence, geometry (WKT polygon),
// full_plus_code.
type GoogleConnector struct {
	endpoint string
	http     *httpclient.Client
	logger   ectologger.Logger
}

// NewGoogleConnector creates the Google Open Buildings connector.
func NewGoogleConnector(endpoint string, httpClient *httpclient.Client, logger ectologger.Logger) *GoogleConnector {
	return &GoogleConnector{
		endpoint: endpoint,
		http:     httpClient,
		logger:   logger,
	}
}

// Name returns the provider identifier.
func (c *GoogleConnector) Name() string {
	return models.ProviderGoogle
}

// Fetch walks bbox pages until an empty page. A failure partway through
// returns the pages already collected with a PartialData error.
func (c *GoogleConnector) Fetch(ctx context.Context, aoi models.AreaOfInterest) ([]models.SourceFeature, error) {
	poly, ok := aoi.Polygon()
	if !ok {
		return nil, NewError(c.Name(), KindInvalidAOI, "aoi is not a polygon", nil)
	}

	bbox := geometry.BoundBBox(poly.Bound())

	var features []models.SourceFeature
	for page := 0; page < googleMaxPages; page++ {
		pageFeatures, err := c.fetchPage(ctx, bbox, page)
		if err != nil {
			if ce, ok := AsConnectorError(err); ok && page > 0 {
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
	}).Debug("open buildings fetch complete")

	return features, nil
}

func (c *GoogleConnector) fetchPage(ctx context.Context, bbox string, page int) ([]models.SourceFeature, error) {
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

	return c.parseCSV(resp.Body)
}

func (c *GoogleConnector) parseCSV(body []byte) ([]models.SourceFeature, error) {
	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, NewError(c.Name(), KindUnavailable, "malformed csv page", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	geomCol, ok := col["geometry"]
	if !ok {
		return nil, NewError(c.Name(), KindUnavailable, "csv missing geometry column", nil)
	}

	var features []models.SourceFeature
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return features, NewError(c.Name(), KindUnavailable, "malformed csv row", err)
		}
		if geomCol >= len(record) {
			continue
		}

		poly, err := parsePolygonWKT(record[geomCol])
		if err != nil || geometry.IsDegenerate(poly) {
			continue
		}

		confidence := 1.0
		if i, ok := col["confidence"]; ok && i < len(record) {
			if v, err := strconv.ParseFloat(record[i], 64); err == nil {
				confidence = v
			}
		}

		sourceID := ""
		if i, ok := col["full_plus_code"]; ok && i < len(record) {
			sourceID = record[i]
		}
		if sourceID == "" {
			sourceID = fingerprint.Geometry(poly, models.FeatureTypeBuilding)
		}

		attrs := map[string]any{}
		if i, ok := col["area_in_meters"]; ok && i < len(record) {
			if v, err := strconv.ParseFloat(record[i], 64); err == nil {
				attrs["area_in_meters"] = v
			}
		}

		features = append(features, models.SourceFeature{
			Provider:   models.ProviderGoogle,
			SourceID:   sourceID,
			Type:       models.FeatureTypeBuilding,
			Geometry:   geojson.NewGeometry(poly),
			Confidence: confidence,
			Attributes: attrs,
		})
	}

	return features, nil
}

// parsePolygonWKT parses a WKT POLYGON into an orb polygon. Only the POLYGON
// form appears in Open Buildings exports.
func parsePolygonWKT(wkt string) (orb.Polygon, error) {
	s := strings.TrimSpace(wkt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "POLYGON") {
		return nil, fmt.Errorf("not a polygon: %q", wkt)
	}
	s = strings.TrimSpace(s[len("POLYGON"):])
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, fmt.Errorf("malformed polygon: %q", wkt)
	}
	s = s[1 : len(s)-1]

	var poly orb.Polygon
	for _, ringText := range splitRings(s) {
		ringText = strings.TrimSpace(ringText)
		ringText = strings.TrimPrefix(ringText, "(")
		ringText = strings.TrimSuffix(ringText, ")")

		var ring orb.Ring
		for _, pair := range strings.Split(ringText, ",") {
			fields := strings.Fields(strings.TrimSpace(pair))
			if len(fields) < 2 {
				return nil, fmt.Errorf("malformed coordinate: %q", pair)
			}
			lon, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return nil, err
			}
			lat, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, err
			}
			ring = append(ring, orb.Point{lon, lat})
		}
		if len(ring) < 4 {
			return nil, fmt.Errorf("ring too short")
		}
		poly = append(poly, ring)
	}
	if len(poly) == 0 {
		return nil, fmt.Errorf("polygon has no rings")
	}
	return poly, nil
}

// splitRings splits "(...),(...)" into ring substrings at depth zero commas.
func splitRings(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
