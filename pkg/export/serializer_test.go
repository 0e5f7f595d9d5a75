package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewiskimaru/lasomi-sub001/pkg/logging"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

func testSnapshot() *Snapshot {
	building := models.QualifiedFeature{
		ID:   "bldg-1",
		Type: models.FeatureTypeBuilding,
		Geometry: geojson.NewGeometry(orb.Polygon{orb.Ring{
			{36.8, -1.3}, {36.8002, -1.3}, {36.8002, -1.2998}, {36.8, -1.2998}, {36.8, -1.3},
		}}),
		Centroid:    orb.Point{36.8001, -1.2999},
		AreaM2:      480,
		Confidence:  0.85,
		TenantCount: 4,
		Name:        "Harbor House",
		Providers:   []string{"google", "microsoft"},
		SourceIDs:   []string{"google:p1", "microsoft:m1"},
		Attributes:  map[string]any{"height": 6.5},
	}
	road := models.QualifiedFeature{
		ID:         "road-1",
		Type:       models.FeatureTypeRoad,
		Geometry:   geojson.NewGeometry(orb.LineString{{36.8, -1.3}, {36.81, -1.3}}),
		Centroid:   orb.Point{36.805, -1.3},
		Confidence: 1.0,
		Providers:  []string{"osm"},
		SourceIDs:  []string{"osm:way/1"},
	}
	cluster := models.Cluster{
		ID:          "cluster-001",
		Centroid:    orb.Point{36.8001, -1.2999},
		MemberIDs:   []string{"bldg-1"},
		TenantCount: 4,
		RadiusM:     12.5,
	}
	assignment := models.AccessoryAssignment{
		TargetID:      "bldg-1",
		AccessoryCode: "SPL-16",
		Quantity:      1,
		RuleID:        "r1",
		Reason:        "standard splice",
	}

	return &Snapshot{
		Features:    []models.QualifiedFeature{building, road},
		Clusters:    []models.Cluster{cluster},
		Assignments: []models.AccessoryAssignment{assignment},
	}
}

func TestExport_GeoJSON(t *testing.T) {
	s := NewSerializer(logging.NewNop())

	rendered, err := s.Export(context.Background(), testSnapshot(), []string{models.FormatGeoJSON})
	require.NoError(t, err)
	require.Len(t, rendered, 1)
	assert.Equal(t, "application/geo+json", rendered[0].ContentType)

	fc, err := geojson.UnmarshalFeatureCollection(rendered[0].Content)
	require.NoError(t, err)
	require.Len(t, fc.Features, 3) // building, road, cluster point

	var building *geojson.Feature
	for _, f := range fc.Features {
		if f.Properties["id"] == "bldg-1" {
			building = f
		}
	}
	require.NotNil(t, building)

	assert.Equal(t, 0.85, building.Properties["confidence"])
	providers, ok := building.Properties["source_providers"].([]any)
	require.True(t, ok)
	assert.Len(t, providers, 2)
	assert.Equal(t, 6.5, building.Properties["height"])

	accessories, ok := building.Properties["accessories"].([]any)
	require.True(t, ok)
	require.Len(t, accessories, 1)
}

func TestExport_KML(t *testing.T) {
	s := NewSerializer(logging.NewNop())

	rendered, err := s.Export(context.Background(), testSnapshot(), []string{models.FormatKML})
	require.NoError(t, err)

	doc := string(rendered[0].Content)
	assert.Contains(t, doc, "<Folder>")
	assert.Contains(t, doc, "<name>Buildings</name>")
	assert.Contains(t, doc, "<name>Roads</name>")
	assert.Contains(t, doc, "<name>Distribution Points</name>")
	assert.Contains(t, doc, `id="building"`)
	assert.Contains(t, doc, "#building")
	assert.Contains(t, doc, "Harbor House")
	assert.Contains(t, doc, "SPL-16")
}

func TestExport_KMZContainsDocKML(t *testing.T) {
	s := NewSerializer(logging.NewNop())

	rendered, err := s.Export(context.Background(), testSnapshot(), []string{models.FormatKMZ})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(rendered[0].Content), int64(len(rendered[0].Content)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "doc.kml", zr.File[0].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	kmlBytes, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(kmlBytes), "<kml")
}

func TestExport_CSV(t *testing.T) {
	s := NewSerializer(logging.NewNop())

	rendered, err := s.Export(context.Background(), testSnapshot(), []string{models.FormatCSV})
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(rendered[0].Content)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4) // header + 2 features + cluster

	assert.Equal(t, []string{"id", "type", "lat", "lon", "tenant_count", "confidence", "providers"}, records[0])

	assert.Equal(t, "bldg-1", records[1][0])
	assert.Equal(t, "building", records[1][1])
	assert.Equal(t, "4", records[1][4])
	assert.Equal(t, "0.85", records[1][5])
	assert.Equal(t, "google;microsoft", records[1][6])

	// cluster row: no confidence, no providers, empty not an error
	assert.Equal(t, "cluster-001", records[3][0])
	assert.Equal(t, "cluster", records[3][1])
	assert.Equal(t, "", records[3][5])
	assert.Equal(t, "", records[3][6])
}

func TestExport_AllFormatsInParallel(t *testing.T) {
	s := NewSerializer(logging.NewNop())

	formats := []string{models.FormatKMZ, models.FormatCSV, models.FormatGeoJSON, models.FormatKML}
	rendered, err := s.Export(context.Background(), testSnapshot(), formats)
	require.NoError(t, err)
	require.Len(t, rendered, 4)

	// stable ordering by format name
	got := make([]string, 0, 4)
	for _, r := range rendered {
		got = append(got, r.Format)
	}
	assert.Equal(t, []string{"csv", "geojson", "kml", "kmz"}, got)

	for _, r := range rendered {
		assert.NotEmpty(t, r.Content, "format %s rendered empty", r.Format)
	}
}

func TestExport_UnknownFormat(t *testing.T) {
	s := NewSerializer(logging.NewNop())
	_, err := s.Export(context.Background(), testSnapshot(), []string{"shapefile"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "shapefile"))
}

func TestExport_EmptySnapshot(t *testing.T) {
	s := NewSerializer(logging.NewNop())

	rendered, err := s.Export(context.Background(), &Snapshot{}, []string{models.FormatGeoJSON, models.FormatCSV})
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(rendered[1].Content)
	require.NoError(t, err)
	assert.Empty(t, fc.Features)

	records, err := csv.NewReader(bytes.NewReader(rendered[0].Content)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1) // header only
}
