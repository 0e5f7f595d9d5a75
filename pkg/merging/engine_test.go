package merging

import (
	"context"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewiskimaru/lasomi-sub001/pkg/logging"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

func square(lon, lat, sideDeg float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{lon, lat},
		{lon + sideDeg, lat},
		{lon + sideDeg, lat + sideDeg},
		{lon, lat + sideDeg},
		{lon, lat},
	}}
}

func building(provider, id string, poly orb.Polygon, confidence float64) models.SourceFeature {
	return models.SourceFeature{
		Provider:   provider,
		SourceID:   id,
		Type:       models.FeatureTypeBuilding,
		Geometry:   geojson.NewGeometry(poly),
		Confidence: confidence,
	}
}

func poi(provider, id string, lon, lat float64) models.SourceFeature {
	return models.SourceFeature{
		Provider:   provider,
		SourceID:   id,
		Type:       models.FeatureTypePOI,
		Geometry:   geojson.NewGeometry(orb.Point{lon, lat}),
		Confidence: 1.0,
	}
}

func newTestEngine() *Engine {
	return NewEngine(logging.NewNop(), DefaultConfig())
}

func TestMerge_CrossProviderOverlapDeduplicates(t *testing.T) {
	e := newTestEngine()

	// near-identical footprints from two providers
	a := building(models.ProviderGoogle, "g1", square(36.8, -1.3, 0.0002), 0.7)
	b := building(models.ProviderMicrosoft, "m1", square(36.80001, -1.30001, 0.0002), 0.9)

	result := e.Merge(context.Background(), []models.SourceFeature{a, b}, nil, models.FeatureFilters{})
	require.Len(t, result.Features, 1)
	assert.Equal(t, 1, result.MergedGroups)

	f := result.Features[0]
	assert.Equal(t, []string{"google", "microsoft"}, f.Providers)
	assert.Equal(t, 0.9, f.Confidence) // max across sources
	assert.Len(t, f.SourceIDs, 2)
	assert.Equal(t, 1, f.TenantCount)
}

func TestMerge_BelowOverlapThresholdStaysSeparate(t *testing.T) {
	e := newTestEngine()

	// ~25% overlap, below the 0.5 threshold
	a := building(models.ProviderGoogle, "g1", square(36.8, -1.3, 0.0002), 0.7)
	b := building(models.ProviderMicrosoft, "m1", square(36.8001, -1.2999, 0.0002), 0.9)

	result := e.Merge(context.Background(), []models.SourceFeature{a, b}, nil, models.FeatureFilters{})
	assert.Len(t, result.Features, 2)
	assert.Equal(t, 0, result.MergedGroups)
}

func TestMerge_SameProviderNeverMerges(t *testing.T) {
	e := newTestEngine()

	a := building(models.ProviderGoogle, "g1", square(36.8, -1.3, 0.0002), 0.7)
	b := building(models.ProviderGoogle, "g2", square(36.8, -1.3, 0.0002), 0.8)

	result := e.Merge(context.Background(), []models.SourceFeature{a, b}, nil, models.FeatureFilters{})
	assert.Len(t, result.Features, 2)
}

func TestMerge_PointCentroidDistance(t *testing.T) {
	e := newTestEngine()

	// ~1.1m apart: duplicate. ~11m apart: distinct.
	near := []models.SourceFeature{
		poi(models.ProviderOSM, "node/1", 36.8, -1.3),
		poi(models.ProviderGoogle, "p1", 36.8, -1.3+0.00001),
	}
	far := []models.SourceFeature{
		poi(models.ProviderOSM, "node/2", 36.9, -1.3),
		poi(models.ProviderGoogle, "p2", 36.9, -1.3+0.0001),
	}

	result := e.Merge(context.Background(), append(near, far...), nil, models.FeatureFilters{})
	assert.Len(t, result.Features, 3)
	assert.Equal(t, 1, result.MergedGroups)
}

func TestMerge_TransitiveGrouping(t *testing.T) {
	e := newTestEngine()

	// a~b and b~c should collapse all three even if a and c overlap less
	a := building(models.ProviderGoogle, "g1", square(36.8, -1.3, 0.0002), 0.7)
	b := building(models.ProviderMicrosoft, "m1", square(36.80005, -1.3, 0.0002), 0.8)
	c := building(models.ProviderOSM, "way/1", square(36.8001, -1.3, 0.0002), 1.0)

	result := e.Merge(context.Background(), []models.SourceFeature{a, b, c}, nil, models.FeatureFilters{})
	require.Len(t, result.Features, 1)
	assert.Equal(t, []string{"google", "microsoft", "osm"}, result.Features[0].Providers)
}

func TestMerge_OrderInvariance(t *testing.T) {
	e := newTestEngine()

	features := []models.SourceFeature{
		building(models.ProviderGoogle, "g1", square(36.8, -1.3, 0.0002), 0.7),
		building(models.ProviderMicrosoft, "m1", square(36.80001, -1.3, 0.0002), 0.9),
		building(models.ProviderOSM, "way/7", square(36.81, -1.31, 0.0003), 1.0),
		poi(models.ProviderOSM, "node/9", 36.82, -1.29),
		poi(models.ProviderGoogle, "p9", 36.82, -1.29),
	}

	baseline := e.Merge(context.Background(), features, nil, models.FeatureFilters{})

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := make([]models.SourceFeature, len(features))
		copy(shuffled, features)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		result := e.Merge(context.Background(), shuffled, nil, models.FeatureFilters{})
		assert.Equal(t, baseline.Features, result.Features, "permutation %d changed the output", i)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	e := newTestEngine()

	features := []models.SourceFeature{
		building(models.ProviderGoogle, "g1", square(36.8, -1.3, 0.0002), 0.7),
		building(models.ProviderMicrosoft, "m1", square(36.80001, -1.3, 0.0002), 0.9),
		poi(models.ProviderOSM, "node/9", 36.82, -1.29),
	}

	first := e.Merge(context.Background(), features, nil, models.FeatureFilters{})

	// feed the merged output back in as a single-provider feature set
	again := make([]models.SourceFeature, 0, len(first.Features))
	for _, f := range first.Features {
		again = append(again, models.SourceFeature{
			Provider:   "merged",
			SourceID:   f.ID,
			Type:       f.Type,
			Geometry:   f.Geometry,
			Confidence: f.Confidence,
			Name:       f.Name,
			Attributes: f.Attributes,
		})
	}

	second := e.Merge(context.Background(), again, nil, models.FeatureFilters{})
	require.Len(t, second.Features, len(first.Features))
	for i := range first.Features {
		assert.Equal(t, first.Features[i].ID, second.Features[i].ID)
		assert.Equal(t, first.Features[i].Geometry, second.Features[i].Geometry)
		assert.Equal(t, first.Features[i].Confidence, second.Features[i].Confidence)
	}
}

func TestMerge_PriorityControlsGeometryAndAttributes(t *testing.T) {
	e := newTestEngine()

	a := building(models.ProviderGoogle, "g1", square(36.8, -1.3, 0.0002), 0.7)
	a.Attributes = map[string]any{"height": 3.0, "source_quality": "imagery"}
	b := building(models.ProviderMicrosoft, "m1", square(36.80001, -1.3, 0.0002), 0.9)
	b.Attributes = map[string]any{"height": 5.0, "roof": "flat"}

	priorities := map[string]int{models.ProviderMicrosoft: 0, models.ProviderGoogle: 1}

	result := e.Merge(context.Background(), []models.SourceFeature{a, b}, priorities, models.FeatureFilters{})
	require.Len(t, result.Features, 1)

	f := result.Features[0]
	// microsoft wins the conflict, google fills the gap
	assert.Equal(t, 5.0, f.Attributes["height"])
	assert.Equal(t, "flat", f.Attributes["roof"])
	assert.Equal(t, "imagery", f.Attributes["source_quality"])
	assert.Equal(t, b.Geometry, f.Geometry)
}

func TestMerge_Filters(t *testing.T) {
	e := newTestEngine()

	features := []models.SourceFeature{
		building(models.ProviderGoogle, "g1", square(36.8, -1.3, 0.0002), 0.4),
		building(models.ProviderGoogle, "g2", square(36.81, -1.3, 0.0002), 0.9),
		poi(models.ProviderOSM, "node/1", 36.82, -1.3),
	}

	t.Run("min confidence", func(t *testing.T) {
		result := e.Merge(context.Background(), features, nil, models.FeatureFilters{MinConfidence: 0.5})
		assert.Len(t, result.Features, 2)
	})

	t.Run("type allow list", func(t *testing.T) {
		result := e.Merge(context.Background(), features, nil, models.FeatureFilters{Types: []string{models.FeatureTypePOI}})
		require.Len(t, result.Features, 1)
		assert.Equal(t, models.FeatureTypePOI, result.Features[0].Type)
	})

	t.Run("filters are AND combined", func(t *testing.T) {
		result := e.Merge(context.Background(), features, nil, models.FeatureFilters{
			MinConfidence: 0.5,
			Types:         []string{models.FeatureTypeBuilding},
		})
		require.Len(t, result.Features, 1)
		assert.Equal(t, 0.9, result.Features[0].Confidence)
	})

	t.Run("min area drops points", func(t *testing.T) {
		result := e.Merge(context.Background(), features, nil, models.FeatureFilters{MinAreaM2: 10})
		assert.Len(t, result.Features, 2)
	})
}

func TestMerge_DegenerateDroppedWithWarning(t *testing.T) {
	e := newTestEngine()

	bad := models.SourceFeature{
		Provider: models.ProviderOSM,
		SourceID: "way/1",
		Type:     models.FeatureTypeBuilding,
		Geometry: geojson.NewGeometry(orb.Polygon{}),
	}
	good := building(models.ProviderGoogle, "g1", square(36.8, -1.3, 0.0002), 0.8)

	result := e.Merge(context.Background(), []models.SourceFeature{bad, good}, nil, models.FeatureFilters{})
	assert.Len(t, result.Features, 1)
	assert.Equal(t, 1, result.DroppedDegenerate)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "way/1")
}

func TestMerge_Empty(t *testing.T) {
	e := newTestEngine()
	result := e.Merge(context.Background(), nil, nil, models.FeatureFilters{})
	assert.Empty(t, result.Features)
}
