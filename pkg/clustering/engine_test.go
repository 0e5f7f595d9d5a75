package clustering

import (
	"context"
	"fmt"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewiskimaru/lasomi-sub001/pkg/logging"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

func buildingAt(id string, lon, lat float64, tenants int) models.QualifiedFeature {
	return models.QualifiedFeature{
		ID:          id,
		Type:        models.FeatureTypeBuilding,
		Centroid:    orb.Point{lon, lat},
		TenantCount: tenants,
	}
}

func newTestEngine() *Engine {
	return NewEngine(logging.NewNop())
}

func TestCluster_EveryBuildingAssignedOnce(t *testing.T) {
	e := newTestEngine()

	var features []models.QualifiedFeature
	for i := 0; i < 20; i++ {
		features = append(features, buildingAt(
			fmt.Sprintf("b%02d", i),
			36.8+float64(i%5)*0.0005,
			-1.3+float64(i/5)*0.0005,
			1,
		))
	}

	clusters := e.Cluster(context.Background(), features, Params{
		MaxTenantsPerPoint: 8,
		MaxServiceRadiusM:  150,
	})
	require.NotEmpty(t, clusters)

	seen := make(map[string]int)
	for _, c := range clusters {
		for _, id := range c.MemberIDs {
			seen[id]++
		}
	}
	assert.Len(t, seen, 20)
	for id, count := range seen {
		assert.Equal(t, 1, count, "building %s assigned %d times", id, count)
	}
}

func TestCluster_TenantCapNeverExceeded(t *testing.T) {
	e := newTestEngine()

	var features []models.QualifiedFeature
	for i := 0; i < 12; i++ {
		features = append(features, buildingAt(fmt.Sprintf("b%02d", i), 36.8+float64(i)*0.00005, -1.3, 3))
	}

	clusters := e.Cluster(context.Background(), features, Params{
		MaxTenantsPerPoint: 10,
		MaxServiceRadiusM:  500,
	})

	total := 0
	for _, c := range clusters {
		assert.LessOrEqual(t, c.TenantCount, 10)
		total += c.TenantCount
	}
	assert.Equal(t, 36, total)
}

func TestCluster_RadiusCapSplitsDistantBuildings(t *testing.T) {
	e := newTestEngine()

	features := []models.QualifiedFeature{
		buildingAt("near-a", 36.8000, -1.3, 1),
		buildingAt("near-b", 36.8001, -1.3, 1),
		buildingAt("far-a", 36.9000, -1.3, 1), // ~11km away
	}

	clusters := e.Cluster(context.Background(), features, Params{
		MaxTenantsPerPoint: 100,
		MaxServiceRadiusM:  100,
	})
	require.Len(t, clusters, 2)
}

func TestCluster_RecommendedSplitNearCap(t *testing.T) {
	e := newTestEngine()

	// 9 tenants of a 10 cap is within the 10% hint band
	features := []models.QualifiedFeature{
		buildingAt("a", 36.8, -1.3, 5),
		buildingAt("b", 36.80001, -1.3, 4),
	}

	clusters := e.Cluster(context.Background(), features, Params{
		MaxTenantsPerPoint: 10,
		MaxServiceRadiusM:  100,
	})
	require.Len(t, clusters, 1)
	assert.True(t, clusters[0].RecommendedSplit)

	// well under the cap: no hint
	clusters = e.Cluster(context.Background(), features[:1], Params{
		MaxTenantsPerPoint: 10,
		MaxServiceRadiusM:  100,
	})
	require.Len(t, clusters, 1)
	assert.False(t, clusters[0].RecommendedSplit)
}

func TestCluster_IgnoresRoadsAndZeroTenants(t *testing.T) {
	e := newTestEngine()

	features := []models.QualifiedFeature{
		buildingAt("b1", 36.8, -1.3, 1),
		{ID: "r1", Type: models.FeatureTypeRoad, Centroid: orb.Point{36.8, -1.3}},
		{ID: "b2", Type: models.FeatureTypeBuilding, Centroid: orb.Point{36.8, -1.3}, TenantCount: 0},
	}

	clusters := e.Cluster(context.Background(), features, Params{
		MaxTenantsPerPoint: 10,
		MaxServiceRadiusM:  100,
	})
	require.Len(t, clusters, 1)
	assert.Equal(t, []string{"b1"}, clusters[0].MemberIDs)
}

func TestCluster_AttachmentPointOverridesNearestRepresentative(t *testing.T) {
	e := newTestEngine()

	features := []models.QualifiedFeature{
		buildingAt("a", 36.8, -1.3, 1),
		buildingAt("b", 36.9, -1.3, 1),
	}

	clusters := e.Cluster(context.Background(), features, Params{
		MaxTenantsPerPoint: 1,
		MaxServiceRadiusM:  100,
		AttachmentPoint:    &models.GeoPoint{Lon: 36.8001, Lat: -1.3},
	})
	require.Len(t, clusters, 2)

	// the cluster near the attachment point takes it as representative
	var found bool
	for _, c := range clusters {
		if c.Centroid == (orb.Point{36.8001, -1.3}) {
			found = true
			assert.Equal(t, []string{"a"}, c.MemberIDs)
		}
	}
	assert.True(t, found)
}

func TestCluster_Deterministic(t *testing.T) {
	e := newTestEngine()

	var features []models.QualifiedFeature
	for i := 0; i < 15; i++ {
		features = append(features, buildingAt(fmt.Sprintf("b%02d", i), 36.8+float64(i)*0.0001, -1.3, 2))
	}

	params := Params{MaxTenantsPerPoint: 6, MaxServiceRadiusM: 200}
	first := e.Cluster(context.Background(), features, params)

	reversed := make([]models.QualifiedFeature, len(features))
	for i, f := range features {
		reversed[len(features)-1-i] = f
	}
	second := e.Cluster(context.Background(), reversed, params)

	assert.Equal(t, first, second)
}

func TestCluster_Empty(t *testing.T) {
	e := newTestEngine()
	clusters := e.Cluster(context.Background(), nil, Params{MaxTenantsPerPoint: 10, MaxServiceRadiusM: 100})
	assert.Empty(t, clusters)
}
