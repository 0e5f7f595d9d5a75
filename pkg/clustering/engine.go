package clustering

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/paulmach/orb"

	"github.com/lewiskimaru/lasomi-sub001/pkg/geometry"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing"
)

// Params control one clustering pass.
type Params struct {
	MaxTenantsPerPoint int
	MaxServiceRadiusM  float64
	// AttachmentPoint, when set, replaces the computed representative point of
	// the cluster closest to it.
	AttachmentPoint *models.GeoPoint
}

// splitHintFraction flags clusters whose tenant count is within this fraction
// of the cap as candidates for splitting.
const splitHintFraction = 0.9

// Engine groups buildings into distribution-point clusters with a greedy
// proximity pass. This is a planning heuristic, not an optimal
// facility-location solve.
type Engine struct {
	logger ectologger.Logger
}

// NewEngine creates a clustering engine.
func NewEngine(logger ectologger.Logger) *Engine {
	return &Engine{logger: logger}
}

// Cluster assigns every building-type feature with tenants to exactly one
// cluster. Seeds are taken in stable (lat, lon, id) order; each cluster grows
// by nearest unassigned building until the tenant cap or the service radius
// would be exceeded.
func (e *Engine) Cluster(ctx context.Context, features []models.QualifiedFeature, params Params) []models.Cluster {
	ctx, span := tracing.StartSpan(ctx, "clustering.Engine.Cluster")
	defer span.End()

	type candidate struct {
		id       string
		centroid orb.Point
		tenants  int
	}

	candidates := make([]candidate, 0, len(features))
	for _, f := range features {
		if f.Type != models.FeatureTypeBuilding || f.TenantCount <= 0 {
			continue
		}
		candidates = append(candidates, candidate{id: f.ID, centroid: f.Centroid, tenants: f.TenantCount})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.centroid[1] != b.centroid[1] {
			return a.centroid[1] < b.centroid[1]
		}
		if a.centroid[0] != b.centroid[0] {
			return a.centroid[0] < b.centroid[0]
		}
		return a.id < b.id
	})

	assigned := make([]bool, len(candidates))
	var clusters []models.Cluster

	for seed := range candidates {
		if assigned[seed] {
			continue
		}

		anchor := candidates[seed].centroid
		memberIdxs := []int{seed}
		tenants := candidates[seed].tenants
		assigned[seed] = true

		// grow by nearest unassigned building within the radius, while the
		// tenant cap holds
		for {
			best := -1
			bestDist := 0.0
			for i := range candidates {
				if assigned[i] {
					continue
				}
				d := geometry.DistanceM(anchor, candidates[i].centroid)
				if d > params.MaxServiceRadiusM {
					continue
				}
				if best == -1 || d < bestDist || (d == bestDist && candidates[i].id < candidates[best].id) {
					best = i
					bestDist = d
				}
			}
			if best == -1 {
				break
			}
			if params.MaxTenantsPerPoint > 0 && tenants+candidates[best].tenants > params.MaxTenantsPerPoint {
				break
			}
			assigned[best] = true
			memberIdxs = append(memberIdxs, best)
			tenants += candidates[best].tenants
		}

		// representative point is the mean of member centroids
		var sumLon, sumLat float64
		memberIDs := make([]string, 0, len(memberIdxs))
		for _, i := range memberIdxs {
			sumLon += candidates[i].centroid[0]
			sumLat += candidates[i].centroid[1]
			memberIDs = append(memberIDs, candidates[i].id)
		}
		rep := orb.Point{sumLon / float64(len(memberIdxs)), sumLat / float64(len(memberIdxs))}
		sort.Strings(memberIDs)

		radius := 0.0
		for _, i := range memberIdxs {
			if d := geometry.DistanceM(rep, candidates[i].centroid); d > radius {
				radius = d
			}
		}

		split := params.MaxTenantsPerPoint > 0 &&
			float64(tenants) >= splitHintFraction*float64(params.MaxTenantsPerPoint)

		clusters = append(clusters, models.Cluster{
			ID:               fmt.Sprintf("cluster-%03d", len(clusters)+1),
			Centroid:         rep,
			MemberIDs:        memberIDs,
			TenantCount:      tenants,
			RadiusM:          radius,
			RecommendedSplit: split,
		})
	}

	if params.AttachmentPoint != nil && len(clusters) > 0 {
		attach := orb.Point{params.AttachmentPoint.Lon, params.AttachmentPoint.Lat}
		nearest := 0
		nearestDist := geometry.DistanceM(attach, clusters[0].Centroid)
		for i := 1; i < len(clusters); i++ {
			if d := geometry.DistanceM(attach, clusters[i].Centroid); d < nearestDist {
				nearest = i
				nearestDist = d
			}
		}
		clusters[nearest].Centroid = attach
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"buildings": len(candidates),
		"clusters":  len(clusters),
	}).Info("clustering complete")

	return clusters
}
