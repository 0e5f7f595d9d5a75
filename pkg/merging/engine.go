package merging

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/lewiskimaru/lasomi-sub001/pkg/fingerprint"
	"github.com/lewiskimaru/lasomi-sub001/pkg/geometry"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing"
)

// Config holds the duplicate-match thresholds.
type Config struct {
	// OverlapFraction is the polygon intersection fraction (of the smaller
	// polygon) at or above which two footprints are the same feature.
	OverlapFraction float64
	// CentroidDistanceM is the centroid distance at or below which two
	// non-polygon features are the same feature.
	CentroidDistanceM float64
	// CellSizeM is the spatial index cell size. Must exceed the centroid
	// distance threshold and any realistic footprint span.
	CellSizeM float64
}

// DefaultConfig returns the standard merge thresholds.
func DefaultConfig() Config {
	return Config{
		OverlapFraction:   0.5,
		CentroidDistanceM: 2.0,
		CellSizeM:         50.0,
	}
}

// Result is the output of a merge pass.
type Result struct {
	Features []models.QualifiedFeature
	Warnings []string
	// DroppedDegenerate counts inputs discarded for unusable geometry.
	DroppedDegenerate int
	// MergedGroups counts output features built from more than one source.
	MergedGroups int
}

// Engine deduplicates and merges source features across providers. Merge is a
// pure function of its inputs: the same feature set produces the same output
// regardless of input order.
type Engine struct {
	logger ectologger.Logger
	cfg    Config
}

// NewEngine creates a merge engine.
func NewEngine(logger ectologger.Logger, cfg Config) *Engine {
	if cfg.OverlapFraction <= 0 {
		cfg.OverlapFraction = DefaultConfig().OverlapFraction
	}
	if cfg.CentroidDistanceM <= 0 {
		cfg.CentroidDistanceM = DefaultConfig().CentroidDistanceM
	}
	if cfg.CellSizeM <= 0 {
		cfg.CellSizeM = DefaultConfig().CellSizeM
	}
	return &Engine{logger: logger, cfg: cfg}
}

// Merge deduplicates features across providers, synthesizes one qualified
// feature per duplicate group, and applies the job filters. priorities maps
// provider name to rank (lower wins attribute conflicts); unlisted providers
// rank last in name order.
func (e *Engine) Merge(ctx context.Context, features []models.SourceFeature, priorities map[string]int, filters models.FeatureFilters) Result {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Merge")
	defer span.End()

	var result Result

	// Canonical order first: everything downstream is deterministic given a
	// deterministic input order.
	sorted := make([]models.SourceFeature, 0, len(features))
	for _, f := range features {
		if f.Geometry == nil || geometry.IsDegenerate(f.Geometry.Geometry()) {
			result.DroppedDegenerate++
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("dropped degenerate geometry from %s (%s)", f.Provider, f.SourceID))
			continue
		}
		sorted = append(sorted, f)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key() < sorted[j].Key()
	})

	if len(sorted) == 0 {
		return result
	}

	centroids := make([]orb.Point, len(sorted))
	index := newGridIndex(e.cfg.CellSizeM)
	for i, f := range sorted {
		centroids[i] = geometry.Centroid(f.Geometry.Geometry())
		index.insert(i, centroids[i])
	}

	uf := newUnionFind(len(sorted))
	for i := range sorted {
		for _, j := range index.neighbors(centroids[i]) {
			if j <= i {
				continue
			}
			if e.sameFeature(&sorted[i], &sorted[j], centroids[i], centroids[j]) {
				uf.union(i, j)
			}
		}
	}

	rank := providerRank(sorted, priorities)

	qualified := make([]models.QualifiedFeature, 0, len(sorted))
	for _, group := range uf.groups() {
		qf := e.synthesize(sorted, group, rank)
		if len(group) > 1 {
			result.MergedGroups++
		}
		if passesFilters(&qf, filters) {
			qualified = append(qualified, qf)
		}
	}

	sort.Slice(qualified, func(i, j int) bool {
		return qualified[i].ID < qualified[j].ID
	})
	result.Features = qualified

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"input":     len(features),
		"qualified": len(qualified),
		"merged":    result.MergedGroups,
		"dropped":   result.DroppedDegenerate,
	}).Info("merge complete")

	return result
}

// sameFeature applies the duplicate test: matching type, different provider,
// polygon overlap for footprints, centroid distance otherwise.
func (e *Engine) sameFeature(a, b *models.SourceFeature, ca, cb orb.Point) bool {
	if a.Provider == b.Provider {
		return false
	}
	if a.Type != b.Type {
		return false
	}

	pa, aIsPoly := a.Geometry.Geometry().(orb.Polygon)
	pb, bIsPoly := b.Geometry.Geometry().(orb.Polygon)

	if aIsPoly && bIsPoly {
		return geometry.OverlapFraction(pa, pb) >= e.cfg.OverlapFraction
	}

	return geometry.DistanceM(ca, cb) <= e.cfg.CentroidDistanceM
}

// synthesize builds one qualified feature from a duplicate group. The
// highest-priority member contributes geometry and base attributes; lower
// priority members fill gaps only.
func (e *Engine) synthesize(features []models.SourceFeature, group []int, rank map[string]int) models.QualifiedFeature {
	members := make([]int, len(group))
	copy(members, group)
	sort.Slice(members, func(i, j int) bool {
		fi, fj := features[members[i]], features[members[j]]
		if rank[fi.Provider] != rank[fj.Provider] {
			return rank[fi.Provider] < rank[fj.Provider]
		}
		return fi.Key() < fj.Key()
	})

	primary := features[members[0]]
	g := primary.Geometry.Geometry()

	qf := models.QualifiedFeature{
		Type:     primary.Type,
		Geometry: geojson.NewGeometry(g),
		Centroid: geometry.Centroid(g),
		AreaM2:   geometry.AreaM2(g),
		Name:     primary.Name,
	}

	attrs := make(map[string]any)
	providers := make([]string, 0, len(members))
	sourceIDs := make([]string, 0, len(members))
	confidence := 0.0

	for _, idx := range members {
		f := features[idx]
		providers = append(providers, f.Provider)
		sourceIDs = append(sourceIDs, f.Key())
		if f.Confidence > confidence {
			confidence = f.Confidence
		}
		if qf.Name == "" && f.Name != "" {
			qf.Name = f.Name
		}
		for k, v := range f.Attributes {
			if _, exists := attrs[k]; !exists {
				attrs[k] = v
			}
		}
	}

	sort.Strings(providers)
	providers = dedupeStrings(providers)
	sort.Strings(sourceIDs)

	qf.Confidence = confidence
	qf.Providers = providers
	qf.SourceIDs = sourceIDs
	if len(attrs) > 0 {
		qf.Attributes = attrs
	}
	qf.TenantCount = tenantCount(qf.Type, attrs)
	qf.ID = fingerprint.Geometry(g, qf.Type)

	return qf
}

// tenantCount reads the tenant count attribute when a provider supplied one;
// otherwise occupiable features count as a single tenant.
func tenantCount(featureType string, attrs map[string]any) int {
	if v, ok := attrs["tenant_count"]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	if featureType == models.FeatureTypeRoad {
		return 0
	}
	return 1
}

func passesFilters(f *models.QualifiedFeature, filters models.FeatureFilters) bool {
	if filters.MinConfidence > 0 && f.Confidence < filters.MinConfidence {
		return false
	}
	if filters.MinAreaM2 > 0 && f.AreaM2 < filters.MinAreaM2 {
		return false
	}
	if len(filters.Types) > 0 {
		found := false
		for _, t := range filters.Types {
			if f.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func providerRank(features []models.SourceFeature, priorities map[string]int) map[string]int {
	names := make([]string, 0)
	seen := make(map[string]bool)
	for _, f := range features {
		if !seen[f.Provider] {
			seen[f.Provider] = true
			names = append(names, f.Provider)
		}
	}
	sort.Strings(names)

	rank := make(map[string]int, len(names))
	for _, name := range names {
		if p, ok := priorities[name]; ok {
			rank[name] = p
		} else {
			rank[name] = 1000 + len(rank) // unlisted providers rank last, name order
		}
	}
	return rank
}

func dedupeStrings(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
