package geometry

import (
	"github.com/paulmach/orb"
	"github.com/peterstace/simplefeatures/geom"
)

// OverlapFraction returns the intersection area of two lon/lat polygons as a
// fraction of the smaller polygon's area. Returns 0 when either polygon is
// degenerate or invalid.
func OverlapFraction(a, b orb.Polygon) float64 {
	if IsDegenerate(a) || IsDegenerate(b) {
		return 0
	}

	// Project both onto a shared local plane so the intersection area and the
	// input areas are computed in the same units.
	proj := NewProjector(Centroid(a))
	pa := proj.ProjectPolygon(a)
	pb := proj.ProjectPolygon(b)

	ga, err := geom.UnmarshalWKT(PolygonWKT(pa))
	if err != nil {
		return 0
	}
	gb, err := geom.UnmarshalWKT(PolygonWKT(pb))
	if err != nil {
		return 0
	}

	inter, err := geom.Intersection(ga, gb)
	if err != nil || inter.IsEmpty() {
		return 0
	}

	areaA := ga.Area()
	areaB := gb.Area()
	smaller := areaA
	if areaB < smaller {
		smaller = areaB
	}
	if smaller <= 0 {
		return 0
	}

	return inter.Area() / smaller
}
