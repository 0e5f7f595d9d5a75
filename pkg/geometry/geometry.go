package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/peterstace/simplefeatures/geom"
)

const metersPerDegree = 111319.49 // at the equator

// ValidatePolygon checks that a polygon has at least one ring, every ring is
// closed with at least 4 points, and the geometry is valid (no
// self-intersection). Coordinates are lon/lat.
func ValidatePolygon(poly orb.Polygon) error {
	if len(poly) == 0 {
		return fmt.Errorf("polygon has no rings")
	}

	for i, ring := range poly {
		if len(ring) < 4 {
			return fmt.Errorf("ring %d has %d points, need at least 4", i, len(ring))
		}
		if !ring.Closed() {
			return fmt.Errorf("ring %d is not closed", i)
		}
		for _, pt := range ring {
			if pt[0] < -180 || pt[0] > 180 || pt[1] < -90 || pt[1] > 90 {
				return fmt.Errorf("ring %d has coordinate out of range: %v", i, pt)
			}
		}
	}

	// simplefeatures validates on parse, which catches self-intersection and
	// degenerate rings that the structural checks above miss.
	if _, err := geom.UnmarshalWKT(PolygonWKT(poly)); err != nil {
		return fmt.Errorf("invalid polygon: %w", err)
	}

	return nil
}

// AreaM2 returns the geodesic area of a geometry in square meters.
func AreaM2(g orb.Geometry) float64 {
	return math.Abs(geo.Area(g))
}

// Centroid returns the centroid of a geometry.
func Centroid(g orb.Geometry) orb.Point {
	c, _ := planar.CentroidArea(g)
	return c
}

// DistanceM returns the haversine distance between two lon/lat points in meters.
func DistanceM(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b)
}

// IsDegenerate reports whether a geometry carries no usable shape: a polygon
// with a broken ring or near-zero area, a line with fewer than 2 points.
// Points are never degenerate.
func IsDegenerate(g orb.Geometry) bool {
	switch v := g.(type) {
	case orb.Point:
		return false
	case orb.LineString:
		return len(v) < 2
	case orb.Polygon:
		if len(v) == 0 || len(v[0]) < 4 {
			return true
		}
		return AreaM2(v) < 1e-6
	case orb.MultiPolygon:
		for _, p := range v {
			if !IsDegenerate(p) {
				return false
			}
		}
		return true
	case nil:
		return true
	default:
		return false
	}
}

// PolygonWKT renders a lon/lat polygon as WKT.
func PolygonWKT(poly orb.Polygon) string {
	var sb strings.Builder
	sb.WriteString("POLYGON(")
	for i, ring := range poly {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		for j, pt := range ring {
			if j > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.FormatFloat(pt[0], 'f', -1, 64))
			sb.WriteByte(' ')
			sb.WriteString(strconv.FormatFloat(pt[1], 'f', -1, 64))
		}
		sb.WriteByte(')')
	}
	sb.WriteByte(')')
	return sb.String()
}

// OverpassPoly renders the exterior ring as an Overpass "poly" filter value:
// space-separated lat lon pairs.
func OverpassPoly(poly orb.Polygon) string {
	if len(poly) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, pt := range poly[0] {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.FormatFloat(pt[1], 'f', -1, 64))
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(pt[0], 'f', -1, 64))
	}
	return sb.String()
}

// BoundBBox renders a bound as "south,west,north,east" for provider bbox params.
func BoundBBox(b orb.Bound) string {
	return fmt.Sprintf("%f,%f,%f,%f", b.Min[1], b.Min[0], b.Max[1], b.Max[0])
}

// Projector maps lon/lat coordinates onto a local plane in meters using an
// equirectangular projection around an origin. Accurate enough for the
// building-scale overlap tests this service runs; not for continental extents.
type Projector struct {
	origin orb.Point
	cosLat float64
}

// NewProjector creates a projector centered on origin.
func NewProjector(origin orb.Point) *Projector {
	return &Projector{
		origin: origin,
		cosLat: math.Cos(origin[1] * math.Pi / 180),
	}
}

// Project converts a lon/lat point to local meters.
func (p *Projector) Project(pt orb.Point) orb.Point {
	return orb.Point{
		(pt[0] - p.origin[0]) * metersPerDegree * p.cosLat,
		(pt[1] - p.origin[1]) * metersPerDegree,
	}
}

// ProjectPolygon converts a lon/lat polygon to local meters.
func (p *Projector) ProjectPolygon(poly orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(poly))
	for i, ring := range poly {
		r := make(orb.Ring, len(ring))
		for j, pt := range ring {
			r[j] = p.Project(pt)
		}
		out[i] = r
	}
	return out
}
