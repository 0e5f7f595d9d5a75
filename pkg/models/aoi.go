package models

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// AreaOfInterest is the polygon a job fetches features for. Coordinates are
// WGS84 lon/lat, GeoJSON ring order (first ring exterior, closed).
type AreaOfInterest struct {
	Geometry *geojson.Geometry `json:"geometry" validate:"required"`
}

// Polygon returns the AOI as an orb polygon. ok is false when the geometry
// is missing or not a polygon.
func (a *AreaOfInterest) Polygon() (orb.Polygon, bool) {
	if a == nil || a.Geometry == nil {
		return nil, false
	}
	poly, ok := a.Geometry.Geometry().(orb.Polygon)
	return poly, ok
}

// Bound returns the bounding box of the AOI polygon.
func (a *AreaOfInterest) Bound() orb.Bound {
	poly, ok := a.Polygon()
	if !ok {
		return orb.Bound{}
	}
	return poly.Bound()
}
