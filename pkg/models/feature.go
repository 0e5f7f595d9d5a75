package models

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Provider identifiers. Connector registration and job provider config key off these.
const (
	ProviderMicrosoft = "microsoft"
	ProviderGoogle    = "google"
	ProviderOSM       = "osm"
)

// Feature types emitted by connectors and carried through the pipeline.
const (
	FeatureTypeBuilding = "building"
	FeatureTypeRoad     = "road"
	FeatureTypePOI      = "poi"
	FeatureTypeLandmark = "landmark"
	FeatureTypeCluster  = "cluster"
)

// SourceFeature is a raw feature as returned by a single provider, before
// deduplication. SourceID is the provider's native identifier; connectors
// synthesize a fingerprint id when the provider has none.
type SourceFeature struct {
	Provider   string            `json:"provider"`
	SourceID   string            `json:"source_id"`
	Type       string            `json:"type"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Confidence float64           `json:"confidence"`
	Name       string            `json:"name,omitempty"`
	Attributes map[string]any    `json:"attributes,omitempty"`
}

// Key returns the canonical identity of a source feature. Used for ordering
// so downstream stages are independent of provider completion order.
func (f *SourceFeature) Key() string {
	return f.Provider + ":" + f.SourceID
}

// QualifiedFeature is a deduplicated, merged feature that passed the job
// filters. Providers and SourceIDs are sorted and parallel.
type QualifiedFeature struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Geometry    *geojson.Geometry `json:"geometry"`
	Centroid    orb.Point         `json:"centroid"` // [lon, lat]
	AreaM2      float64           `json:"area_m2"`
	Confidence  float64           `json:"confidence"`
	TenantCount int               `json:"tenant_count"`
	Name        string            `json:"name,omitempty"`
	Providers   []string          `json:"providers"`
	SourceIDs   []string          `json:"source_ids"`
	Attributes  map[string]any    `json:"attributes,omitempty"`
}

// Cluster groups nearby qualified features under a tenant cap and service
// radius. Centroid is the representative point ([lon, lat]).
type Cluster struct {
	ID               string    `json:"id"`
	Centroid         orb.Point `json:"centroid"`
	MemberIDs        []string  `json:"member_ids"`
	TenantCount      int       `json:"tenant_count"`
	RadiusM          float64   `json:"radius_m"`
	RecommendedSplit bool      `json:"recommended_split"`
}
