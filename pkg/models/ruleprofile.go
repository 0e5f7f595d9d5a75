package models

import (
	"time"
)

// Rule assigns an accessory to matching entities. Predicate and Quantity are
// JMESPath expressions evaluated against the entity document; Reason is a
// template with {{ path }} placeholders resolved against the same document.
type Rule struct {
	ID            string `json:"id" validate:"required"`
	Category      string `json:"category" validate:"required"`
	Predicate     string `json:"predicate" validate:"required"`
	AccessoryCode string `json:"accessory_code" validate:"required"`
	Quantity      string `json:"quantity" validate:"required"`
	Reason        string `json:"reason,omitempty"`
}

// RuleProfile bundles clustering limits and accessory rules. Rules are
// evaluated in order; the first match per (entity, category) wins.
type RuleProfile struct {
	ID                 string     `json:"id" db:"id"`
	TenantID           string     `json:"tenant_id" db:"tenant_id"`
	Name               string     `json:"name" db:"name" validate:"required"`
	MaxTenantsPerPoint int        `json:"max_tenants_per_point" validate:"required,min=1"`
	MaxServiceRadiusM  float64    `json:"max_service_radius_m" validate:"required,gt=0"`
	AttachmentPoint    *GeoPoint  `json:"attachment_point,omitempty"`
	Rules              []Rule     `json:"rules" validate:"dive"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// GeoPoint is a lon/lat pair used where a bare coordinate is configured.
type GeoPoint struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// CreateRuleProfileRequest is the request for creating a rule profile.
type CreateRuleProfileRequest struct {
	Name               string    `json:"name" validate:"required"`
	MaxTenantsPerPoint int       `json:"max_tenants_per_point" validate:"required,min=1"`
	MaxServiceRadiusM  float64   `json:"max_service_radius_m" validate:"required,gt=0"`
	AttachmentPoint    *GeoPoint `json:"attachment_point,omitempty"`
	Rules              []Rule    `json:"rules" validate:"dive"`
}

// AccessoryAssignment is a rule engine output: one accessory attached to one
// entity (a qualified feature or a cluster).
type AccessoryAssignment struct {
	TargetID      string `json:"target_id"`
	AccessoryCode string `json:"accessory_code"`
	Quantity      int    `json:"quantity"`
	RuleID        string `json:"rule_id"`
	Reason        string `json:"reason,omitempty"`
}
