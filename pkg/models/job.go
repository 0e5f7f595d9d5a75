package models

import (
	"time"
)

// JobState is the lifecycle state of an aggregation job.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateFetching   JobState = "fetching"
	JobStateMerging    JobState = "merging"
	JobStateClustering JobState = "clustering"
	JobStateExporting  JobState = "exporting"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
	JobStateCancelled  JobState = "cancelled"
)

// IsTerminal reports whether the state admits no further transitions.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// Job failure reasons recorded on the failed terminal state.
const (
	FailureNoDataAvailable  = "no_data_available"
	FailureDeadlineExceeded = "deadline_exceeded"
	FailureInvalidAOI       = "invalid_aoi"
	FailureInternal         = "internal_error"
)

// Export formats a job can request.
const (
	FormatGeoJSON = "geojson"
	FormatKML     = "kml"
	FormatKMZ     = "kmz"
	FormatCSV     = "csv"
)

// ProviderConfig is the per-job configuration for one provider connector.
type ProviderConfig struct {
	Enabled           bool   `json:"enabled"`
	Priority          int    `json:"priority"` // lower wins attribute conflicts
	TimeoutSeconds    int    `json:"timeout_seconds,omitempty"`
	Endpoint          string `json:"endpoint,omitempty"`
	RequestsPerMinute int    `json:"requests_per_minute,omitempty"`
}

// FeatureFilters are AND-combined post-merge filters.
type FeatureFilters struct {
	MinConfidence float64  `json:"min_confidence,omitempty"`
	MinAreaM2     float64  `json:"min_area_m2,omitempty"`
	Types         []string `json:"types,omitempty"`
}

// ProviderError records a non-fatal provider failure on the job.
type ProviderError struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// ProviderStats records per-provider fetch outcomes for the status document.
type ProviderStats struct {
	Provider     string `json:"provider"`
	FeatureCount int    `json:"feature_count"`
	Attempts     int    `json:"attempts"`
	DurationMS   int64  `json:"duration_ms"`
	Partial      bool   `json:"partial"`
}

// Job is an aggregation job: the request snapshot, lifecycle state, and the
// pipeline results once terminal.
type Job struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// Request snapshot, immutable after submission.
	AOI           AreaOfInterest            `json:"aoi"`
	Providers     map[string]ProviderConfig `json:"providers"`
	Filters       FeatureFilters            `json:"filters"`
	Clustering    bool                      `json:"clustering"`
	RuleProfileID *string                   `json:"rule_profile_id,omitempty"`
	RuleProfile   *RuleProfile              `json:"rule_profile,omitempty"` // resolved at submission
	OutputFormats []string                  `json:"output_formats"`

	State         JobState `json:"state" db:"state"`
	Progress      int      `json:"progress" db:"progress"` // 0..100
	FailureReason string   `json:"failure_reason,omitempty" db:"failure_reason"`

	ProviderErrors []ProviderError `json:"provider_errors,omitempty"`
	ProviderStats  []ProviderStats `json:"provider_stats,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`

	Features    []QualifiedFeature    `json:"features,omitempty"`
	Clusters    []Cluster             `json:"clusters,omitempty"`
	Assignments []AccessoryAssignment `json:"assignments,omitempty"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// CreateJobRequest is the submission payload.
type CreateJobRequest struct {
	AOI           AreaOfInterest            `json:"aoi" validate:"required"`
	Providers     map[string]ProviderConfig `json:"providers" validate:"required,min=1"`
	Filters       *FeatureFilters           `json:"filters,omitempty"`
	Clustering    bool                      `json:"clustering"`
	RuleProfileID *string                   `json:"rule_profile_id,omitempty"`
	RuleProfile   *RuleProfile              `json:"rule_profile,omitempty"`
	OutputFormats []string                  `json:"output_formats" validate:"required,min=1,dive,oneof=geojson kml kmz csv"`
}

// JobStatusResponse is the status document returned by the API. Result
// payloads are exposed through artifacts, not inlined here.
type JobStatusResponse struct {
	ID             string          `json:"id"`
	State          JobState        `json:"state"`
	Progress       int             `json:"progress"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	FeatureCount   int             `json:"feature_count"`
	ClusterCount   int             `json:"cluster_count"`
	ProviderErrors []ProviderError `json:"provider_errors,omitempty"`
	ProviderStats  []ProviderStats `json:"provider_stats,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	Artifacts      []string        `json:"artifacts,omitempty"` // available formats
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// StatusResponse builds the API status document from a job plus its stored
// artifact formats.
func (j *Job) StatusResponse(formats []string) JobStatusResponse {
	return JobStatusResponse{
		ID:             j.ID,
		State:          j.State,
		Progress:       j.Progress,
		FailureReason:  j.FailureReason,
		FeatureCount:   len(j.Features),
		ClusterCount:   len(j.Clusters),
		ProviderErrors: j.ProviderErrors,
		ProviderStats:  j.ProviderStats,
		Warnings:       j.Warnings,
		Artifacts:      formats,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}

// JobListResponse is the response for listing jobs.
type JobListResponse struct {
	Items      []JobStatusResponse `json:"items"`
	TotalCount int                 `json:"total_count"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
}
