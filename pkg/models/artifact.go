package models

import (
	"time"
)

// ExportArtifact is one rendered output of a completed job.
type ExportArtifact struct {
	ID          string    `json:"id" db:"id"`
	JobID       string    `json:"job_id" db:"job_id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	Format      string    `json:"format" db:"format"`
	ContentType string    `json:"content_type" db:"content_type"`
	SizeBytes   int       `json:"size_bytes" db:"size_bytes"`
	Content     []byte    `json:"-" db:"content"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ContentTypeFor returns the MIME type for an export format.
func ContentTypeFor(format string) string {
	switch format {
	case FormatGeoJSON:
		return "application/geo+json"
	case FormatKML:
		return "application/vnd.google-earth.kml+xml"
	case FormatKMZ:
		return "application/vnd.google-earth.kmz"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
