package artifact

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/lewiskimaru/lasomi-sub001/pkg/database"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing"
)

// Repository handles export artifact persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new artifact repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Save upserts one rendered artifact. Re-running a job's export phase
// replaces the previous content for the same format.
func (r *Repository) Save(ctx context.Context, artifact *models.ExportArtifact) error {
	ctx, span := tracing.StartSpan(ctx, "artifact.Repository.Save")
	defer span.End()

	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("export_artifacts")
	sb.Cols("id", "job_id", "tenant_id", "format", "content_type", "size_bytes", "content", "created_at")
	sb.Values(artifact.ID, artifact.JobID, artifact.TenantID, artifact.Format, artifact.ContentType, artifact.SizeBytes, artifact.Content, artifact.CreatedAt)
	sb.SQL("ON CONFLICT (job_id, format) DO UPDATE SET content_type = EXCLUDED.content_type, size_bytes = EXCLUDED.size_bytes, content = EXCLUDED.content, created_at = EXCLUDED.created_at")

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": artifact.JobID,
			"format": artifact.Format,
		}).Error("Failed to save artifact")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save artifact")
	}

	return nil
}

// Get retrieves one artifact for download.
func (r *Repository) Get(ctx context.Context, tenantID, jobID, format string) (*models.ExportArtifact, error) {
	ctx, span := tracing.StartSpan(ctx, "artifact.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "job_id", "tenant_id", "format", "content_type", "size_bytes", "content", "created_at")
	sb.From("export_artifacts")
	sb.Where(
		sb.Equal("job_id", jobID),
		sb.Equal("tenant_id", tenantID),
		sb.Equal("format", strings.ToLower(format)),
	)

	query, args := sb.Build()
	var artifact models.ExportArtifact
	if err := r.db.GetContext(ctx, &artifact, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("artifact %s for job %s not found", format, jobID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get artifact")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get artifact")
	}

	return &artifact, nil
}

// ListFormats returns the formats stored for a job, sorted.
func (r *Repository) ListFormats(ctx context.Context, tenantID, jobID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "artifact.Repository.ListFormats")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("format")
	sb.From("export_artifacts")
	sb.Where(
		sb.Equal("job_id", jobID),
		sb.Equal("tenant_id", tenantID),
	)
	sb.OrderBy("format ASC")

	query, args := sb.Build()
	var formats []string
	if err := r.db.SelectContext(ctx, &formats, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list artifact formats")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list artifact formats")
	}

	return formats, nil
}
