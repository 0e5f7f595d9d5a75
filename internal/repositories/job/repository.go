package job

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/lewiskimaru/lasomi-sub001/pkg/database"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing"
)

// jobRequest is the immutable request snapshot stored as jsonb.
type jobRequest struct {
	AOI           models.AreaOfInterest            `json:"aoi"`
	Providers     map[string]models.ProviderConfig `json:"providers"`
	Filters       models.FeatureFilters            `json:"filters"`
	Clustering    bool                             `json:"clustering"`
	RuleProfileID *string                          `json:"rule_profile_id,omitempty"`
	RuleProfile   *models.RuleProfile              `json:"rule_profile,omitempty"`
	OutputFormats []string                         `json:"output_formats"`
}

// jobResults is the pipeline output stored as jsonb once the job completes.
type jobResults struct {
	ProviderErrors []models.ProviderError        `json:"provider_errors,omitempty"`
	ProviderStats  []models.ProviderStats        `json:"provider_stats,omitempty"`
	Warnings       []string                      `json:"warnings,omitempty"`
	Features       []models.QualifiedFeature     `json:"features,omitempty"`
	Clusters       []models.Cluster              `json:"clusters,omitempty"`
	Assignments    []models.AccessoryAssignment  `json:"assignments,omitempty"`
}

type jobRow struct {
	ID            string                       `db:"id"`
	TenantID      string                       `db:"tenant_id"`
	State         string                       `db:"state"`
	Progress      int                          `db:"progress"`
	FailureReason string                       `db:"failure_reason"`
	Request       database.JSONB[jobRequest]   `db:"request"`
	Results       database.JSONB[*jobResults]  `db:"results"`
	CreatedAt     time.Time                    `db:"created_at"`
	StartedAt     *time.Time                   `db:"started_at"`
	CompletedAt   *time.Time                   `db:"completed_at"`
}

var jobColumns = []string{
	"id", "tenant_id", "state", "progress", "failure_reason",
	"request", "results", "created_at", "started_at", "completed_at",
}

func (r jobRow) toModel() *models.Job {
	j := &models.Job{
		ID:            r.ID,
		TenantID:      r.TenantID,
		AOI:           r.Request.Data.AOI,
		Providers:     r.Request.Data.Providers,
		Filters:       r.Request.Data.Filters,
		Clustering:    r.Request.Data.Clustering,
		RuleProfileID: r.Request.Data.RuleProfileID,
		RuleProfile:   r.Request.Data.RuleProfile,
		OutputFormats: r.Request.Data.OutputFormats,
		State:         models.JobState(r.State),
		Progress:      r.Progress,
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
	}
	if res := r.Results.Data; res != nil {
		j.ProviderErrors = res.ProviderErrors
		j.ProviderStats = res.ProviderStats
		j.Warnings = res.Warnings
		j.Features = res.Features
		j.Clusters = res.Clusters
		j.Assignments = res.Assignments
	}
	return j
}

// Repository handles job persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new job repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create persists a freshly submitted job.
func (r *Repository) Create(ctx context.Context, job *models.Job) error {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":    "Create",
		"tenant_id": job.TenantID,
		"job_id":    job.ID,
	})

	request := database.JSONB[jobRequest]{Data: jobRequest{
		AOI:           job.AOI,
		Providers:     job.Providers,
		Filters:       job.Filters,
		Clustering:    job.Clustering,
		RuleProfileID: job.RuleProfileID,
		RuleProfile:   job.RuleProfile,
		OutputFormats: job.OutputFormats,
	}}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("jobs")
	sb.Cols("id", "tenant_id", "state", "progress", "failure_reason", "request", "created_at")
	sb.Values(job.ID, job.TenantID, string(job.State), job.Progress, job.FailureReason, request, job.CreatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create job")
	}

	log.Info("Created job")
	return nil
}

// Get retrieves a job by ID.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(jobColumns...)
	sb.From("jobs")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var row jobRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("job %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get job")
	}

	return row.toModel(), nil
}

// List retrieves a page of jobs for a tenant, newest first.
func (r *Repository) List(ctx context.Context, tenantID string, state *models.JobState, page, pageSize int) ([]models.Job, int, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("jobs")
	countWhere := []string{countSb.Equal("tenant_id", tenantID)}
	if state != nil {
		countWhere = append(countWhere, countSb.Equal("state", string(*state)))
	}
	countSb.Where(countWhere...)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count jobs")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count jobs")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(jobColumns...)
	sb.From("jobs")
	where := []string{sb.Equal("tenant_id", tenantID)}
	if state != nil {
		where = append(where, sb.Equal("state", string(*state)))
	}
	sb.Where(where...)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list jobs")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list jobs")
	}

	jobs := make([]models.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, *row.toModel())
	}
	return jobs, totalCount, nil
}

// UpdateProgress advances a running job's state and progress. Terminal rows
// are never touched; a zero row count means the job already reached a
// terminal state.
func (r *Repository) UpdateProgress(ctx context.Context, id string, state models.JobState, progress int) error {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.UpdateProgress")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("jobs")
	assignments := []string{
		sb.Assign("state", string(state)),
		sb.Assign("progress", progress),
	}
	if state == models.JobStateFetching {
		assignments = append(assignments, sb.Assign("started_at", time.Now().UTC()))
	}
	sb.Set(assignments...)
	sb.Where(
		sb.Equal("id", id),
		sb.NotIn("state", string(models.JobStateCompleted), string(models.JobStateFailed), string(models.JobStateCancelled)),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update job progress")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update job progress")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("job %s is already terminal", id))
	}
	return nil
}

// Complete marks a job completed and persists its results.
func (r *Repository) Complete(ctx context.Context, job *models.Job) error {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.Complete")
	defer span.End()

	return r.finish(ctx, job.ID, models.JobStateCompleted, "", &jobResults{
		ProviderErrors: job.ProviderErrors,
		ProviderStats:  job.ProviderStats,
		Warnings:       job.Warnings,
		Features:       job.Features,
		Clusters:       job.Clusters,
		Assignments:    job.Assignments,
	})
}

// Fail marks a job failed with a failure reason. Partial results collected
// before the failure are kept for diagnosis.
func (r *Repository) Fail(ctx context.Context, job *models.Job, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.Fail")
	defer span.End()

	return r.finish(ctx, job.ID, models.JobStateFailed, reason, &jobResults{
		ProviderErrors: job.ProviderErrors,
		ProviderStats:  job.ProviderStats,
		Warnings:       job.Warnings,
	})
}

// Cancel moves a job to cancelled if it has not already reached a terminal
// state. Returns false when the job was already terminal.
func (r *Repository) Cancel(ctx context.Context, tenantID, id string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.Cancel")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("jobs")
	sb.Set(
		sb.Assign("state", string(models.JobStateCancelled)),
		sb.Assign("completed_at", time.Now().UTC()),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.NotIn("state", string(models.JobStateCompleted), string(models.JobStateFailed), string(models.JobStateCancelled)),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to cancel job")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to cancel job")
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *Repository) finish(ctx context.Context, id string, state models.JobState, reason string, results *jobResults) error {
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("jobs")
	assignments := []string{
		sb.Assign("state", string(state)),
		sb.Assign("failure_reason", reason),
		sb.Assign("results", database.JSONB[*jobResults]{Data: results}),
		sb.Assign("completed_at", time.Now().UTC()),
	}
	if state == models.JobStateCompleted {
		assignments = append(assignments, sb.Assign("progress", 100))
	}
	sb.Set(assignments...)
	sb.Where(
		sb.Equal("id", id),
		sb.NotIn("state", string(models.JobStateCompleted), string(models.JobStateFailed), string(models.JobStateCancelled)),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to finish job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finish job")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("job %s is already terminal", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": id,
		"state":  string(state),
	}).Info("Job reached terminal state")
	return nil
}
