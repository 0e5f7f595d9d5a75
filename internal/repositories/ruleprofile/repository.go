package ruleprofile

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/lewiskimaru/lasomi-sub001/pkg/database"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing"
)

type profileRow struct {
	ID                 string                                `db:"id"`
	TenantID           string                                `db:"tenant_id"`
	Name               string                                `db:"name"`
	MaxTenantsPerPoint int                                   `db:"max_tenants_per_point"`
	MaxServiceRadiusM  float64                               `db:"max_service_radius_m"`
	AttachmentPoint    database.JSONB[*models.GeoPoint]      `db:"attachment_point"`
	Rules              database.JSONB[[]models.Rule]         `db:"rules"`
	CreatedAt          time.Time                             `db:"created_at"`
	UpdatedAt          time.Time                             `db:"updated_at"`
	DeletedAt          *time.Time                            `db:"deleted_at"`
}

var profileColumns = []string{
	"id", "tenant_id", "name", "max_tenants_per_point", "max_service_radius_m",
	"attachment_point", "rules", "created_at", "updated_at", "deleted_at",
}

func (r profileRow) toModel() *models.RuleProfile {
	return &models.RuleProfile{
		ID:                 r.ID,
		TenantID:           r.TenantID,
		Name:               r.Name,
		MaxTenantsPerPoint: r.MaxTenantsPerPoint,
		MaxServiceRadiusM:  r.MaxServiceRadiusM,
		AttachmentPoint:    r.AttachmentPoint.Data,
		Rules:              r.Rules.Data,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		DeletedAt:          r.DeletedAt,
	}
}

// Repository handles rule profile persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new rule profile repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new rule profile
func (r *Repository) Create(ctx context.Context, tenantID string, req models.CreateRuleProfileRequest) (*models.RuleProfile, error) {
	ctx, span := tracing.StartSpan(ctx, "ruleprofile.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":    "Create",
		"tenant_id": tenantID,
		"name":      req.Name,
	})

	now := time.Now().UTC()
	profile := &models.RuleProfile{
		ID:                 uuid.New().String(),
		TenantID:           tenantID,
		Name:               req.Name,
		MaxTenantsPerPoint: req.MaxTenantsPerPoint,
		MaxServiceRadiusM:  req.MaxServiceRadiusM,
		AttachmentPoint:    req.AttachmentPoint,
		Rules:              req.Rules,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("rule_profiles")
	sb.Cols("id", "tenant_id", "name", "max_tenants_per_point", "max_service_radius_m", "attachment_point", "rules", "created_at", "updated_at")
	sb.Values(
		profile.ID, profile.TenantID, profile.Name, profile.MaxTenantsPerPoint, profile.MaxServiceRadiusM,
		database.JSONB[*models.GeoPoint]{Data: profile.AttachmentPoint},
		database.JSONB[[]models.Rule]{Data: profile.Rules},
		profile.CreatedAt, profile.UpdatedAt,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create rule profile")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create rule profile")
	}

	log.WithFields(map[string]any{"id": profile.ID}).Info("Created rule profile")
	return profile, nil
}

// Get retrieves a rule profile by ID
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.RuleProfile, error) {
	ctx, span := tracing.StartSpan(ctx, "ruleprofile.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(profileColumns...)
	sb.From("rule_profiles")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var row profileRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("rule profile %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get rule profile")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get rule profile")
	}

	return row.toModel(), nil
}

// List retrieves a page of rule profiles for a tenant
func (r *Repository) List(ctx context.Context, tenantID string, page, pageSize int) ([]models.RuleProfile, int, error) {
	ctx, span := tracing.StartSpan(ctx, "ruleprofile.Repository.List")
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
	countSb.From("rule_profiles")
	countSb.Where(
		countSb.Equal("tenant_id", tenantID),
		countSb.IsNull("deleted_at"),
	)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count rule profiles")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count rule profiles")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(profileColumns...)
	sb.From("rule_profiles")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var rows []profileRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list rule profiles")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list rule profiles")
	}

	profiles := make([]models.RuleProfile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, *row.toModel())
	}
	return profiles, totalCount, nil
}

// Update replaces a rule profile's mutable fields
func (r *Repository) Update(ctx context.Context, tenantID, id string, req models.CreateRuleProfileRequest) (*models.RuleProfile, error) {
	ctx, span := tracing.StartSpan(ctx, "ruleprofile.Repository.Update")
	defer span.End()

	existing, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	existing.Name = req.Name
	existing.MaxTenantsPerPoint = req.MaxTenantsPerPoint
	existing.MaxServiceRadiusM = req.MaxServiceRadiusM
	existing.AttachmentPoint = req.AttachmentPoint
	existing.Rules = req.Rules
	existing.UpdatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("rule_profiles")
	sb.Set(
		sb.Assign("name", existing.Name),
		sb.Assign("max_tenants_per_point", existing.MaxTenantsPerPoint),
		sb.Assign("max_service_radius_m", existing.MaxServiceRadiusM),
		sb.Assign("attachment_point", database.JSONB[*models.GeoPoint]{Data: existing.AttachmentPoint}),
		sb.Assign("rules", database.JSONB[[]models.Rule]{Data: existing.Rules}),
		sb.Assign("updated_at", existing.UpdatedAt),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update rule profile")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update rule profile")
	}

	return existing, nil
}

// Delete soft deletes a rule profile
func (r *Repository) Delete(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "ruleprofile.Repository.Delete")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("rule_profiles")
	sb.Set(sb.Assign("deleted_at", now))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete rule profile")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete rule profile")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("rule profile %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Deleted rule profile")
	return nil
}
