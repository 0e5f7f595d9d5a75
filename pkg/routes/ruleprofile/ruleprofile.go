package ruleprofile

import (
	stdcontext "context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	ruleprofilerepo "github.com/lewiskimaru/lasomi-sub001/internal/repositories/ruleprofile"
	"github.com/lewiskimaru/lasomi-sub001/pkg/context"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
	"github.com/lewiskimaru/lasomi-sub001/pkg/rules"
)

// Register registers rule profile routes
func Register(g *echo.Group) {
	g.GET("", ListRuleProfiles)
	g.GET("/:id", GetRuleProfile)
	g.POST("", CreateRuleProfile)
	g.PUT("/:id", UpdateRuleProfile)
	g.DELETE("/:id", DeleteRuleProfile)
}

// ListRuleProfiles lists rule profiles for a tenant
func ListRuleProfiles(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, repo, err := ectoinject.GetContext[*ruleprofilerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	profiles, total, err := repo.List(ctx, tenantID, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"items":       profiles,
		"total_count": total,
	})
}

// GetRuleProfile gets a rule profile by ID
func GetRuleProfile(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*ruleprofilerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	profile, err := repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, profile)
}

// CreateRuleProfile creates a new rule profile
func CreateRuleProfile(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var req models.CreateRuleProfileRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validateProfileRequest(ctx, req); err != nil {
		return err
	}

	ctx, repo, err := ectoinject.GetContext[*ruleprofilerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	created, err := repo.Create(ctx, tenantID, req)
	if err != nil {
		return err
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{"id": created.ID}).Info("Created rule profile")
	}

	return c.JSON(http.StatusCreated, created)
}

// UpdateRuleProfile replaces a rule profile's mutable fields
func UpdateRuleProfile(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	var req models.CreateRuleProfileRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validateProfileRequest(ctx, req); err != nil {
		return err
	}

	ctx, repo, err := ectoinject.GetContext[*ruleprofilerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	updated, err := repo.Update(ctx, tenantID, id, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, updated)
}

// DeleteRuleProfile soft deletes a rule profile
func DeleteRuleProfile(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*ruleprofilerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := repo.Delete(ctx, tenantID, id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// validateProfileRequest rejects profiles whose rule expressions would never
// evaluate, before they reach storage.
func validateProfileRequest(ctx stdcontext.Context, req models.CreateRuleProfileRequest) error {
	if req.Name == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.MaxTenantsPerPoint < 1 {
		return httperror.NewHTTPError(http.StatusBadRequest, "max_tenants_per_point must be at least 1")
	}
	if req.MaxServiceRadiusM <= 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "max_service_radius_m must be positive")
	}

	_, engine, err := ectoinject.GetContext[*rules.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	profile := &models.RuleProfile{
		Name:               req.Name,
		MaxTenantsPerPoint: req.MaxTenantsPerPoint,
		MaxServiceRadiusM:  req.MaxServiceRadiusM,
		AttachmentPoint:    req.AttachmentPoint,
		Rules:              req.Rules,
	}
	if err := engine.ValidateProfile(profile); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
