package job

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/lewiskimaru/lasomi-sub001/pkg/context"
	"github.com/lewiskimaru/lasomi-sub001/pkg/jobs"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

// Register registers aggregation job routes
func Register(g *echo.Group) {
	g.POST("", SubmitJob)
	g.GET("", ListJobs)
	g.GET("/:id", GetJob)
	g.POST("/:id/cancel", CancelJob)
	g.GET("/:id/artifacts/:format", GetArtifact)
}

// SubmitJob accepts an aggregation job and starts its pipeline
func SubmitJob(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var req models.CreateJobRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, manager, err := ectoinject.GetContext[*jobs.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	created, err := manager.Submit(ctx, tenantID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, created.StatusResponse(nil))
}

// GetJob returns a job's status document
func GetJob(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	ctx, manager, err := ectoinject.GetContext[*jobs.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	status, err := manager.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, status)
}

// ListJobs lists jobs for a tenant, optionally filtered by state
func ListJobs(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var state *models.JobState
	if s := c.QueryParam("state"); s != "" {
		js := models.JobState(s)
		state = &js
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, manager, err := ectoinject.GetContext[*jobs.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	resp, err := manager.List(ctx, tenantID, state, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// CancelJob cancels a running job. Cancelling a terminal job is a no-op.
func CancelJob(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	ctx, manager, err := ectoinject.GetContext[*jobs.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	status, err := manager.Cancel(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, status)
}

// GetArtifact downloads one rendered export for a completed job
func GetArtifact(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")
	format := c.Param("format")

	ctx, manager, err := ectoinject.GetContext[*jobs.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	artifact, err := manager.Artifact(ctx, tenantID, id, format)
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s.%s"`, artifact.JobID, artifact.Format))
	return c.Blob(http.StatusOK, artifact.ContentType, artifact.Content)
}
