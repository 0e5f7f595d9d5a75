package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lewiskimaru/lasomi-sub001/pkg/clustering"
	"github.com/lewiskimaru/lasomi-sub001/pkg/events"
	"github.com/lewiskimaru/lasomi-sub001/pkg/export"
	"github.com/lewiskimaru/lasomi-sub001/pkg/fetch"
	"github.com/lewiskimaru/lasomi-sub001/pkg/geometry"
	"github.com/lewiskimaru/lasomi-sub001/pkg/merging"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
	"github.com/lewiskimaru/lasomi-sub001/pkg/rules"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing"
)

// Fetcher runs the fetch phase. Implemented by fetch.Orchestrator.
type Fetcher interface {
	Fetch(ctx context.Context, aoi models.AreaOfInterest, providers map[string]models.ProviderConfig) (*fetch.Result, error)
}

// Config tunes the job manager.
type Config struct {
	// JobTimeout bounds the whole pipeline for one job.
	JobTimeout time.Duration
	// MaxAOIAreaKM2 rejects oversized AOIs at submission.
	MaxAOIAreaKM2 float64
	// Clustering defaults used when the job has no rule profile.
	DefaultMaxTenantsPerPoint int
	DefaultMaxServiceRadiusM  float64
}

// DefaultConfig returns the standard manager configuration.
func DefaultConfig() Config {
	return Config{
		JobTimeout:                10 * time.Minute,
		MaxAOIAreaKM2:             100,
		DefaultMaxTenantsPerPoint: 16,
		DefaultMaxServiceRadiusM:  150,
	}
}

// Manager owns the job lifecycle: submission, the async pipeline, and
// cancellation. Each accepted job runs its pipeline on its own goroutine; the
// job row in the store is the single source of truth for state.
type Manager struct {
	logger     ectologger.Logger
	store      Store
	profiles   ProfileResolver
	fetcher    Fetcher
	merger     *merging.Engine
	clusterer  *clustering.Engine
	ruleEngine *rules.Engine
	serializer *export.Serializer
	emitter    events.Emitter
	cfg        Config
	validate   *validator.Validate

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a job manager.
func NewManager(
	logger ectologger.Logger,
	store Store,
	profiles ProfileResolver,
	fetcher Fetcher,
	merger *merging.Engine,
	clusterer *clustering.Engine,
	ruleEngine *rules.Engine,
	serializer *export.Serializer,
	emitter events.Emitter,
	cfg Config,
) *Manager {
	return &Manager{
		logger:     logger,
		store:      store,
		profiles:   profiles,
		fetcher:    fetcher,
		merger:     merger,
		clusterer:  clusterer,
		ruleEngine: ruleEngine,
		serializer: serializer,
		emitter:    emitter,
		cfg:        cfg,
		validate:   validator.New(),
		running:    make(map[string]context.CancelFunc),
	}
}

// Submit validates a job request, persists the job in pending state, and
// starts its pipeline. Validation failures return 400 before any job exists.
func (m *Manager) Submit(ctx context.Context, tenantID string, req models.CreateJobRequest) (*models.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "jobs.Manager.Submit")
	defer span.End()

	if err := m.validate.Struct(req); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid job request: %v", err))
	}

	if err := m.validateAOI(req.AOI); err != nil {
		return nil, err
	}

	enabled := 0
	for _, pc := range req.Providers {
		if pc.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "at least one provider must be enabled")
	}

	profile, err := m.resolveProfile(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	filters := models.FeatureFilters{}
	if req.Filters != nil {
		filters = *req.Filters
	}

	job := &models.Job{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		AOI:           req.AOI,
		Providers:     req.Providers,
		Filters:       filters,
		Clustering:    req.Clustering,
		RuleProfileID: req.RuleProfileID,
		RuleProfile:   profile,
		OutputFormats: dedupeFormats(req.OutputFormats),
		State:         models.JobStatePending,
		CreatedAt:     time.Now().UTC(),
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	m.start(job)

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":    job.ID,
		"tenant_id": tenantID,
		"providers": enabled,
		"formats":   job.OutputFormats,
	}).Info("Accepted job")

	return job, nil
}

// Get returns a job's status document.
func (m *Manager) Get(ctx context.Context, tenantID, id string) (*models.JobStatusResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "jobs.Manager.Get")
	defer span.End()

	job, err := m.store.GetJob(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	formats, err := m.store.ListArtifactFormats(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	resp := job.StatusResponse(formats)
	return &resp, nil
}

// List returns a page of job status documents for a tenant.
func (m *Manager) List(ctx context.Context, tenantID string, state *models.JobState, page, pageSize int) (*models.JobListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "jobs.Manager.List")
	defer span.End()

	jobs, total, err := m.store.ListJobs(ctx, tenantID, state, page, pageSize)
	if err != nil {
		return nil, err
	}

	items := make([]models.JobStatusResponse, 0, len(jobs))
	for i := range jobs {
		items = append(items, jobs[i].StatusResponse(nil))
	}

	return &models.JobListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// Cancel stops a running job. Cancelling an already terminal job is a no-op
// that reports the current state.
func (m *Manager) Cancel(ctx context.Context, tenantID, id string) (*models.JobStatusResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "jobs.Manager.Cancel")
	defer span.End()

	changed, err := m.store.CancelJob(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if changed {
		m.mu.Lock()
		if cancel, ok := m.running[id]; ok {
			cancel()
		}
		m.mu.Unlock()

		job, err := m.store.GetJob(ctx, tenantID, id)
		if err == nil {
			if emitErr := m.emitter.EmitJobTerminal(ctx, job, nil); emitErr != nil {
				m.logger.WithContext(ctx).WithError(emitErr).Warn("Failed to emit cancellation event")
			}
		}

		m.logger.WithContext(ctx).WithFields(map[string]any{"job_id": id}).Info("Cancelled job")
	}

	return m.Get(ctx, tenantID, id)
}

// Artifact returns one rendered artifact for download. Artifacts exist only
// for completed jobs.
func (m *Manager) Artifact(ctx context.Context, tenantID, jobID, format string) (*models.ExportArtifact, error) {
	ctx, span := tracing.StartSpan(ctx, "jobs.Manager.Artifact")
	defer span.End()

	return m.store.GetArtifact(ctx, tenantID, jobID, format)
}

// Shutdown waits for running pipelines to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) validateAOI(aoi models.AreaOfInterest) error {
	polygon, ok := aoi.Polygon()
	if !ok {
		return httperror.NewHTTPError(http.StatusBadRequest, "aoi geometry must be a polygon")
	}
	if err := geometry.ValidatePolygon(polygon); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid aoi: %v", err))
	}
	if m.cfg.MaxAOIAreaKM2 > 0 {
		areaKM2 := geometry.AreaM2(polygon) / 1e6
		if areaKM2 > m.cfg.MaxAOIAreaKM2 {
			return httperror.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("aoi area %.1f km2 exceeds the %.1f km2 limit", areaKM2, m.cfg.MaxAOIAreaKM2))
		}
	}
	return nil
}

func (m *Manager) resolveProfile(ctx context.Context, tenantID string, req models.CreateJobRequest) (*models.RuleProfile, error) {
	var profile *models.RuleProfile

	switch {
	case req.RuleProfile != nil:
		profile = req.RuleProfile
	case req.RuleProfileID != nil:
		stored, err := m.profiles.Get(ctx, tenantID, *req.RuleProfileID)
		if err != nil {
			return nil, err
		}
		profile = stored
	default:
		return nil, nil
	}

	if err := m.ruleEngine.ValidateProfile(profile); err != nil {
		if errors.Is(err, rules.ErrMalformedRuleProfile) {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return nil, err
	}
	return profile, nil
}

func (m *Manager) start(job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.JobTimeout)

	m.mu.Lock()
	m.running[job.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer func() {
			m.mu.Lock()
			delete(m.running, job.ID)
			m.mu.Unlock()
		}()
		m.run(ctx, job)
	}()
}

func dedupeFormats(formats []string) []string {
	seen := make(map[string]bool, len(formats))
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
