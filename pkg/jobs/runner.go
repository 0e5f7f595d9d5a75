package jobs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/lewiskimaru/lasomi-sub001/pkg/clustering"
	"github.com/lewiskimaru/lasomi-sub001/pkg/export"
	"github.com/lewiskimaru/lasomi-sub001/pkg/fetch"
	"github.com/lewiskimaru/lasomi-sub001/pkg/metrics"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
	"github.com/lewiskimaru/lasomi-sub001/pkg/tracing"
)

// Progress checkpoints reported as each stage begins.
const (
	progressFetching   = 10
	progressMerging    = 40
	progressClustering = 60
	progressExporting  = 80
)

// errPipelineStopped signals that the job row refused a state update, which
// means the job was cancelled (or otherwise finished) out from under the
// runner.
var errPipelineStopped = errors.New("pipeline stopped")

func (m *Manager) run(ctx context.Context, job *models.Job) {
	ctx, span := tracing.StartSpan(ctx, "jobs.Manager.run")
	defer span.End()

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	log := m.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":    job.ID,
		"tenant_id": job.TenantID,
	})

	err := m.pipeline(ctx, job)
	if err == nil {
		metrics.RecordJobTerminal(job.TenantID, string(models.JobStateCompleted), "")
		return
	}

	// Cancellation can surface in several shapes: a ctx error from a stage,
	// errPipelineStopped from a refused row update, or a provider error that
	// swallowed the ctx error (a drained fetch reports ErrNoData). The
	// pipeline ctx is authoritative: Cancel already finished the row and
	// emitted the event, so the runner stays silent.
	if errors.Is(err, errPipelineStopped) || errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		metrics.RecordJobTerminal(job.TenantID, string(models.JobStateCancelled), "")
		log.Info("Job pipeline stopped")
		return
	}

	// the deadline check must precede ErrNoData: a job deadline mid-fetch
	// also drains every provider
	reason := models.FailureInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = models.FailureDeadlineExceeded
	case errors.Is(err, fetch.ErrNoData):
		reason = models.FailureNoDataAvailable
	}

	// the pipeline ctx may already be dead; terminal writes get their own
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	job.State = models.JobStateFailed
	job.FailureReason = reason
	if failErr := m.store.FailJob(persistCtx, job, reason); failErr != nil {
		if httperror.IsHTTPError(failErr) && httperror.GetStatusCode(failErr) == http.StatusConflict {
			// lost the race to Cancel; whoever finished the row owns the event
			metrics.RecordJobTerminal(job.TenantID, string(models.JobStateCancelled), "")
			log.Info("Job pipeline stopped")
			return
		}
		log.WithError(failErr).Error("Failed to persist job failure")
	}
	if emitErr := m.emitter.EmitJobTerminal(persistCtx, job, nil); emitErr != nil {
		log.WithError(emitErr).Warn("Failed to emit failure event")
	}

	metrics.RecordJobTerminal(job.TenantID, string(models.JobStateFailed), reason)
	log.WithError(err).WithFields(map[string]any{"reason": reason}).Warn("Job failed")
}

func (m *Manager) pipeline(ctx context.Context, job *models.Job) error {
	// fetch
	if err := m.setState(ctx, job, models.JobStateFetching, progressFetching); err != nil {
		return err
	}

	fetchStart := time.Now()
	fetchResult, err := m.fetcher.Fetch(ctx, job.AOI, job.Providers)
	metrics.RecordStage("fetch", time.Since(fetchStart).Seconds())

	if fetchResult != nil {
		job.ProviderErrors = fetchResult.Errors
		job.ProviderStats = fetchResult.Stats
		for _, stat := range fetchResult.Stats {
			outcome := "ok"
			if stat.Partial {
				outcome = "partial"
			} else if stat.FeatureCount == 0 {
				outcome = "empty"
			}
			metrics.RecordProviderFetch(stat.Provider, outcome, stat.FeatureCount)
		}
	}
	if err != nil {
		return err
	}

	// merge
	if err := m.setState(ctx, job, models.JobStateMerging, progressMerging); err != nil {
		return err
	}

	mergeStart := time.Now()
	priorities := make(map[string]int, len(job.Providers))
	for name, pc := range job.Providers {
		if pc.Enabled {
			priorities[name] = pc.Priority
		}
	}
	mergeResult := m.merger.Merge(ctx, fetchResult.Features, priorities, job.Filters)
	metrics.RecordStage("merge", time.Since(mergeStart).Seconds())

	job.Features = mergeResult.Features
	job.Warnings = append(job.Warnings, mergeResult.Warnings...)

	if err := ctx.Err(); err != nil {
		return err
	}

	// cluster
	if job.Clustering {
		if err := m.setState(ctx, job, models.JobStateClustering, progressClustering); err != nil {
			return err
		}

		clusterStart := time.Now()
		job.Clusters = m.clusterer.Cluster(ctx, job.Features, m.clusterParams(job))
		metrics.RecordStage("cluster", time.Since(clusterStart).Seconds())
	}

	// rules
	if job.RuleProfile != nil && len(job.RuleProfile.Rules) > 0 {
		rulesStart := time.Now()
		job.Assignments = m.ruleEngine.Evaluate(ctx, job.RuleProfile, job.Features, job.Clusters)
		metrics.RecordStage("rules", time.Since(rulesStart).Seconds())
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// export
	if err := m.setState(ctx, job, models.JobStateExporting, progressExporting); err != nil {
		return err
	}

	exportStart := time.Now()
	snapshot := &export.Snapshot{
		Features:    job.Features,
		Clusters:    job.Clusters,
		Assignments: job.Assignments,
	}
	rendered, err := m.serializer.Export(ctx, snapshot, job.OutputFormats)
	if err != nil {
		return err
	}
	metrics.RecordStage("export", time.Since(exportStart).Seconds())

	formats := make([]string, 0, len(rendered))
	for _, r := range rendered {
		if err := m.store.SaveArtifact(ctx, &models.ExportArtifact{
			JobID:       job.ID,
			TenantID:    job.TenantID,
			Format:      r.Format,
			ContentType: r.ContentType,
			SizeBytes:   len(r.Content),
			Content:     r.Content,
		}); err != nil {
			return err
		}
		metrics.RecordExport(r.Format, len(r.Content))
		formats = append(formats, r.Format)
	}

	// terminal
	job.State = models.JobStateCompleted
	job.Progress = 100
	if err := m.store.CompleteJob(ctx, job); err != nil {
		return errPipelineStopped
	}
	if err := m.emitter.EmitJobTerminal(ctx, job, formats); err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("Failed to emit completion event")
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":   job.ID,
		"features": len(job.Features),
		"clusters": len(job.Clusters),
		"formats":  formats,
	}).Info("Job completed")

	return nil
}

func (m *Manager) clusterParams(job *models.Job) clustering.Params {
	params := clustering.Params{
		MaxTenantsPerPoint: m.cfg.DefaultMaxTenantsPerPoint,
		MaxServiceRadiusM:  m.cfg.DefaultMaxServiceRadiusM,
	}
	if p := job.RuleProfile; p != nil {
		if p.MaxTenantsPerPoint > 0 {
			params.MaxTenantsPerPoint = p.MaxTenantsPerPoint
		}
		if p.MaxServiceRadiusM > 0 {
			params.MaxServiceRadiusM = p.MaxServiceRadiusM
		}
		params.AttachmentPoint = p.AttachmentPoint
	}
	return params
}

// setState advances the job row and mirrors the transition onto the local
// copy. A refused update means the job went terminal elsewhere.
func (m *Manager) setState(ctx context.Context, job *models.Job, state models.JobState, progress int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.store.UpdateProgress(ctx, job.ID, state, progress); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errPipelineStopped
	}
	job.State = state
	job.Progress = progress
	if state == models.JobStateFetching {
		now := time.Now().UTC()
		job.StartedAt = &now
	}
	return nil
}
