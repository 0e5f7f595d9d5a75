package jobs

import (
	"context"

	"github.com/lewiskimaru/lasomi-sub001/internal/repositories/artifact"
	"github.com/lewiskimaru/lasomi-sub001/internal/repositories/job"
	"github.com/lewiskimaru/lasomi-sub001/pkg/models"
)

// Store is the persistence surface the manager needs. Backed by the job and
// artifact repositories in production; tests use an in-memory store.
type Store interface {
	CreateJob(ctx context.Context, j *models.Job) error
	GetJob(ctx context.Context, tenantID, id string) (*models.Job, error)
	ListJobs(ctx context.Context, tenantID string, state *models.JobState, page, pageSize int) ([]models.Job, int, error)
	UpdateProgress(ctx context.Context, id string, state models.JobState, progress int) error
	CompleteJob(ctx context.Context, j *models.Job) error
	FailJob(ctx context.Context, j *models.Job, reason string) error
	CancelJob(ctx context.Context, tenantID, id string) (bool, error)
	SaveArtifact(ctx context.Context, a *models.ExportArtifact) error
	GetArtifact(ctx context.Context, tenantID, jobID, format string) (*models.ExportArtifact, error)
	ListArtifactFormats(ctx context.Context, tenantID, jobID string) ([]string, error)
}

// ProfileResolver loads a stored rule profile at submission time.
// Implemented by the ruleprofile repository.
type ProfileResolver interface {
	Get(ctx context.Context, tenantID, id string) (*models.RuleProfile, error)
}

// RepositoryStore backs the manager with postgres.
type RepositoryStore struct {
	jobs      *job.Repository
	artifacts *artifact.Repository
}

// NewRepositoryStore creates a repository-backed store.
func NewRepositoryStore(jobs *job.Repository, artifacts *artifact.Repository) *RepositoryStore {
	return &RepositoryStore{jobs: jobs, artifacts: artifacts}
}

func (s *RepositoryStore) CreateJob(ctx context.Context, j *models.Job) error {
	return s.jobs.Create(ctx, j)
}

func (s *RepositoryStore) GetJob(ctx context.Context, tenantID, id string) (*models.Job, error) {
	return s.jobs.Get(ctx, tenantID, id)
}

func (s *RepositoryStore) ListJobs(ctx context.Context, tenantID string, state *models.JobState, page, pageSize int) ([]models.Job, int, error) {
	return s.jobs.List(ctx, tenantID, state, page, pageSize)
}

func (s *RepositoryStore) UpdateProgress(ctx context.Context, id string, state models.JobState, progress int) error {
	return s.jobs.UpdateProgress(ctx, id, state, progress)
}

func (s *RepositoryStore) CompleteJob(ctx context.Context, j *models.Job) error {
	return s.jobs.Complete(ctx, j)
}

func (s *RepositoryStore) FailJob(ctx context.Context, j *models.Job, reason string) error {
	return s.jobs.Fail(ctx, j, reason)
}

func (s *RepositoryStore) CancelJob(ctx context.Context, tenantID, id string) (bool, error) {
	return s.jobs.Cancel(ctx, tenantID, id)
}

func (s *RepositoryStore) SaveArtifact(ctx context.Context, a *models.ExportArtifact) error {
	return s.artifacts.Save(ctx, a)
}

func (s *RepositoryStore) GetArtifact(ctx context.Context, tenantID, jobID, format string) (*models.ExportArtifact, error) {
	return s.artifacts.Get(ctx, tenantID, jobID, format)
}

func (s *RepositoryStore) ListArtifactFormats(ctx context.Context, tenantID, jobID string) ([]string, error) {
	return s.artifacts.ListFormats(ctx, tenantID, jobID)
}
