package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/phenoscope-backend/internal/apperr"
	"github.com/yungbote/phenoscope-backend/internal/cache"
	"github.com/yungbote/phenoscope-backend/internal/cohort"
	"github.com/yungbote/phenoscope-backend/internal/engine"
	"github.com/yungbote/phenoscope-backend/internal/expr"
	"github.com/yungbote/phenoscope-backend/internal/jobs"
	"github.com/yungbote/phenoscope-backend/internal/logger"
	"github.com/yungbote/phenoscope-backend/internal/repos"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

// AssocService fronts the whole association pipeline: it validates
// submissions synchronously, owns the job coordinator, and serves cohort
// metadata.
type AssocService interface {
	Submit(ctx context.Context, cohortID, definition string) (*types.AssocJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (*types.AssocJob, error)
	CancelJob(ctx context.Context, id uuid.UUID) (*types.AssocJob, error)
	ListCohorts(ctx context.Context) ([]string, error)
	CohortFields(ctx context.Context, cohortID string) ([]types.FieldSummary, error)
	Start(ctx context.Context, concurrency int)
	QueueDepth() int
	CacheStats() cache.Stats
}

type assocService struct {
	log     *logger.Logger
	store   *cohort.Store
	engine  *engine.Engine
	results *cache.ResultCache
	repo    repos.AssocJobRepo
	coord   *jobs.Coordinator
}

func NewAssocService(
	baseLog *logger.Logger,
	store *cohort.Store,
	eng *engine.Engine,
	results *cache.ResultCache,
	repo repos.AssocJobRepo,
	notify jobs.Notifier,
	queueCapacity int,
	deadline time.Duration,
) AssocService {
	s := &assocService{
		log:     baseLog.With("service", "AssocService"),
		store:   store,
		engine:  eng,
		results: results,
		repo:    repo,
	}
	s.coord = jobs.NewCoordinator(baseLog, repo, notify, s.runJob, queueCapacity, deadline)
	return s
}

func (s *assocService) Start(ctx context.Context, concurrency int) {
	s.coord.Start(ctx, concurrency)
}

func (s *assocService) QueueDepth() int { return s.coord.QueueDepth() }

func (s *assocService) CacheStats() cache.Stats { return s.results.Stats() }

// Submit validates a definition against the cohort schema before any job row
// exists. Parse errors, unknown fields and type mismatches are returned to
// the caller directly; only definitions that compile are queued.
func (s *assocService) Submit(ctx context.Context, cohortID, definition string) (*types.AssocJob, error) {
	ref, err := s.store.Load(ctx, cohortID)
	if err != nil {
		return nil, err
	}
	def, err := expr.Compile(definition, ref)
	if err != nil {
		return nil, err
	}
	fingerprint := expr.Fingerprint(cohortID, def.Root)

	job := &types.AssocJob{
		ID:          uuid.New(),
		CohortID:    cohortID,
		Definition:  definition,
		Fingerprint: fingerprint,
		Status:      types.JobStatusQueued,
		Stage:       "queued",
	}
	if _, err := s.repo.Create(ctx, nil, job); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageError, err)
	}

	if err := s.coord.Enqueue(job); err != nil {
		// The row already exists; retire it so it does not read as stuck.
		now := time.Now()
		_ = s.repo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
			"status":      types.JobStatusFailed,
			"error":       err.Error(),
			"error_kind":  string(apperr.KindOf(err)),
			"finished_at": now,
		})
		return nil, err
	}

	s.log.Info("Job submitted",
		"job_id", job.ID,
		"cohort_id", cohortID,
		"fingerprint", fingerprint,
	)
	return job, nil
}

func (s *assocService) GetJob(ctx context.Context, id uuid.UUID) (*types.AssocJob, error) {
	job, err := s.repo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageError, err)
	}
	if job == nil {
		return nil, jobs.ErrJobNotFound
	}
	return job, nil
}

func (s *assocService) CancelJob(ctx context.Context, id uuid.UUID) (*types.AssocJob, error) {
	return s.coord.Cancel(ctx, id)
}

func (s *assocService) ListCohorts(ctx context.Context) ([]string, error) {
	return s.store.ListCohorts(ctx)
}

func (s *assocService) CohortFields(ctx context.Context, cohortID string) ([]types.FieldSummary, error) {
	ref, err := s.store.Load(ctx, cohortID)
	if err != nil {
		return nil, err
	}
	return ref.FieldSummaries(), nil
}

// runJob is the worker-side pipeline. The result cache is consulted first;
// cohort loading and phenotype evaluation happen inside the compute
// callback, so a cached fingerprint (or one already in flight) never pays
// the evaluation cost again.
func (s *assocService) runJob(ex *jobs.Execution) error {
	job := ex.Job

	result, err := s.results.GetOrCompute(ex.Ctx, job.Fingerprint, func(ctx context.Context) (*types.ApproximationResult, error) {
		ex.Progress("loading_cohort", 10)
		ref, err := s.store.Load(ctx, job.CohortID)
		if err != nil {
			return nil, err
		}

		ex.Progress("evaluating", 30)
		def, err := expr.Compile(job.Definition, ref)
		if err != nil {
			return nil, err
		}
		phen, err := expr.Evaluate(def, ref)
		if err != nil {
			return nil, err
		}

		ex.Progress("computing", 60)
		return s.engine.Compute(ctx, ref, phen, job.Fingerprint)
	})
	if err != nil {
		ex.Fail("computing", err)
		return nil
	}

	ex.Succeed(result)
	return nil
}
