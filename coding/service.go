package coding

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/zap"

	"github.com/assessly/codermill/cache"
	"github.com/assessly/codermill/errors"
)

// DistributionResult is the outcome of a distribution run: the plan per
// item plus any created jobs (empty for dry runs).
type DistributionResult struct {
	Plan *AllocationPlan `json:"plan"`
	Jobs []CodingJob     `json:"jobs,omitempty"`
}

// Service exposes the distribution operations: dry-run calculation and
// actual coding-job creation.
type Service struct {
	store        *Store
	materializer *Materializer
	logger       *zap.SugaredLogger

	mu                  sync.RWMutex
	defaultMatchingMode string
}

// NewService creates a distribution service. defaultMatchingMode is used
// for workspaces without a persisted matching setting.
func NewService(db *sql.DB, c *cache.Cache, logger *zap.SugaredLogger, defaultMatchingMode string) *Service {
	return &Service{
		store:               NewStore(db),
		materializer:        NewMaterializer(db, c),
		logger:              logger,
		defaultMatchingMode: defaultMatchingMode,
	}
}

// Store returns the underlying coding store.
func (s *Service) Store() *Store {
	return s.store
}

// SetDefaultMatchingMode updates the fallback matching mode, e.g. after
// a config reload.
func (s *Service) SetDefaultMatchingMode(mode string) {
	s.mu.Lock()
	s.defaultMatchingMode = mode
	s.mu.Unlock()
}

// CalculateDistribution computes an allocation plan without writing
// anything: the dry-run preview an operator sees before committing.
func (s *Service) CalculateDistribution(ctx context.Context, workspaceID int64, req DistributionRequest) (*DistributionResult, error) {
	plan, _, err := s.plan(ctx, workspaceID, req)
	if err != nil {
		return nil, err
	}
	return &DistributionResult{Plan: plan}, nil
}

// CreateDistributedCodingJobs computes the allocation plan and
// materializes it into persisted coding jobs and units, all inside a
// single transaction.
func (s *Service) CreateDistributedCodingJobs(ctx context.Context, workspaceID int64, req DistributionRequest) (*DistributionResult, error) {
	plan, coders, err := s.plan(ctx, workspaceID, req)
	if err != nil {
		return nil, err
	}

	jobs, err := s.materializer.Materialize(ctx, workspaceID, plan, coders, req)
	if err != nil {
		return nil, err
	}

	s.logger.Infow("Created distributed coding jobs",
		"workspace_id", workspaceID,
		"jobs", len(jobs),
		"assigned_cases", plan.AssignedCases,
		"warnings", len(plan.Warnings))

	return &DistributionResult{Plan: plan, Jobs: jobs}, nil
}

// ListCodingJobs returns the workspace's coding jobs, newest first.
func (s *Service) ListCodingJobs(ctx context.Context, workspaceID int64) ([]*CodingJob, error) {
	return s.store.ListCodingJobs(ctx, workspaceID)
}

// SaveUnitProgress records a coder's save action on one unit, then
// recomputes the owning job's progress and advances its status:
// completed once every unit is closed, open otherwise.
func (s *Service) SaveUnitProgress(ctx context.Context, jobID string, responseID int64, code, score *int, isOpen bool, notes string) (CodingJobStatus, error) {
	if err := s.store.SaveUnitProgress(ctx, jobID, responseID, code, score, isOpen, notes); err != nil {
		return "", err
	}

	status, err := s.store.UpdateJobStatusFromProgress(ctx, jobID)
	if err != nil {
		return "", err
	}

	s.logger.Infow("Saved coding unit progress",
		"coding_job_id", jobID,
		"response_id", responseID,
		"status", status)
	return status, nil
}

// DeleteCodingJob removes a coding job and its units.
func (s *Service) DeleteCodingJob(ctx context.Context, jobID string) error {
	if err := s.store.DeleteCodingJob(ctx, jobID); err != nil {
		return err
	}
	s.logger.Infow("Deleted coding job", "coding_job_id", jobID)
	return nil
}

// plan fetches responses and prior assignments for every item and runs
// the allocator.
func (s *Service) plan(ctx context.Context, workspaceID int64, req DistributionRequest) (*AllocationPlan, []Coder, error) {
	if len(req.CoderIDs) == 0 {
		return nil, nil, errors.NewInvalidRequestError("distribution requires at least one coder")
	}

	coders, err := s.store.FindCodersByIDs(ctx, workspaceID, req.CoderIDs)
	if err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	fallback := s.defaultMatchingMode
	s.mu.RUnlock()

	mode, err := s.store.GetResponseMatchingMode(ctx, workspaceID, fallback)
	if err != nil {
		return nil, nil, err
	}

	assigned, err := s.store.AssignedResponseIDs(ctx, workspaceID)
	if err != nil {
		return nil, nil, err
	}

	items := req.Items()
	itemResponses := make([]ItemResponses, len(items))
	for i, item := range items {
		responses, err := s.store.FindResponsesForVariables(ctx, workspaceID, item.Variables)
		if err != nil {
			return nil, nil, err
		}

		// Responses already handed to a coder are not distributed again;
		// the cases they covered surface as a partial re-use warning
		var available, prior []ResponseRecord
		for _, r := range responses {
			if assigned[r.ID] {
				prior = append(prior, r)
			} else {
				available = append(available, r)
			}
		}
		itemResponses[i] = ItemResponses{
			Responses:          available,
			PriorAssignedCases: len(Aggregate(prior, mode)),
		}
	}

	plan, err := Allocate(req, coders, itemResponses, mode)
	if err != nil {
		return nil, nil, err
	}
	return plan, coders, nil
}
