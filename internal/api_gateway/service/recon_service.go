package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/domain/job"
	"github.com/settleline-recon-engine/internal/domain/recon"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/platform/messaging/producers"
)

// ReconServiceImpl implements the ReconService interface
type ReconServiceImpl struct {
	jobRepo    job.Repository
	resultRepo recon.Repository
	producer   producers.MessagePublisher
	logger     *slog.Logger
}

// NewReconService creates a new recon service
func NewReconService(logger *slog.Logger, jobRepo job.Repository, resultRepo recon.Repository, producer producers.MessagePublisher) ReconService {
	return &ReconServiceImpl{
		jobRepo:    jobRepo,
		resultRepo: resultRepo,
		producer:   producer,
		logger:     logger,
	}
}

// TriggerRun creates and enqueues a recon job, reusing an existing active
// job for the same non-dry-run scope instead of double-running a cycle
func (s *ReconServiceImpl) TriggerRun(ctx context.Context, params TriggerRunParams) (*job.ReconJob, bool, error) {
	if !params.DryRun {
		existing, err := s.jobRepo.FindActive(ctx, params.CycleDate, params.MerchantID, params.AcquirerID)
		if err != nil {
			s.logger.Error("Failed to check for existing job",
				"cycle_date", params.CycleDate,
				"merchant_id", params.MerchantID,
				"acquirer_id", params.AcquirerID,
				"error", err,
			)
			return nil, false, err
		}
		if existing != nil {
			s.logger.Info("Found existing active job for scope",
				"job_id", existing.ID.String(),
				"cycle_date", params.CycleDate,
				"status", string(existing.Status),
			)
			return existing, false, nil
		}
	}

	sourceType := job.SourceTypeManual
	j := job.NewJob(params.CycleDate, params.MerchantID, params.AcquirerID, sourceType, !params.DryRun)
	if err := s.jobRepo.Create(ctx, j); err != nil {
		s.logger.Error("Failed to create job", "cycle_date", params.CycleDate, "error", err)
		return nil, false, err
	}

	request := &shared.RunRequest{
		JobID:         j.ID,
		CycleDate:     params.CycleDate,
		MerchantID:    params.MerchantID,
		AcquirerID:    params.AcquirerID,
		DryRun:        params.DryRun,
		Limit:         params.Limit,
		CorrelationID: params.CorrelationID,
		RequestedAt:   time.Now().UTC(),
	}
	if err := s.producer.Publish(ctx, j.ID.String(), request); err != nil {
		s.logger.Error("Failed to publish run request",
			"job_id", j.ID.String(),
			"cycle_date", params.CycleDate,
			"error", err,
		)
		// The job row exists but no worker will ever pick it up; fail it
		// so the scope is not blocked by a phantom active job
		if failErr := j.Fail(shared.JobErrorInternal, "run request could not be enqueued", "re-trigger the run"); failErr == nil {
			if updErr := s.jobRepo.UpdateStatus(ctx, j); updErr != nil {
				s.logger.Error("Failed to mark unenqueued job as failed", "job_id", j.ID.String(), "error", updErr)
			}
		}
		return nil, false, err
	}

	s.logger.Info("Run request published",
		"job_id", j.ID.String(),
		"cycle_date", params.CycleDate,
		"dry_run", params.DryRun,
	)
	return j, true, nil
}

// GetJob retrieves a job by its ID
func (s *ReconServiceImpl) GetJob(ctx context.Context, id uuid.UUID) (*job.ReconJob, error) {
	return s.jobRepo.GetByID(ctx, id)
}

// GetSummary aggregates stored results and cross-checks the job's counters
func (s *ReconServiceImpl) GetSummary(ctx context.Context, jobID uuid.UUID) (recon.Summary, error) {
	j, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return recon.Summary{}, err
	}

	counts, err := s.resultRepo.CountByStatus(ctx, jobID)
	if err != nil {
		return recon.Summary{}, fmt.Errorf("aggregating results: %w", err)
	}
	summary := recon.BuildSummary(counts)

	// A completed job must account for every stored result; drift is a
	// defect worth surfacing, never silently corrected
	if j.Status == shared.JobStatusCompleted && j.Counters.ResultTotal() != summary.Totals.Count {
		violation := recon.InvariantViolationError{
			Expected: j.Counters.ResultTotal(),
			Actual:   summary.Totals.Count,
		}
		s.logger.Error("Job summary invariant violated",
			"job_id", jobID.String(),
			"counter_total", violation.Expected,
			"aggregated_total", violation.Actual,
		)
		return summary, violation
	}
	return summary, nil
}

// ListResults returns one keyset page of a job's classified results
func (s *ReconServiceImpl) ListResults(ctx context.Context, jobID uuid.UUID, filter recon.ResultFilter) (ResultPage, error) {
	if _, err := s.jobRepo.GetByID(ctx, jobID); err != nil {
		return ResultPage{}, err
	}
	results, hasMore, err := s.resultRepo.ListByJob(ctx, jobID, filter)
	if err != nil {
		return ResultPage{}, err
	}
	return ResultPage{Results: results, HasMore: hasMore}, nil
}
