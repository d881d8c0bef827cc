package service

import (
	"context"
	"log/slog"

	"github.com/panjf2000/ants/v2"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// WorkerPoolRunnerService implements the RunnerService interface by running
// jobs on a bounded ants pool. The pool caps how many recon cycles execute
// concurrently; callers block until their own job finishes.
type WorkerPoolRunnerService struct {
	baseService RunnerService
	pool        *ants.Pool
	logger      *slog.Logger
}

type WorkerPoolConfig struct {
	Size int
}

func NewWorkerPoolRunnerService(
	baseService RunnerService,
	config WorkerPoolConfig,
	logger *slog.Logger,
) (*WorkerPoolRunnerService, error) {
	pool, err := ants.NewPool(config.Size)
	if err != nil {
		return nil, err
	}

	return &WorkerPoolRunnerService{
		baseService: baseService,
		pool:        pool,
		logger:      logger,
	}, nil
}

// RunJob submits a run request to the worker pool and waits for the outcome.
func (s *WorkerPoolRunnerService) RunJob(ctx context.Context, request *shared.RunRequest) error {
	logger := s.logger
	if request.CorrelationID != "" {
		logger = s.logger.With("correlation_id", request.CorrelationID)
	}

	logger.Info("Submitting recon job to worker pool",
		"job_id", request.JobID.String(),
		"cycle_date", request.CycleDate,
	)

	// The request is copied so the pool goroutine never shares it with
	// the caller's message buffer.
	requestCopy := *request
	resultChan := make(chan error, 1)

	if err := s.pool.Submit(func() {
		resultChan <- s.baseService.RunJob(ctx, &requestCopy)
	}); err != nil {
		logger.Error("Failed to submit recon job to worker pool",
			"job_id", request.JobID.String(),
			"error", err,
		)
		return err
	}

	return <-resultChan
}

// Shutdown gracefully shuts down the worker pool.
func (s *WorkerPoolRunnerService) Shutdown() {
	s.logger.Info("Shutting down worker pool", "running_workers", s.pool.Running())
	s.pool.Release()
}

// Running returns the number of running workers in the pool.
func (s *WorkerPoolRunnerService) Running() int {
	return s.pool.Running()
}

// Capacity returns the capacity of the worker pool.
func (s *WorkerPoolRunnerService) Capacity() int {
	return s.pool.Cap()
}
