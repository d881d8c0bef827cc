// Package postgres provides PostgreSQL implementations of the domain repositories.
// It handles all database operations while maintaining transaction safety and
// proper error handling for the reconciliation engine.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/settleline-recon-engine/internal/domain/job"
	"github.com/settleline-recon-engine/internal/platform/persistence"
)

// JobRepository implements the job.Repository interface for PostgreSQL
type JobRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewJobRepository creates a new PostgreSQL job repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewJobRepository(logger *slog.Logger, db *persistence.PostgresDB) job.Repository {
	return &JobRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction, allowing for atomic
// operations across multiple repository calls.
func (r *JobRepository) WithTx(tx pgx.Tx) job.Repository {
	return &JobRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new recon job in QUEUED
func (r *JobRepository) Create(ctx context.Context, j *job.ReconJob) error {
	counters, err := json.Marshal(j.Counters)
	if err != nil {
		return fmt.Errorf("failed to marshal job counters: %w", err)
	}

	query := `
		INSERT INTO recon_jobs (id, cycle_date, merchant_id, acquirer_id, source_type, status, counters, finalized, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.querier.Exec(ctx, query,
		j.ID,
		j.CycleDate,
		j.MerchantID,
		j.AcquirerID,
		j.SourceType,
		j.Status,
		counters,
		j.Finalized,
		j.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create recon job", "error", err)
		return fmt.Errorf("failed to create recon job: %w", err)
	}

	return nil
}

const jobColumns = `id, cycle_date, merchant_id, acquirer_id, source_type, status, counters, finalized, error, created_at, started_at, finished_at`

func scanJob(row pgx.Row) (*job.ReconJob, error) {
	var j job.ReconJob
	var counters []byte
	var jobErr []byte
	err := row.Scan(
		&j.ID,
		&j.CycleDate,
		&j.MerchantID,
		&j.AcquirerID,
		&j.SourceType,
		&j.Status,
		&counters,
		&j.Finalized,
		&jobErr,
		&j.CreatedAt,
		&j.StartedAt,
		&j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &j.Counters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job counters: %w", err)
		}
	}
	if len(jobErr) > 0 {
		j.Error = &job.Error{}
		if err := json.Unmarshal(jobErr, j.Error); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job error: %w", err)
		}
	}
	return &j, nil
}

// GetByID retrieves a job by its ID
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*job.ReconJob, error) {
	query := `SELECT ` + jobColumns + ` FROM recon_jobs WHERE id = $1`

	j, err := scanJob(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, job.ErrJobNotFound{JobID: id}
		}
		r.logger.Error("Failed to get recon job", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get recon job: %w", err)
	}

	return j, nil
}

// FindActive returns a non-failed finalized job for the idempotency key, or
// nil when none exists. Failed jobs do not block a re-trigger.
func (r *JobRepository) FindActive(ctx context.Context, cycleDate, merchantID, acquirerID string) (*job.ReconJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM recon_jobs
		WHERE cycle_date = $1 AND merchant_id = $2 AND acquirer_id = $3
		  AND finalized = TRUE AND status <> 'FAILED'
		ORDER BY created_at DESC
		LIMIT 1
	`

	j, err := scanJob(r.querier.QueryRow(ctx, query, cycleDate, merchantID, acquirerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to find active recon job", "cycle_date", cycleDate, "error", err)
		return nil, fmt.Errorf("failed to find active recon job: %w", err)
	}

	return j, nil
}

// UpdateStatus persists a lifecycle transition together with the counters
// accumulated so far and any structured error
func (r *JobRepository) UpdateStatus(ctx context.Context, j *job.ReconJob) error {
	counters, err := json.Marshal(j.Counters)
	if err != nil {
		return fmt.Errorf("failed to marshal job counters: %w", err)
	}
	var jobErr []byte
	if j.Error != nil {
		jobErr, err = json.Marshal(j.Error)
		if err != nil {
			return fmt.Errorf("failed to marshal job error: %w", err)
		}
	}

	query := `
		UPDATE recon_jobs
		SET status = $1, counters = $2, error = $3, started_at = $4, finished_at = $5
		WHERE id = $6
	`

	result, err := r.querier.Exec(ctx, query,
		j.Status,
		counters,
		jobErr,
		j.StartedAt,
		j.FinishedAt,
		j.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update recon job status", "id", j.ID.String(), "error", err)
		return fmt.Errorf("failed to update recon job status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return job.ErrJobNotFound{JobID: j.ID}
	}

	return nil
}

// AddCounters applies a monotonic counter increment against the stored jsonb
func (r *JobRepository) AddCounters(ctx context.Context, id uuid.UUID, delta job.Counters) error {
	// Read-modify-write keeps the increment logic in one place; the worker
	// is the only writer for a given job so no row contention arises.
	j, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	j.Counters.PGFetched += delta.PGFetched
	j.Counters.BankFetched += delta.BankFetched
	j.Counters.Normalized += delta.Normalized
	j.Counters.Rejected += delta.Rejected
	j.Counters.Matched += delta.Matched
	j.Counters.UnmatchedPG += delta.UnmatchedPG
	j.Counters.UnmatchedBank += delta.UnmatchedBank
	j.Counters.Exceptions += delta.Exceptions

	counters, err := json.Marshal(j.Counters)
	if err != nil {
		return fmt.Errorf("failed to marshal job counters: %w", err)
	}

	query := `UPDATE recon_jobs SET counters = $1 WHERE id = $2`
	result, err := r.querier.Exec(ctx, query, counters, id)
	if err != nil {
		r.logger.Error("Failed to add job counters", "id", id.String(), "error", err)
		return fmt.Errorf("failed to add job counters: %w", err)
	}
	if result.RowsAffected() == 0 {
		return job.ErrJobNotFound{JobID: id}
	}

	return nil
}
