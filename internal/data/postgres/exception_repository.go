package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/settleline-recon-engine/internal/domain/exception"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/platform/persistence"
)

// ExceptionRepository implements the exception.Repository interface for PostgreSQL
type ExceptionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewExceptionRepository creates a new PostgreSQL exception repository
func NewExceptionRepository(logger *slog.Logger, db *persistence.PostgresDB) exception.Repository {
	return &ExceptionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction
func (r *ExceptionRepository) WithTx(tx pgx.Tx) exception.Repository {
	return &ExceptionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const exceptionColumns = `seq, id, exception_code, source_job_id, result_id, reason, reason_code,
	status, severity, assigned_to, tags, amount_delta_paise,
	sla_due_at, snooze_until, resolution, version, created_at, updated_at`

func scanException(row pgx.Row) (*exception.Exception, error) {
	var e exception.Exception
	var resolution []byte
	err := row.Scan(
		&e.Seq,
		&e.ID,
		&e.ExceptionCode,
		&e.SourceJobID,
		&e.ResultID,
		&e.Reason,
		&e.ReasonCode,
		&e.Status,
		&e.Severity,
		&e.AssignedTo,
		&e.Tags,
		&e.AmountDeltaPaise,
		&e.SLADueAt,
		&e.SnoozeUntil,
		&resolution,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(resolution) > 0 {
		e.Resolution = &exception.Resolution{}
		if err := json.Unmarshal(resolution, e.Resolution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal exception resolution: %w", err)
		}
	}
	return &e, nil
}

// CreateBatch inserts derived exceptions. The result_id uniqueness
// constraint guarantees at most one exception per classified result.
func (r *ExceptionRepository) CreateBatch(ctx context.Context, excs []*exception.Exception) error {
	if len(excs) == 0 {
		return nil
	}

	query := `
		INSERT INTO exceptions (id, exception_code, source_job_id, result_id, reason, reason_code,
			status, severity, assigned_to, tags, amount_delta_paise,
			sla_due_at, snooze_until, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (result_id) DO NOTHING
	`

	for _, e := range excs {
		_, err := r.querier.Exec(ctx, query,
			e.ID, e.ExceptionCode, e.SourceJobID, e.ResultID, e.Reason, e.ReasonCode,
			e.Status, e.Severity, e.AssignedTo, e.Tags, e.AmountDeltaPaise,
			e.SLADueAt, e.SnoozeUntil, e.Version, e.CreatedAt, e.UpdatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to insert exception", "id", e.ID.String(), "error", err)
			return fmt.Errorf("failed to insert exception: %w", err)
		}
	}

	return nil
}

// GetByID retrieves an exception by its ID
func (r *ExceptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*exception.Exception, error) {
	query := `SELECT ` + exceptionColumns + ` FROM exceptions WHERE id = $1`

	e, err := scanException(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, exception.ErrExceptionNotFound{ExceptionID: id}
		}
		r.logger.Error("Failed to get exception", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get exception: %w", err)
	}

	return e, nil
}

// Update persists a mutated exception only when the stored version still
// equals the version the caller read. A lost race surfaces as
// ErrVersionConflict and the write is never applied.
func (r *ExceptionRepository) Update(ctx context.Context, e *exception.Exception, expectedVersion int) error {
	var resolution []byte
	var err error
	if e.Resolution != nil {
		resolution, err = json.Marshal(e.Resolution)
		if err != nil {
			return fmt.Errorf("failed to marshal exception resolution: %w", err)
		}
	}

	query := `
		UPDATE exceptions
		SET status = $1, severity = $2, assigned_to = $3, tags = $4,
			snooze_until = $5, resolution = $6, version = $7, updated_at = $8
		WHERE id = $9 AND version = $10
	`

	result, err := r.querier.Exec(ctx, query,
		e.Status,
		e.Severity,
		e.AssignedTo,
		e.Tags,
		e.SnoozeUntil,
		resolution,
		e.Version,
		e.UpdatedAt,
		e.ID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update exception", "id", e.ID.String(), "error", err)
		return fmt.Errorf("failed to update exception: %w", err)
	}

	if result.RowsAffected() == 0 {
		return exception.ErrVersionConflict{ExceptionID: e.ID}
	}

	return nil
}

// buildFilterClauses renders the shared WHERE fragment for List and
// CountByStatus. Arguments are appended positionally after the fixed ones.
func buildFilterClauses(f exception.Filter, args []interface{}) (string, []interface{}) {
	clause := ""
	if len(f.Statuses) > 0 {
		args = append(args, f.Statuses)
		clause += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if len(f.Severities) > 0 {
		args = append(args, f.Severities)
		clause += fmt.Sprintf(" AND severity = ANY($%d)", len(args))
	}
	if f.ReasonCode != nil {
		args = append(args, *f.ReasonCode)
		clause += fmt.Sprintf(" AND reason_code = $%d", len(args))
	}
	if f.AssignedTo != "" {
		args = append(args, f.AssignedTo)
		clause += fmt.Sprintf(" AND assigned_to = $%d", len(args))
	}
	if f.JobID != nil {
		args = append(args, *f.JobID)
		clause += fmt.Sprintf(" AND source_job_id = $%d", len(args))
	}
	return clause, args
}

// List returns one page of exceptions in stable seq order. The second
// return reports whether more rows follow the page.
func (r *ExceptionRepository) List(ctx context.Context, f exception.Filter) ([]*exception.Exception, bool, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	args := []interface{}{f.AfterSeq}
	query := `SELECT ` + exceptionColumns + ` FROM exceptions WHERE seq > $1`
	clause, args := buildFilterClauses(f, args)
	query += clause
	query += fmt.Sprintf(` ORDER BY seq ASC LIMIT %d`, limit+1)

	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list exceptions", "error", err)
		return nil, false, fmt.Errorf("failed to list exceptions: %w", err)
	}
	defer rows.Close()

	var excs []*exception.Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, false, fmt.Errorf("failed to scan exception row: %w", err)
		}
		excs = append(excs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to iterate exception rows: %w", err)
	}

	hasMore := len(excs) > limit
	if hasMore {
		excs = excs[:limit]
	}
	return excs, hasMore, nil
}

// CountByStatus returns exception counts per status for the given filter
func (r *ExceptionRepository) CountByStatus(ctx context.Context, f exception.Filter) (map[shared.ExceptionStatus]int64, error) {
	args := []interface{}{int64(0)}
	query := `SELECT status, COUNT(*) FROM exceptions WHERE seq > $1`
	clause, args := buildFilterClauses(f, args)
	query += clause + ` GROUP BY status`

	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to count exceptions by status", "error", err)
		return nil, fmt.Errorf("failed to count exceptions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[shared.ExceptionStatus]int64)
	for rows.Next() {
		var status shared.ExceptionStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan exception count row: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exception count rows: %w", err)
	}

	return counts, nil
}

// ListExpiredSnoozes returns snoozed exceptions whose snooze window has
// passed, oldest first, for the scheduler's auto-reopen pass
func (r *ExceptionRepository) ListExpiredSnoozes(ctx context.Context, now time.Time, limit int) ([]*exception.Exception, error) {
	query := `
		SELECT ` + exceptionColumns + `
		FROM exceptions
		WHERE status = 'SNOOZED' AND snooze_until <= $1
		ORDER BY snooze_until ASC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, now, limit)
	if err != nil {
		r.logger.Error("Failed to list expired snoozes", "error", err)
		return nil, fmt.Errorf("failed to list expired snoozes: %w", err)
	}
	defer rows.Close()

	var excs []*exception.Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired snooze row: %w", err)
		}
		excs = append(excs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired snooze rows: %w", err)
	}

	return excs, nil
}
