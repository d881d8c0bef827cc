package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/settleline-recon-engine/internal/domain/recon"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/platform/persistence"
)

// ResultRepository implements the recon.Repository interface for PostgreSQL
type ResultRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewResultRepository creates a new PostgreSQL result repository
func NewResultRepository(logger *slog.Logger, db *persistence.PostgresDB) recon.Repository {
	return &ResultRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction
func (r *ResultRepository) WithTx(tx pgx.Tx) recon.Repository {
	return &ResultRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const resultColumns = `seq, id, job_id, status, reason_code, confidence,
	pg_txn_id, bank_ref, utr, rrn,
	pg_amount_paise, bank_amount_paise, amount_delta_paise,
	pg_fee_paise, bank_fee_paise, fee_delta_paise,
	pg_date, bank_date, date_delta_days, created_at`

func scanResult(row pgx.Row) (*recon.Result, error) {
	var res recon.Result
	err := row.Scan(
		&res.Seq,
		&res.ID,
		&res.JobID,
		&res.Status,
		&res.ReasonCode,
		&res.Confidence,
		&res.PGTxnID,
		&res.BankRef,
		&res.UTR,
		&res.RRN,
		&res.PGAmountPaise,
		&res.BankAmountPaise,
		&res.AmountDeltaPaise,
		&res.PGFeePaise,
		&res.BankFeePaise,
		&res.FeeDeltaPaise,
		&res.PGDate,
		&res.BankDate,
		&res.DateDeltaDays,
		&res.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateBatch inserts a batch of classified results in a single round trip
func (r *ResultRepository) CreateBatch(ctx context.Context, results []*recon.Result) error {
	if len(results) == 0 {
		return nil
	}

	query := `
		INSERT INTO recon_results (id, job_id, status, reason_code, confidence,
			pg_txn_id, bank_ref, utr, rrn,
			pg_amount_paise, bank_amount_paise, amount_delta_paise,
			pg_fee_paise, bank_fee_paise, fee_delta_paise,
			pg_date, bank_date, date_delta_days, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	batch := &pgx.Batch{}
	for _, res := range results {
		batch.Queue(query,
			res.ID, res.JobID, res.Status, res.ReasonCode, res.Confidence,
			res.PGTxnID, res.BankRef, res.UTR, res.RRN,
			res.PGAmountPaise, res.BankAmountPaise, res.AmountDeltaPaise,
			res.PGFeePaise, res.BankFeePaise, res.FeeDeltaPaise,
			res.PGDate, res.BankDate, res.DateDeltaDays, res.CreatedAt,
		)
	}

	// Querier does not expose SendBatch; fall back to per-row Exec when the
	// querier is not a batch sender. Both pool and tx implement the sender.
	if sender, ok := r.querier.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	}); ok {
		br := sender.SendBatch(ctx, batch)
		defer br.Close()
		for range results {
			if _, err := br.Exec(); err != nil {
				r.logger.Error("Failed to insert result batch", "error", err)
				return fmt.Errorf("failed to insert result batch: %w", err)
			}
		}
		return nil
	}

	for _, res := range results {
		_, err := r.querier.Exec(ctx, query,
			res.ID, res.JobID, res.Status, res.ReasonCode, res.Confidence,
			res.PGTxnID, res.BankRef, res.UTR, res.RRN,
			res.PGAmountPaise, res.BankAmountPaise, res.AmountDeltaPaise,
			res.PGFeePaise, res.BankFeePaise, res.FeeDeltaPaise,
			res.PGDate, res.BankDate, res.DateDeltaDays, res.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to insert result", "id", res.ID.String(), "error", err)
			return fmt.Errorf("failed to insert result: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a result by its ID
func (r *ResultRepository) GetByID(ctx context.Context, id uuid.UUID) (*recon.Result, error) {
	query := `SELECT ` + resultColumns + ` FROM recon_results WHERE id = $1`

	res, err := scanResult(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, recon.ErrResultNotFound{ResultID: id}
		}
		r.logger.Error("Failed to get result", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	return res, nil
}

// ListByJob returns one page of a job's results in stable seq order. The
// second return reports whether more rows follow the page.
func (r *ResultRepository) ListByJob(ctx context.Context, jobID uuid.UUID, filter recon.ResultFilter) ([]*recon.Result, bool, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + resultColumns + ` FROM recon_results WHERE job_id = $1 AND seq > $2`
	args := []interface{}{jobID, filter.AfterSeq}
	if filter.Status != nil {
		query += ` AND status = $3`
		args = append(args, *filter.Status)
	}
	// Fetch one extra row to detect a following page
	query += fmt.Sprintf(` ORDER BY seq ASC LIMIT %d`, limit+1)

	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list results", "job_id", jobID.String(), "error", err)
		return nil, false, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []*recon.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, false, fmt.Errorf("failed to scan result row: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to iterate result rows: %w", err)
	}

	hasMore := len(results) > limit
	if hasMore {
		results = results[:limit]
	}
	return results, hasMore, nil
}

// CountByStatus returns result counts per match status for one job
func (r *ResultRepository) CountByStatus(ctx context.Context, jobID uuid.UUID) (map[shared.MatchStatus]int64, error) {
	query := `SELECT status, COUNT(*) FROM recon_results WHERE job_id = $1 GROUP BY status`

	rows, err := r.querier.Query(ctx, query, jobID)
	if err != nil {
		r.logger.Error("Failed to count results by status", "job_id", jobID.String(), "error", err)
		return nil, fmt.Errorf("failed to count results by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[shared.MatchStatus]int64)
	for rows.Next() {
		var status shared.MatchStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count row: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status count rows: %w", err)
	}

	return counts, nil
}

// UpdateStatus re-classifies a single result row (reprocess path)
func (r *ResultRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status shared.MatchStatus, reasonCode string) error {
	query := `UPDATE recon_results SET status = $1, reason_code = $2 WHERE id = $3`

	result, err := r.querier.Exec(ctx, query, status, reasonCode, id)
	if err != nil {
		r.logger.Error("Failed to update result status", "id", id.String(), "error", err)
		return fmt.Errorf("failed to update result status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return recon.ErrResultNotFound{ResultID: id}
	}

	return nil
}
