package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/settleline-recon-engine/internal/domain/staging"
	"github.com/settleline-recon-engine/internal/platform/persistence"
)

// RawRowRepository implements the staging.Repository interface for PostgreSQL
type RawRowRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewRawRowRepository creates a new PostgreSQL staged row repository
func NewRawRowRepository(logger *slog.Logger, db *persistence.PostgresDB) staging.Repository {
	return &RawRowRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// contentHash gives a stable identity to a row regardless of map iteration
// order, used for the re-fetch dedup constraint
func contentHash(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(fields[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CreateBatch inserts staged rows, silently skipping rows already landed by
// an earlier fetch of the same cycle
func (r *RawRowRepository) CreateBatch(ctx context.Context, rows []*staging.RawRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO staged_rows (id, side, cycle_date, merchant_id, acquirer_id, fields, content_hash, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (side, cycle_date, content_hash) DO NOTHING
	`

	for _, row := range rows {
		fields, err := json.Marshal(row.Fields)
		if err != nil {
			return fmt.Errorf("failed to marshal staged row fields: %w", err)
		}
		_, err = r.querier.Exec(ctx, query,
			row.ID,
			row.Side,
			row.CycleDate,
			row.MerchantID,
			row.AcquirerID,
			fields,
			contentHash(row.Fields),
			row.FetchedAt,
		)
		if err != nil {
			r.logger.Error("Failed to insert staged row", "id", row.ID.String(), "error", err)
			return fmt.Errorf("failed to insert staged row: %w", err)
		}
	}

	return nil
}

// List returns one cycle's staged rows for a side in insertion order
func (r *RawRowRepository) List(ctx context.Context, q staging.Query) ([]*staging.RawRow, error) {
	query := `
		SELECT id, side, cycle_date, merchant_id, acquirer_id, fields, fetched_at
		FROM staged_rows
		WHERE side = $1 AND cycle_date = $2
	`
	args := []interface{}{q.Side, q.CycleDate}
	if q.MerchantID != "" {
		args = append(args, q.MerchantID)
		query += fmt.Sprintf(" AND merchant_id = $%d", len(args))
	}
	if q.AcquirerID != "" {
		args = append(args, q.AcquirerID)
		query += fmt.Sprintf(" AND acquirer_id = $%d", len(args))
	}
	query += " ORDER BY seq ASC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list staged rows", "side", q.Side, "cycle_date", q.CycleDate, "error", err)
		return nil, fmt.Errorf("failed to list staged rows: %w", err)
	}
	defer rows.Close()

	var out []*staging.RawRow
	for rows.Next() {
		var sr staging.RawRow
		var fields []byte
		if err := rows.Scan(&sr.ID, &sr.Side, &sr.CycleDate, &sr.MerchantID, &sr.AcquirerID, &fields, &sr.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan staged row: %w", err)
		}
		if err := json.Unmarshal(fields, &sr.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal staged row fields: %w", err)
		}
		out = append(out, &sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate staged rows: %w", err)
	}

	return out, nil
}

// Count returns the staged row count for a cycle and side
func (r *RawRowRepository) Count(ctx context.Context, q staging.Query) (int64, error) {
	query := `SELECT COUNT(*) FROM staged_rows WHERE side = $1 AND cycle_date = $2`
	args := []interface{}{q.Side, q.CycleDate}
	if q.MerchantID != "" {
		args = append(args, q.MerchantID)
		query += fmt.Sprintf(" AND merchant_id = $%d", len(args))
	}
	if q.AcquirerID != "" {
		args = append(args, q.AcquirerID)
		query += fmt.Sprintf(" AND acquirer_id = $%d", len(args))
	}

	var count int64
	if err := r.querier.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		r.logger.Error("Failed to count staged rows", "side", q.Side, "cycle_date", q.CycleDate, "error", err)
		return 0, fmt.Errorf("failed to count staged rows: %w", err)
	}

	return count, nil
}
