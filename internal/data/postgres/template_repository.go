package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/settleline-recon-engine/internal/domain/mapping"
	"github.com/settleline-recon-engine/internal/platform/persistence"
)

// TemplateRepository implements the mapping.Repository interface for PostgreSQL
type TemplateRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewTemplateRepository creates a new PostgreSQL mapping template repository
func NewTemplateRepository(logger *slog.Logger, db *persistence.PostgresDB) mapping.Repository {
	return &TemplateRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

const templateColumns = `id, acquirer_code, version, field_map, date_formats, amount_parsers, defer_date_errors`

func scanTemplate(row pgx.Row) (*mapping.Template, error) {
	var t mapping.Template
	var fieldMap, dateFormats, amountParsers []byte
	err := row.Scan(
		&t.ID,
		&t.AcquirerCode,
		&t.Version,
		&fieldMap,
		&dateFormats,
		&amountParsers,
		&t.DeferDateErrors,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fieldMap, &t.FieldMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template field map: %w", err)
	}
	if len(dateFormats) > 0 {
		if err := json.Unmarshal(dateFormats, &t.DateFormats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template date formats: %w", err)
		}
	}
	if len(amountParsers) > 0 {
		if err := json.Unmarshal(amountParsers, &t.AmountParsers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template amount parsers: %w", err)
		}
	}
	return &t, nil
}

// GetLatestByAcquirer resolves the highest template version for an acquirer
func (r *TemplateRepository) GetLatestByAcquirer(ctx context.Context, acquirerCode string) (*mapping.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM mapping_templates
		WHERE acquirer_code = $1
		ORDER BY version DESC
		LIMIT 1
	`

	t, err := scanTemplate(r.querier.QueryRow(ctx, query, acquirerCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mapping.ErrTemplateNotFound{AcquirerCode: acquirerCode}
		}
		r.logger.Error("Failed to get latest mapping template", "acquirer_code", acquirerCode, "error", err)
		return nil, fmt.Errorf("failed to get latest mapping template: %w", err)
	}

	return t, nil
}

// GetByID retrieves a specific template version by id
func (r *TemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*mapping.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM mapping_templates WHERE id = $1`

	t, err := scanTemplate(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mapping.ErrTemplateNotFound{AcquirerCode: id.String()}
		}
		r.logger.Error("Failed to get mapping template", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get mapping template: %w", err)
	}

	return t, nil
}

// Create stores a new template version. The (acquirer_code, version) pair
// carries a uniqueness constraint; published versions are never mutated.
func (r *TemplateRepository) Create(ctx context.Context, t *mapping.Template) error {
	fieldMap, err := json.Marshal(t.FieldMap)
	if err != nil {
		return fmt.Errorf("failed to marshal template field map: %w", err)
	}
	dateFormats, err := json.Marshal(t.DateFormats)
	if err != nil {
		return fmt.Errorf("failed to marshal template date formats: %w", err)
	}
	amountParsers, err := json.Marshal(t.AmountParsers)
	if err != nil {
		return fmt.Errorf("failed to marshal template amount parsers: %w", err)
	}

	query := `
		INSERT INTO mapping_templates (id, acquirer_code, version, field_map, date_formats, amount_parsers, defer_date_errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.querier.Exec(ctx, query,
		t.ID,
		t.AcquirerCode,
		t.Version,
		fieldMap,
		dateFormats,
		amountParsers,
		t.DeferDateErrors,
	)
	if err != nil {
		r.logger.Error("Failed to create mapping template", "acquirer_code", t.AcquirerCode, "error", err)
		return fmt.Errorf("failed to create mapping template: %w", err)
	}

	return nil
}
