package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/settleline-recon-engine/internal/domain/rule"
	"github.com/settleline-recon-engine/internal/platform/persistence"
)

// RuleRepository implements the rule.Repository interface for PostgreSQL
type RuleRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewRuleRepository creates a new PostgreSQL triage rule repository
func NewRuleRepository(logger *slog.Logger, db *persistence.PostgresDB) rule.Repository {
	return &RuleRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// ListEnabled loads the active rule set ordered by priority
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]*rule.Rule, error) {
	query := `
		SELECT id, name, priority, enabled, scope, actions
		FROM triage_rules
		WHERE enabled = TRUE
		ORDER BY priority ASC, name ASC
	`

	rows, err := r.querier.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list enabled rules", "error", err)
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	defer rows.Close()

	var rules []*rule.Rule
	for rows.Next() {
		var ru rule.Rule
		var scope, actions []byte
		if err := rows.Scan(&ru.ID, &ru.Name, &ru.Priority, &ru.Enabled, &scope, &actions); err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		if err := json.Unmarshal(scope, &ru.Scope); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rule scope: %w", err)
		}
		if err := json.Unmarshal(actions, &ru.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rule actions: %w", err)
		}
		rules = append(rules, &ru)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rule rows: %w", err)
	}

	return rules, nil
}

// Create stores a new triage rule
func (r *RuleRepository) Create(ctx context.Context, ru *rule.Rule) error {
	scope, err := json.Marshal(ru.Scope)
	if err != nil {
		return fmt.Errorf("failed to marshal rule scope: %w", err)
	}
	actions, err := json.Marshal(ru.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal rule actions: %w", err)
	}

	query := `
		INSERT INTO triage_rules (id, name, priority, enabled, scope, actions)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.querier.Exec(ctx, query, ru.ID, ru.Name, ru.Priority, ru.Enabled, scope, actions)
	if err != nil {
		r.logger.Error("Failed to create rule", "name", ru.Name, "error", err)
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}
