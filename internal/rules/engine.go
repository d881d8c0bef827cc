// Package rules implements automated exception triage. The engine runs after
// a triggering transition has committed (never inside the exception's write
// path, so it cannot re-enter the per-exception lock) and applies every
// matching rule in priority order. Actions are idempotent: re-applying a
// rule to an exception that already reflects it is a no-op.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/settleline-recon-engine/internal/domain/audit"
	"github.com/settleline-recon-engine/internal/domain/exception"
	"github.com/settleline-recon-engine/internal/domain/rule"
	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/platform/observability"
)

// Engine evaluates the ordered rule list against exception snapshots
type Engine struct {
	ruleRepo  rule.Repository
	excRepo   exception.Repository
	auditRepo audit.Repository
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(logger *slog.Logger, metrics *observability.Metrics, ruleRepo rule.Repository, excRepo exception.Repository, auditRepo audit.Repository) *Engine {
	return &Engine{
		ruleRepo:  ruleRepo,
		excRepo:   excRepo,
		auditRepo: auditRepo,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate applies all matching enabled rules to the exception and persists
// the combined outcome under the exception's optimistic version. A version
// conflict means another writer got there first; the losing evaluation is
// dropped because that writer's own post-commit evaluation covers the rules.
// Returns whether the exception changed.
func (e *Engine) Evaluate(ctx context.Context, exc *exception.Exception) (bool, error) {
	ruleSet, err := e.ruleRepo.ListEnabled(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load rule set: %w", err)
	}
	if len(ruleSet) == 0 {
		return false, nil
	}

	loadedVersion := exc.Version
	var entries []*audit.Entry

	for _, r := range ruleSet {
		if !e.matches(r, exc) {
			continue
		}
		for _, action := range r.Actions {
			before := exc.Status
			changed, applyErr := e.apply(action, exc)
			if applyErr != nil {
				// Not-allowed transitions are expected when an earlier rule
				// already closed the exception; anything else is a defect.
				var notAllowed exception.ErrTransitionNotAllowed
				if errors.As(applyErr, &notAllowed) {
					e.logger.Debug("rule action skipped",
						"rule", r.Name,
						"action", string(action.Type),
						"exception_id", exc.ID.String(),
						"status", string(exc.Status),
					)
					continue
				}
				return false, fmt.Errorf("rule %q action %s failed: %w", r.Name, action.Type, applyErr)
			}
			if changed {
				e.metrics.RuleApplications.WithLabelValues(r.Name).Inc()
				entries = append(entries, audit.NewEntry(
					exc.ID,
					shared.ActorRuleEngine,
					fmt.Sprintf("rule:%s:%s", r.Name, action.Type),
					before,
					exc.Status,
					action.Note,
				))
			}
		}
	}

	if len(entries) == 0 {
		return false, nil
	}

	if err := e.excRepo.Update(ctx, exc, loadedVersion); err != nil {
		if errors.Is(err, exception.ErrVersionConflict{}) {
			e.logger.Info("rule evaluation lost write race, skipping",
				"exception_id", exc.ID.String(),
			)
			return false, nil
		}
		return false, fmt.Errorf("failed to persist rule outcome: %w", err)
	}

	for _, entry := range entries {
		if err := e.auditRepo.Append(ctx, entry); err != nil {
			e.logger.Error("failed to append rule audit entry",
				"exception_id", exc.ID.String(),
				"action", entry.Action,
				"error", err,
			)
		}
	}

	return true, nil
}

// matches evaluates the rule scope against the exception's current state.
// Unset scope fields match everything; set fields are AND-ed.
func (e *Engine) matches(r *rule.Rule, exc *exception.Exception) bool {
	s := r.Scope
	if len(s.ReasonCodes) > 0 && !containsMatch(s.ReasonCodes, exc.ReasonCode) {
		return false
	}
	if len(s.Severities) > 0 && !containsSeverity(s.Severities, exc.Severity) {
		return false
	}
	if len(s.Statuses) > 0 && !containsStatus(s.Statuses, exc.Status) {
		return false
	}
	if s.MinAmountDeltaPaise != nil {
		delta := exc.AmountDeltaPaise
		if delta < 0 {
			delta = -delta
		}
		if delta < *s.MinAmountDeltaPaise {
			return false
		}
	}
	if s.MinAgeHours != nil && exc.AgeHours(e.now()) < *s.MinAgeHours {
		return false
	}
	return true
}

func (e *Engine) apply(a rule.Action, exc *exception.Exception) (bool, error) {
	switch a.Type {
	case rule.ActionAssign:
		return exc.Assign(a.Value)
	case rule.ActionSetSeverity:
		sev, ok := shared.ParseSeverity(a.Value)
		if !ok {
			return false, fmt.Errorf("unknown severity %q", a.Value)
		}
		return exc.SetSeverity(sev), nil
	case rule.ActionAddTag:
		return exc.AddTag(a.Value), nil
	case rule.ActionEscalate:
		return exc.Escalate()
	case rule.ActionResolve:
		action, ok := shared.ParseResolveAction(a.Value)
		if !ok {
			return false, fmt.Errorf("unknown resolve action %q", a.Value)
		}
		return exc.Resolve(action, a.Note, shared.ActorRuleEngine)
	default:
		return false, fmt.Errorf("unknown rule action type %q", a.Type)
	}
}

func containsMatch(haystack []shared.MatchStatus, needle shared.MatchStatus) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func containsSeverity(haystack []shared.Severity, needle shared.Severity) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func containsStatus(haystack []shared.ExceptionStatus, needle shared.ExceptionStatus) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
