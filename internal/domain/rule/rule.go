// Package rule defines the ordered auto-triage rules evaluated against
// exceptions on create and update.
package rule

import (
	"context"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// ActionType enumerates the automated actions a rule may apply
type ActionType string

const (
	ActionAssign      ActionType = "ASSIGN"
	ActionSetSeverity ActionType = "SET_SEVERITY"
	ActionAddTag      ActionType = "ADD_TAG"
	ActionEscalate    ActionType = "ESCALATE"
	ActionResolve     ActionType = "RESOLVE"
)

// Action is one step of a rule's ordered action list. Value carries the
// action argument: assignee id, severity, tag, or resolve action.
type Action struct {
	Type  ActionType `json:"type"`
	Value string     `json:"value,omitempty"`
	Note  string     `json:"note,omitempty"`
}

// Scope is the predicate deciding whether a rule applies to an exception.
// Empty slices match everything; set fields are AND-ed together.
type Scope struct {
	ReasonCodes         []shared.MatchStatus     `json:"reason_codes,omitempty"`
	Severities          []shared.Severity        `json:"severities,omitempty"`
	Statuses            []shared.ExceptionStatus `json:"statuses,omitempty"`
	MinAmountDeltaPaise *int64                   `json:"min_amount_delta_paise,omitempty"`
	MinAgeHours         *float64                 `json:"min_age_hours,omitempty"`
}

// Rule is one priority-ordered triage rule. Lower Priority evaluates first;
// all matching rules apply, not only the first.
type Rule struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Priority int       `json:"priority"`
	Enabled  bool      `json:"enabled"`
	Scope    Scope     `json:"scope"`
	Actions  []Action  `json:"actions"`
}

// Repository loads the active rule set ordered by priority
type Repository interface {
	ListEnabled(ctx context.Context) ([]*Rule, error)
	Create(ctx context.Context, r *Rule) error
}
