// Package exception owns the human-resolution workflow for non-matched
// reconciliation results. All mutation flows through the named transitions
// below; each successful transition is serialized per-exception through an
// optimistic version check and appends exactly one audit entry.
package exception

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/domain/recon"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// Resolution is set exactly once, on entering RESOLVED or WONT_FIX
type Resolution struct {
	Action     shared.ResolveAction `json:"action"`
	Note       string               `json:"note,omitempty"`
	ResolvedBy string               `json:"resolved_by"`
	ResolvedAt time.Time            `json:"resolved_at"`
}

// Exception is one actionable non-match derived from a classified result
type Exception struct {
	ID            uuid.UUID `json:"id"`
	Seq           int64     `json:"-"` // database-assigned, drives keyset pagination
	ExceptionCode string    `json:"exception_code"`
	SourceJobID   uuid.UUID `json:"source_job_id"`
	ResultID      uuid.UUID `json:"result_id"`

	Reason     string             `json:"reason"`
	ReasonCode shared.MatchStatus `json:"reason_code"`

	Status   shared.ExceptionStatus `json:"status"`
	Severity shared.Severity        `json:"severity"`

	AssignedTo       string   `json:"assigned_to,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	AmountDeltaPaise int64    `json:"amount_delta_paise,omitempty"`

	SLADueAt    time.Time  `json:"sla_due_at"`
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`

	Resolution *Resolution `json:"resolution,omitempty"`

	Version   int       `json:"version"` // optimistic concurrency token
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrTransitionNotAllowed indicates an action illegal in the current state
type ErrTransitionNotAllowed struct {
	Status shared.ExceptionStatus
	Action string
}

func (e ErrTransitionNotAllowed) Error() string {
	return fmt.Sprintf("action %q not allowed while exception is %s", e.Action, e.Status)
}

// slaWindows map severity to the actioning deadline offset. BANK_FILE_AWAITED
// overrides severity-based SLA with its own class since the remedy (file
// arrival) is outside operator control.
var slaWindows = map[shared.Severity]time.Duration{
	shared.SeverityCritical: 4 * time.Hour,
	shared.SeverityHigh:     24 * time.Hour,
	shared.SeverityMedium:   72 * time.Hour,
	shared.SeverityLow:      7 * 24 * time.Hour,
}

const bankFileAwaitedSLA = 24 * time.Hour

// SeverityFor derives the initial severity from the classification
func SeverityFor(status shared.MatchStatus, amountDeltaPaise int64) shared.Severity {
	abs := amountDeltaPaise
	if abs < 0 {
		abs = -abs
	}
	switch status {
	case shared.MatchStatusAmountMismatch:
		if abs >= 1_00_000 { // 1000 rupees
			return shared.SeverityCritical
		}
		if abs >= 10_000 {
			return shared.SeverityHigh
		}
		return shared.SeverityMedium
	case shared.MatchStatusDuplicate:
		return shared.SeverityHigh
	case shared.MatchStatusUnmatchedPG, shared.MatchStatusUnmatchedBank:
		return shared.SeverityMedium
	case shared.MatchStatusDateMismatch, shared.MatchStatusFeeMismatch:
		return shared.SeverityMedium
	case shared.MatchStatusBankFileAwaited:
		return shared.SeverityLow
	default:
		return shared.SeverityLow
	}
}

// NewFromResult derives an exception from a qualifying result. Called exactly
// once per result; the result id carries a uniqueness constraint in storage.
func NewFromResult(r *recon.Result) *Exception {
	now := time.Now().UTC()
	var delta int64
	if r.AmountDeltaPaise != nil {
		delta = *r.AmountDeltaPaise
	}
	severity := SeverityFor(r.Status, delta)
	due := now.Add(slaWindows[severity])
	if r.Status == shared.MatchStatusBankFileAwaited {
		due = now.Add(bankFileAwaitedSLA)
	}
	id := uuid.New()
	return &Exception{
		ID:               id,
		ExceptionCode:    buildCode(r.Status, id),
		SourceJobID:      r.JobID,
		ResultID:         r.ID,
		Reason:           reasonText(r),
		ReasonCode:       r.Status,
		Status:           shared.ExceptionStatusOpen,
		Severity:         severity,
		AmountDeltaPaise: delta,
		SLADueAt:         due,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func buildCode(status shared.MatchStatus, id uuid.UUID) string {
	short := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	return fmt.Sprintf("EXC-%s-%s", status, short)
}

func reasonText(r *recon.Result) string {
	switch r.Status {
	case shared.MatchStatusAmountMismatch:
		if r.AmountDeltaPaise != nil {
			return fmt.Sprintf("bank amount differs from PG amount by %d paise", *r.AmountDeltaPaise)
		}
		return "bank amount differs from PG amount"
	case shared.MatchStatusDateMismatch:
		if r.DateDeltaDays != nil {
			return fmt.Sprintf("bank settlement date differs by %d day(s)", *r.DateDeltaDays)
		}
		return "bank settlement date outside tolerance window"
	case shared.MatchStatusFeeMismatch:
		return "bank fee differs from PG fee beyond tolerance"
	case shared.MatchStatusDuplicate:
		return "multiple bank records claim the same PG transaction"
	case shared.MatchStatusUnmatchedPG:
		return "PG transaction has no bank counterpart"
	case shared.MatchStatusUnmatchedBank:
		return "bank record has no PG counterpart"
	case shared.MatchStatusBankFileAwaited:
		return "bank file for the cycle has not been received"
	default:
		return string(r.Status)
	}
}

func (e *Exception) touch() {
	e.UpdatedAt = time.Now().UTC()
	e.Version++
}

// Assign sets the assignee. Allowed in any non-terminal state; does not
// change status. Assigning the current assignee is a no-op (idempotent for
// rule application).
func (e *Exception) Assign(userID string) (bool, error) {
	if e.Status.IsTerminal() {
		return false, ErrTransitionNotAllowed{Status: e.Status, Action: "assign"}
	}
	if e.AssignedTo == userID {
		return false, nil
	}
	e.AssignedTo = userID
	e.touch()
	return true, nil
}

// Investigate moves OPEN -> INVESTIGATING
func (e *Exception) Investigate() error {
	if e.Status != shared.ExceptionStatusOpen {
		return ErrTransitionNotAllowed{Status: e.Status, Action: "investigate"}
	}
	e.Status = shared.ExceptionStatusInvestigating
	e.touch()
	return nil
}

// Snooze parks an OPEN or INVESTIGATING exception until the given time;
// expiry auto-reopens it
func (e *Exception) Snooze(until time.Time) error {
	if e.Status != shared.ExceptionStatusOpen && e.Status != shared.ExceptionStatusInvestigating {
		return ErrTransitionNotAllowed{Status: e.Status, Action: "snooze"}
	}
	if !until.After(time.Now()) {
		return fmt.Errorf("snooze until must be in the future")
	}
	e.Status = shared.ExceptionStatusSnoozed
	u := until.UTC()
	e.SnoozeUntil = &u
	e.touch()
	return nil
}

// Reopen returns an expired snooze to OPEN
func (e *Exception) Reopen() error {
	if e.Status != shared.ExceptionStatusSnoozed {
		return ErrTransitionNotAllowed{Status: e.Status, Action: "reopen"}
	}
	e.Status = shared.ExceptionStatusOpen
	e.SnoozeUntil = nil
	e.touch()
	return nil
}

// Resolve closes the exception with an operator decision. WRITE_OFF lands in
// WONT_FIX, MARK_INVESTIGATE routes to INVESTIGATING instead of closing,
// everything else lands in RESOLVED. Resolution is recorded exactly once.
// Marking an already-investigating exception is a no-op and reports false,
// so callers never record the same transition twice.
func (e *Exception) Resolve(action shared.ResolveAction, note, actor string) (bool, error) {
	if e.Status.IsTerminal() {
		return false, ErrTransitionNotAllowed{Status: e.Status, Action: "resolve"}
	}
	if action == shared.ResolveActionMarkInvestigate {
		if e.Status == shared.ExceptionStatusInvestigating {
			return false, nil
		}
		e.Status = shared.ExceptionStatusInvestigating
		e.touch()
		return true, nil
	}
	if action == shared.ResolveActionWriteOff {
		e.Status = shared.ExceptionStatusWontFix
	} else {
		e.Status = shared.ExceptionStatusResolved
	}
	e.Resolution = &Resolution{
		Action:     action,
		Note:       note,
		ResolvedBy: actor,
		ResolvedAt: time.Now().UTC(),
	}
	e.SnoozeUntil = nil
	e.touch()
	return true, nil
}

// Escalate moves any non-terminal state to ESCALATED. Escalating an already
// escalated exception is a no-op.
func (e *Exception) Escalate() (bool, error) {
	if e.Status.IsTerminal() {
		return false, ErrTransitionNotAllowed{Status: e.Status, Action: "escalate"}
	}
	if e.Status == shared.ExceptionStatusEscalated {
		return false, nil
	}
	e.Status = shared.ExceptionStatusEscalated
	e.touch()
	return true, nil
}

// AddTag appends a tag if absent; returns whether anything changed
func (e *Exception) AddTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return false
		}
	}
	e.Tags = append(e.Tags, tag)
	e.touch()
	return true
}

// SetSeverity changes severity; returns whether anything changed
func (e *Exception) SetSeverity(s shared.Severity) bool {
	if e.Severity == s {
		return false
	}
	e.Severity = s
	e.touch()
	return true
}

// AgeHours is the exception's age used by rule scope predicates
func (e *Exception) AgeHours(now time.Time) float64 {
	return now.Sub(e.CreatedAt).Hours()
}
