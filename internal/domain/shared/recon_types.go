package shared

// SourceSide identifies which settlement source a record came from
type SourceSide string

const (
	SourceSidePG   SourceSide = "PG"
	SourceSideBank SourceSide = "BANK"
)

// JobStatus defines reconciliation job lifecycle states.
// Transitions are monotonic: QUEUED -> RUNNING -> MATCHING -> {COMPLETED, FAILED}.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusMatching  JobStatus = "MATCHING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// IsTerminal reports whether no further job transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// MatchStatus is the classification assigned to every record that enters matching.
// This is the single canonical representation, used both internally and on the wire.
type MatchStatus string

const (
	MatchStatusMatched         MatchStatus = "MATCHED"
	MatchStatusUnmatchedPG     MatchStatus = "UNMATCHED_PG"
	MatchStatusUnmatchedBank   MatchStatus = "UNMATCHED_BANK"
	MatchStatusAmountMismatch  MatchStatus = "AMOUNT_MISMATCH"
	MatchStatusDateMismatch    MatchStatus = "DATE_MISMATCH"
	MatchStatusFeeMismatch     MatchStatus = "FEE_MISMATCH"
	MatchStatusDuplicate       MatchStatus = "DUPLICATE"
	MatchStatusBankFileAwaited MatchStatus = "BANK_FILE_AWAITED"
)

// MatchStatuses lists every valid classification, in summary display order
var MatchStatuses = []MatchStatus{
	MatchStatusMatched,
	MatchStatusUnmatchedPG,
	MatchStatusUnmatchedBank,
	MatchStatusAmountMismatch,
	MatchStatusDateMismatch,
	MatchStatusFeeMismatch,
	MatchStatusDuplicate,
	MatchStatusBankFileAwaited,
}

// IsException reports whether the classification is one of the exception
// sub-types counted under the exceptions bucket of the job counters.
// Unmatched records have their own buckets and are excluded here so the
// buckets partition the result total.
func (s MatchStatus) IsException() bool {
	switch s {
	case MatchStatusAmountMismatch, MatchStatusDateMismatch, MatchStatusFeeMismatch,
		MatchStatusDuplicate, MatchStatusBankFileAwaited:
		return true
	}
	return false
}

// NeedsReview reports whether the classification requires human action and
// therefore spawns an Exception record. Every non-matched record does,
// including the unmatched ones that sit outside the exceptions counter.
func (s MatchStatus) NeedsReview() bool {
	return s != MatchStatusMatched
}

// ParseMatchStatus validates a wire value against the closed enumeration.
// Conversion from untrusted input happens only at the API edge.
func ParseMatchStatus(v string) (MatchStatus, bool) {
	for _, s := range MatchStatuses {
		if string(s) == v {
			return s, true
		}
	}
	return "", false
}

// ExceptionStatus defines exception lifecycle states.
// RESOLVED and WONT_FIX are terminal.
type ExceptionStatus string

const (
	ExceptionStatusOpen          ExceptionStatus = "OPEN"
	ExceptionStatusInvestigating ExceptionStatus = "INVESTIGATING"
	ExceptionStatusSnoozed       ExceptionStatus = "SNOOZED"
	ExceptionStatusResolved      ExceptionStatus = "RESOLVED"
	ExceptionStatusEscalated     ExceptionStatus = "ESCALATED"
	ExceptionStatusWontFix       ExceptionStatus = "WONT_FIX"
)

// IsTerminal reports whether no further exception transitions are allowed
func (s ExceptionStatus) IsTerminal() bool {
	return s == ExceptionStatusResolved || s == ExceptionStatusWontFix
}

// ParseExceptionStatus validates a wire value against the closed enumeration
func ParseExceptionStatus(v string) (ExceptionStatus, bool) {
	switch ExceptionStatus(v) {
	case ExceptionStatusOpen, ExceptionStatusInvestigating, ExceptionStatusSnoozed,
		ExceptionStatusResolved, ExceptionStatusEscalated, ExceptionStatusWontFix:
		return ExceptionStatus(v), true
	}
	return "", false
}

// Severity ranks how urgently an exception needs attention
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity validates a wire value against the closed enumeration
func ParseSeverity(v string) (Severity, bool) {
	switch Severity(v) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(v), true
	}
	return "", false
}

// ResolveAction is the operator decision recorded when resolving an exception
type ResolveAction string

const (
	ResolveActionAcceptPG        ResolveAction = "ACCEPT_PG"
	ResolveActionAcceptBank      ResolveAction = "ACCEPT_BANK"
	ResolveActionMarkInvestigate ResolveAction = "MARK_INVESTIGATE"
	ResolveActionWriteOff        ResolveAction = "WRITE_OFF"
)

// ParseResolveAction validates a wire value against the closed enumeration
func ParseResolveAction(v string) (ResolveAction, bool) {
	switch ResolveAction(v) {
	case ResolveActionAcceptPG, ResolveActionAcceptBank,
		ResolveActionMarkInvestigate, ResolveActionWriteOff:
		return ResolveAction(v), true
	}
	return "", false
}

// JobErrorCode categorizes job-level failures surfaced to clients
type JobErrorCode string

const (
	JobErrorTemplateMissing   JobErrorCode = "TEMPLATE_MISSING"
	JobErrorSourceUnavailable JobErrorCode = "SOURCE_UNAVAILABLE"
	JobErrorCancelled         JobErrorCode = "CANCELLED"
	JobErrorInternal          JobErrorCode = "INTERNAL"
)

// ActorRuleEngine attributes automated rule-driven transitions in the audit log
const ActorRuleEngine = "rule_engine"

// ActorSystem attributes scheduler-driven transitions (snooze reopen, reprocess close)
const ActorSystem = "system"
