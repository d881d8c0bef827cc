// Package job owns the reconciliation job aggregate: its monotonic lifecycle,
// append-only counters, and structured failure info. Each job is an
// independently constructed aggregate; there is no process-wide job state.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// SourceType distinguishes operator-triggered runs from connector-triggered runs
type SourceType string

const (
	SourceTypeManual    SourceType = "MANUAL"
	SourceTypeConnector SourceType = "CONNECTOR"
)

// Counters accumulate monotonically as batches of results are produced.
// They are write-once-per-row and never decremented.
type Counters struct {
	PGFetched     int64 `json:"pg_fetched"`
	BankFetched   int64 `json:"bank_fetched"`
	Normalized    int64 `json:"normalized"`
	Rejected      int64 `json:"rejected"` // rows excluded by validation, counted, never silently dropped
	Matched       int64 `json:"matched"`
	UnmatchedPG   int64 `json:"unmatched_pg"`
	UnmatchedBank int64 `json:"unmatched_bank"`
	Exceptions    int64 `json:"exceptions"`
}

// ResultTotal is the number of result rows the counters account for
func (c Counters) ResultTotal() int64 {
	return c.Matched + c.UnmatchedPG + c.UnmatchedBank + c.Exceptions
}

// Error is the structured, user-safe failure attached to a FAILED job.
// Hint is actionable and distinct from internal diagnostics.
type Error struct {
	Code    shared.JobErrorCode `json:"code"`
	Message string              `json:"message"`
	Hint    string              `json:"hint,omitempty"`
}

// ReconJob tracks one reconciliation run scoped to a cycle date
type ReconJob struct {
	ID         uuid.UUID        `json:"id"`
	CycleDate  string           `json:"cycle_date"` // YYYY-MM-DD
	MerchantID string           `json:"merchant_id,omitempty"`
	AcquirerID string           `json:"acquirer_id,omitempty"`
	SourceType SourceType       `json:"source_type"`
	Status     shared.JobStatus `json:"status"`
	Counters   Counters         `json:"counters"`
	// Finalized distinguishes a persisted job from an ephemeral dry-run
	// preview. Previews compute the same aggregation but never create
	// exceptions or publish events.
	Finalized  bool       `json:"finalized"`
	Error      *Error     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewJob creates a job in QUEUED
func NewJob(cycleDate, merchantID, acquirerID string, sourceType SourceType, finalized bool) *ReconJob {
	return &ReconJob{
		ID:         uuid.New(),
		CycleDate:  cycleDate,
		MerchantID: merchantID,
		AcquirerID: acquirerID,
		SourceType: sourceType,
		Status:     shared.JobStatusQueued,
		Finalized:  finalized,
		CreatedAt:  time.Now().UTC(),
	}
}

// transitions is the closed table of allowed forward moves
var transitions = map[shared.JobStatus][]shared.JobStatus{
	shared.JobStatusQueued:   {shared.JobStatusRunning, shared.JobStatusFailed},
	shared.JobStatusRunning:  {shared.JobStatusMatching, shared.JobStatusFailed},
	shared.JobStatusMatching: {shared.JobStatusCompleted, shared.JobStatusFailed},
}

// ErrInvalidTransition indicates an attempted backward or skipped lifecycle move
type ErrInvalidTransition struct {
	From, To shared.JobStatus
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid job transition %s -> %s", e.From, e.To)
}

func (j *ReconJob) transition(to shared.JobStatus) error {
	for _, allowed := range transitions[j.Status] {
		if allowed == to {
			j.Status = to
			return nil
		}
	}
	return ErrInvalidTransition{From: j.Status, To: to}
}

// Start moves QUEUED -> RUNNING; RUNNING covers normalization
func (j *ReconJob) Start() error {
	if err := j.transition(shared.JobStatusRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.StartedAt = &now
	return nil
}

// BeginMatching moves RUNNING -> MATCHING
func (j *ReconJob) BeginMatching() error {
	return j.transition(shared.JobStatusMatching)
}

// Complete moves MATCHING -> COMPLETED
func (j *ReconJob) Complete() error {
	if err := j.transition(shared.JobStatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.FinishedAt = &now
	return nil
}

// Fail moves any non-terminal state -> FAILED, retaining partial counters
func (j *ReconJob) Fail(code shared.JobErrorCode, message, hint string) error {
	if err := j.transition(shared.JobStatusFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.FinishedAt = &now
	j.Error = &Error{Code: code, Message: message, Hint: hint}
	return nil
}
