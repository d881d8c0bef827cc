package recon

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// Result is the classification of one input record. A matched pair is stored
// as one joined row carrying both sides; every read path (summary, results
// list) counts joined rows, never the pair's two legs separately.
type Result struct {
	ID    uuid.UUID `json:"id"`
	Seq   int64     `json:"-"` // database-assigned, drives keyset pagination
	JobID uuid.UUID `json:"job_id"`

	Status     shared.MatchStatus `json:"status"`
	ReasonCode string             `json:"reason_code,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`

	PGTxnID string `json:"pg_txn_id,omitempty"`
	BankRef string `json:"bank_ref,omitempty"`
	UTR     string `json:"utr,omitempty"`
	RRN     string `json:"rrn,omitempty"`

	PGAmountPaise    *int64 `json:"pg_amount_paise,omitempty"`
	BankAmountPaise  *int64 `json:"bank_amount_paise,omitempty"`
	AmountDeltaPaise *int64 `json:"amount_delta_paise,omitempty"` // bank - pg, signed

	PGFeePaise     *int64 `json:"pg_fee_paise,omitempty"`
	BankFeePaise   *int64 `json:"bank_fee_paise,omitempty"`
	FeeDeltaPaise  *int64 `json:"fee_delta_paise,omitempty"`

	PGDate       *time.Time `json:"pg_date,omitempty"`
	BankDate     *time.Time `json:"bank_date,omitempty"`
	DateDeltaDays *int      `json:"date_delta_days,omitempty"` // signed, bank - pg

	CreatedAt time.Time `json:"created_at"`
}

// ResultFilter narrows and pages a job's result listing
type ResultFilter struct {
	Status   *shared.MatchStatus
	AfterSeq int64 // keyset cursor, 0 means from the beginning
	Limit    int
}

// Repository manages classified result persistence. Results are append-only
// except for the reprocess path, which may re-classify a single row.
type Repository interface {
	CreateBatch(ctx context.Context, results []*Result) error
	GetByID(ctx context.Context, id uuid.UUID) (*Result, error)
	ListByJob(ctx context.Context, jobID uuid.UUID, filter ResultFilter) ([]*Result, bool, error)
	CountByStatus(ctx context.Context, jobID uuid.UUID) (map[shared.MatchStatus]int64, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status shared.MatchStatus, reasonCode string) error
}

// ErrResultNotFound indicates a missing result row
type ErrResultNotFound struct {
	ResultID uuid.UUID
}

func (e ErrResultNotFound) Error() string {
	return "recon result not found: " + e.ResultID.String()
}

// Is matches any ErrResultNotFound when the target carries a nil id
func (e ErrResultNotFound) Is(target error) bool {
	t, ok := target.(ErrResultNotFound)
	if !ok {
		return false
	}
	return t.ResultID == uuid.Nil || e.ResultID == t.ResultID
}
