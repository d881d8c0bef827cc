// Package recon holds the canonical reconciliation records: normalized
// transactions produced by the normalizer and classified results produced
// by the matcher. Amounts are always integer minor units (paise); floating
// point never touches money.
package recon

import (
	"errors"
	"time"

	"github.com/settleline-recon-engine/internal/domain/shared"
)

var ErrNegativeAmount = errors.New("amount must not be negative")

// NormalizedRecord is one PG or bank row after template-driven normalization
type NormalizedRecord struct {
	Side        shared.SourceSide `json:"side"`
	TxnID       string            `json:"txn_id"`
	UTR         string            `json:"utr"`
	RRN         string            `json:"rrn,omitempty"`
	AmountPaise int64             `json:"amount_paise"`
	FeePaise    *int64            `json:"fee_paise,omitempty"`
	TaxPaise    *int64            `json:"tax_paise,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
	// DateDeferred marks rows whose date column failed to parse but were
	// allowed through by template policy; OccurredAt is zero for these.
	DateDeferred bool   `json:"date_deferred,omitempty"`
	RawRef       string `json:"raw_ref"`
}

// Validate enforces record invariants after construction
func (r *NormalizedRecord) Validate() error {
	if r.AmountPaise < 0 {
		return ErrNegativeAmount
	}
	return nil
}

// Tolerances configures allowable deviation within which a near-match is
// still classified MATCHED. DateWindow is inclusive in both directions.
type Tolerances struct {
	AmountTolerancePaise int64
	DateWindow           time.Duration
}
