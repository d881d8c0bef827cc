// Package staging holds raw source rows landed by the connectors before
// normalization. Rows are immutable once staged; a recon run reads its
// cycle's slice and never mutates it, so reruns see identical input.
package staging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// RawRow is one unparsed source row keyed to a settlement cycle
type RawRow struct {
	ID         uuid.UUID         `json:"id"`
	Side       shared.SourceSide `json:"side"`
	CycleDate  string            `json:"cycle_date"` // YYYY-MM-DD
	MerchantID string            `json:"merchant_id,omitempty"`
	AcquirerID string            `json:"acquirer_id,omitempty"`
	Fields     map[string]string `json:"fields"` // source column -> value, as received
	FetchedAt  time.Time         `json:"fetched_at"`
}

// Query scopes a staged-row read to one cycle and side
type Query struct {
	Side       shared.SourceSide
	CycleDate  string
	MerchantID string // empty matches all merchants
	AcquirerID string // empty matches all acquirers
	Limit      int    // 0 means no cap
}

// Repository persists staged rows. CreateBatch tolerates re-fetch of the
// same cycle: rows are keyed by (side, cycle_date, row content hash) and
// duplicate inserts are ignored.
type Repository interface {
	CreateBatch(ctx context.Context, rows []*RawRow) error
	List(ctx context.Context, q Query) ([]*RawRow, error)
	Count(ctx context.Context, q Query) (int64, error)
}
