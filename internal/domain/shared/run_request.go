package shared

import (
	"time"

	"github.com/google/uuid"
)

// RunRequest defines a Kafka message asking the worker to execute a recon job.
// The job row is created by the API before publishing; the worker claims it
// by transitioning QUEUED -> RUNNING.
type RunRequest struct {
	JobID         uuid.UUID `json:"job_id"`
	CycleDate     string    `json:"cycle_date"` // YYYY-MM-DD settlement date the job is scoped to
	MerchantID    string    `json:"merchant_id,omitempty"`
	AcquirerID    string    `json:"acquirer_id,omitempty"`
	DryRun        bool      `json:"dry_run"`
	Limit         int       `json:"limit,omitempty"` // cap on rows per side, 0 means no cap
	CorrelationID string    `json:"correlation_id"`
	RequestedAt   time.Time `json:"requested_at"`
}

// ChangeEvent is the client-facing invalidation signal published after a job
// or exception mutation commits. Delivery is at-least-once and lossy under
// broker failure; consumers must treat snapshot reads as the source of truth.
type ChangeEvent struct {
	Event      string    `json:"event"` // job.updated | exception.updated
	ID         uuid.UUID `json:"id"`
	JobID      uuid.UUID `json:"job_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

const (
	EventJobUpdated       = "job.updated"
	EventExceptionUpdated = "exception.updated"
)
