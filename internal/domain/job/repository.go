package job

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines job persistence operations
type Repository interface {
	Create(ctx context.Context, j *ReconJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*ReconJob, error)

	// FindActive returns a non-failed finalized job for the idempotency key
	// (cycleDate, merchantID, acquirerID), or nil when none exists.
	FindActive(ctx context.Context, cycleDate, merchantID, acquirerID string) (*ReconJob, error)

	// UpdateStatus persists a lifecycle transition together with the
	// counters accumulated so far and any structured error.
	UpdateStatus(ctx context.Context, j *ReconJob) error

	// AddCounters applies a monotonic counter increment
	AddCounters(ctx context.Context, id uuid.UUID, delta Counters) error
}

// ErrJobNotFound indicates a missing job
type ErrJobNotFound struct {
	JobID uuid.UUID
}

func (e ErrJobNotFound) Error() string {
	return "recon job not found: " + e.JobID.String()
}

// Is matches any ErrJobNotFound when the target carries a nil id
func (e ErrJobNotFound) Is(target error) bool {
	t, ok := target.(ErrJobNotFound)
	if !ok {
		return false
	}
	return t.JobID == uuid.Nil || e.JobID == t.JobID
}
