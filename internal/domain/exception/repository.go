package exception

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// Filter narrows and pages exception listings
type Filter struct {
	Statuses   []shared.ExceptionStatus
	Severities []shared.Severity
	ReasonCode *shared.MatchStatus
	AssignedTo string
	JobID      *uuid.UUID
	AfterSeq   int64
	Limit      int
}

// Repository defines exception persistence. Update enforces single-writer
// semantics per exception: the row is only written when the stored version
// equals the version the caller read, otherwise ErrVersionConflict.
type Repository interface {
	CreateBatch(ctx context.Context, excs []*Exception) error
	GetByID(ctx context.Context, id uuid.UUID) (*Exception, error)
	Update(ctx context.Context, e *Exception, expectedVersion int) error
	List(ctx context.Context, f Filter) ([]*Exception, bool, error)
	CountByStatus(ctx context.Context, f Filter) (map[shared.ExceptionStatus]int64, error)

	// ListExpiredSnoozes returns snoozed exceptions whose snooze_until has
	// passed, for the scheduler's auto-reopen pass.
	ListExpiredSnoozes(ctx context.Context, now time.Time, limit int) ([]*Exception, error)
}

// ErrExceptionNotFound indicates a missing exception
type ErrExceptionNotFound struct {
	ExceptionID uuid.UUID
}

func (e ErrExceptionNotFound) Error() string {
	return "exception not found: " + e.ExceptionID.String()
}

// Is matches any ErrExceptionNotFound when the target carries a nil id
func (e ErrExceptionNotFound) Is(target error) bool {
	t, ok := target.(ErrExceptionNotFound)
	if !ok {
		return false
	}
	return t.ExceptionID == uuid.Nil || e.ExceptionID == t.ExceptionID
}

// ErrVersionConflict indicates a concurrent mutation won the write race.
// Callers must re-fetch and retry; the losing write is never applied.
type ErrVersionConflict struct {
	ExceptionID uuid.UUID
}

func (e ErrVersionConflict) Error() string {
	return "concurrent modification detected for exception: " + e.ExceptionID.String()
}

// Is matches any ErrVersionConflict when the target carries a nil id
func (e ErrVersionConflict) Is(target error) bool {
	t, ok := target.(ErrVersionConflict)
	if !ok {
		return false
	}
	return t.ExceptionID == uuid.Nil || e.ExceptionID == t.ExceptionID
}
