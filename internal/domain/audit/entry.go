// Package audit defines the append-only history of exception mutations.
// Entries are immutable; the exception row is a projection of its latest
// entries, the entries themselves are the source of truth.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/settleline-recon-engine/internal/domain/shared"
)

// Entry records one mutating operation on an exception
type Entry struct {
	ID          uuid.UUID               `json:"id" bson:"id"`
	ExceptionID uuid.UUID               `json:"exception_id" bson:"exception_id"`
	ActorID     string                  `json:"actor_id" bson:"actor_id"`
	Action      string                  `json:"action" bson:"action"`
	Before      *shared.ExceptionStatus `json:"before,omitempty" bson:"before,omitempty"`
	After       *shared.ExceptionStatus `json:"after,omitempty" bson:"after,omitempty"`
	Note        string                  `json:"note,omitempty" bson:"note,omitempty"`
	Timestamp   time.Time               `json:"timestamp" bson:"timestamp"`
}

// NewEntry builds an immutable audit entry for a committed transition
func NewEntry(exceptionID uuid.UUID, actorID, action string, before, after shared.ExceptionStatus, note string) *Entry {
	return &Entry{
		ID:          uuid.New(),
		ExceptionID: exceptionID,
		ActorID:     actorID,
		Action:      action,
		Before:      &before,
		After:       &after,
		Note:        note,
		Timestamp:   time.Now().UTC(),
	}
}

// Repository manages append-only audit persistence
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	ListByException(ctx context.Context, exceptionID uuid.UUID, limit, offset int) ([]*Entry, error)
	CountByException(ctx context.Context, exceptionID uuid.UUID) (int64, error)
}
