package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/settleline-recon-engine/internal/domain/audit"
)

const (
	// AuditCollectionName is the name of the audit trail collection in MongoDB
	AuditCollectionName = "exception_audit"
)

// AuditRepository implements the audit.Repository interface for MongoDB.
// Entries are append-only; there is no update or delete path.
type AuditRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewAuditRepository creates a new MongoDB audit repository
func NewAuditRepository(logger *slog.Logger, db *mongo.Database) audit.Repository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append stores one immutable audit entry
func (r *AuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	collection := r.db.Collection(AuditCollectionName)

	_, err := collection.InsertOne(ctx, entry)
	if err != nil {
		r.logger.Error("Failed to append audit entry",
			"exception_id", entry.ExceptionID.String(),
			"action", entry.Action,
			"error", err)
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// ListByException retrieves paginated audit entries for an exception.
// Results are sorted by timestamp ascending so the history reads forward.
func (r *AuditRepository) ListByException(ctx context.Context, exceptionID uuid.UUID, limit, offset int) ([]*audit.Entry, error) {
	collection := r.db.Collection(AuditCollectionName)

	filter := bson.M{"exception_id": exceptionID}
	opts := options.Find().
		SetSort(bson.M{"timestamp": 1}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to list audit entries",
			"exception_id", exceptionID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*audit.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		r.logger.Error("Failed to decode audit entries",
			"exception_id", exceptionID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to decode audit entries: %w", err)
	}

	return entries, nil
}

// CountByException counts the audit entries recorded for an exception
func (r *AuditRepository) CountByException(ctx context.Context, exceptionID uuid.UUID) (int64, error) {
	collection := r.db.Collection(AuditCollectionName)

	filter := bson.M{"exception_id": exceptionID}
	count, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		r.logger.Error("Failed to count audit entries",
			"exception_id", exceptionID.String(),
			"error", err)
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	return count, nil
}
