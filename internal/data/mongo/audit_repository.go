// Package mongo provides the MongoDB implementation of the audit trail.
package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/audit"
)

const (
	// AuditCollectionName is the name of the audit trail collection in MongoDB
	AuditCollectionName = "audit_events"
)

// AuditRepository implements the audit.Repository interface for MongoDB
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

// Record stores one audit event. Callers treat failures as best-effort and
// must not fail the guarded operation on a write error here.
func (r *AuditRepository) Record(ctx context.Context, event *audit.Event) error {
	collection := r.db.Collection(AuditCollectionName)

	_, err := collection.InsertOne(ctx, event)
	if err != nil {
		r.logger.Error("Failed to record audit event",
			"kind", string(event.Kind),
			"error", err)
		return fmt.Errorf("failed to record audit event: %w", err)
	}

	return nil
}

// ListByWallet retrieves recent audit events for one wallet, newest first.
func (r *AuditRepository) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]*audit.Event, error) {
	filter := bson.M{"wallet_id": walletID}
	return r.list(ctx, filter, limit)
}

// ListRecent retrieves recent audit events of one kind, newest first.
func (r *AuditRepository) ListRecent(ctx context.Context, kind audit.Kind, limit int) ([]*audit.Event, error) {
	filter := bson.M{"kind": kind}
	return r.list(ctx, filter, limit)
}

func (r *AuditRepository) list(ctx context.Context, filter bson.M, limit int) ([]*audit.Event, error) {
	collection := r.db.Collection(AuditCollectionName)

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to list audit events", "error", err)
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*audit.Event
	if err := cursor.All(ctx, &events); err != nil {
		r.logger.Error("Failed to decode audit events", "error", err)
		return nil, fmt.Errorf("failed to decode audit events: %w", err)
	}

	return events, nil
}
