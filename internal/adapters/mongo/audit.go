package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/port"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditLogger appends saga and order outcomes to the audit_logs collection.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

var _ port.Auditor = (*AuditLogger)(nil)

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	OrderID   string    `bson:"order_id"`
	UserID    string    `bson:"user_id"`
	Outcome   string    `bson:"outcome"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data,omitempty"`
}

// EnsureIndexes creates the lookup indexes used by support tooling.
func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	return err
}

func (a *AuditLogger) Record(ctx context.Context, e port.AuditEntry) error {
	log := AuditLog{
		ID:        uuid.NewString(),
		Action:    e.Action,
		OrderID:   e.OrderID.String(),
		UserID:    e.UserID.String(),
		Outcome:   e.Outcome,
		Timestamp: e.Timestamp,
		Data:      bson.M(e.Details),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithError(err).WithField("action", e.Action).Error("failed to insert audit log")
		return err
	}
	return nil
}

// History returns the audit trail of one order, oldest first.
func (a *AuditLogger) History(ctx context.Context, orderID uuid.UUID) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"order_id": orderID.String()},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
