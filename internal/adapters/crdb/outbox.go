package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
)

func (t *Tx) InsertOutbox(ctx context.Context, e domain.OutboxEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, e.ID, e.AggregateType, e.AggregateID, e.EventType, e.Payload, e.CreatedAt)
	return errors.Wrapf(err, "insert outbox event %s", e.EventType)
}

func (t *Tx) ClaimOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claim outbox")
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (t *Tx) MarkOutboxPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = ANY($1)
	`, ids, at)
	return errors.Wrap(err, "mark outbox published")
}
