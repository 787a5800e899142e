package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/port"
)

// Publisher relays outbox rows to the broker. Delivery is at least once:
// consumers dedupe on the message id, which is the outbox row id.
type Publisher struct {
	store     port.Store
	broker    port.EventPublisher
	log       observability.Logger
	interval  time.Duration
	batchSize int
	retries   uint
}

func NewPublisher(store port.Store, broker port.EventPublisher, log observability.Logger, interval time.Duration) *Publisher {
	return &Publisher{
		store:     store,
		broker:    broker,
		log:       log,
		interval:  interval,
		batchSize: 50,
		retries:   3,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PublishBatch(ctx)
			if err != nil {
				p.log.WithError(err).Error("outbox relay failed")
				continue
			}
			if n > 0 {
				p.log.WithField("published", n).Debug("outbox batch relayed")
			}
		}
	}
}

// PublishBatch claims one batch, publishes it in order and marks what went
// out. Rows after the first failure stay NEW for the next round.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	var published []uuid.UUID
	err := p.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		published = published[:0]
		events, err := tx.ClaimOutbox(ctx, p.batchSize)
		if err != nil {
			return err
		}
		var publishErr error
		for _, e := range events {
			if err := p.publish(ctx, e); err != nil {
				publishErr = err
				break
			}
			published = append(published, e.ID)
			observability.OutboxLag.Set(time.Since(e.CreatedAt).Seconds())
		}
		if err := tx.MarkOutboxPublished(ctx, published, time.Now().UTC()); err != nil {
			return err
		}
		if publishErr != nil {
			p.log.WithError(publishErr).WithField("published", len(published)).Warn("outbox batch stopped early")
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "relay outbox")
	}
	return len(published), nil
}

func (p *Publisher) publish(ctx context.Context, e domain.OutboxEvent) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if attempt > 0 {
			observability.RabbitPublishRetries.Inc()
		}
		attempt++
		return struct{}{}, p.broker.Publish(ctx, e)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(p.retries))
	return err
}
