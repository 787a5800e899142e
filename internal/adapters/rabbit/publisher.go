package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/port"
)

const Exchange = "tickets.events"

// Publisher sends outbox events to a topic exchange with publisher
// confirms, so a nil error means the broker took the message.
type Publisher struct {
	ch *amqp.Channel
}

var _ port.EventPublisher = (*Publisher)(nil)

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, e domain.OutboxEvent) error {
	msg := amqp.Publishing{
		MessageId:    e.ID.String(),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.CreatedAt,
		Type:         e.EventType,
		Headers:      amqp.Table{"aggregate_id": e.AggregateID.String()},
		Body:         e.Payload,
	}
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, Exchange, e.EventType, false, false, msg)
	if err != nil {
		return errors.Wrapf(err, "publish %s", e.EventType)
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "confirm %s", e.EventType)
	}
	if !ok {
		return errors.Newf("broker nacked %s", e.ID)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
