package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderLine is what one line of the order reserved and at which price.
type OrderLine struct {
	PerformanceID uuid.UUID
	Quantity      int
	UnitPrice     decimal.Decimal
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Outbox event types relayed to the message broker.
const (
	EventOrderConfirmed     = "order.confirmed"
	EventOrderPaymentFailed = "order.payment_failed"
	EventOrderCancelled     = "order.cancelled"
	EventOrderRefunded      = "order.refunded"
)

// OutboxEvent is written in the same transaction as the state change it
// describes.
type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OrderEventPayload is the body of every order.* event.
type OrderEventPayload struct {
	OrderID          uuid.UUID `json:"order_id"`
	UserID           uuid.UUID `json:"user_id"`
	Status           string    `json:"status"`
	TotalPrice       string    `json:"total_price"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	Tickets          int       `json:"tickets"`
}

// NewOrderEvent snapshots o into an outbox event.
func NewOrderEvent(eventType string, o *Order) (OutboxEvent, error) {
	p := OrderEventPayload{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     o.Status.String(),
		TotalPrice: o.TotalPrice.StringFixed(2),
		Tickets:    len(o.Tickets),
	}
	if o.PaymentReference != nil {
		p.PaymentReference = *o.PaymentReference
	}
	body, err := json.Marshal(p)
	if err != nil {
		return OutboxEvent{}, err
	}
	return OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "order",
		AggregateID:   o.ID,
		EventType:     eventType,
		Payload:       body,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// EventForStatus names the event emitted when an order enters s.
func EventForStatus(s OrderStatus) string {
	switch s {
	case OrderPaymentConfirmed:
		return EventOrderConfirmed
	case OrderPaymentFailed:
		return EventOrderPaymentFailed
	case OrderCancelled:
		return EventOrderCancelled
	case OrderRefunded:
		return EventOrderRefunded
	}
	return ""
}

// Compensation is capacity that still has to be given back. With an
// OrderID it is replayed through the order (idempotent); without one the
// items are released directly.
type Compensation struct {
	OrderID  *uuid.UUID `json:"order_id,omitempty"`
	Items    []LineItem `json:"items"`
	Reason   string     `json:"reason"`
	QueuedAt time.Time  `json:"queued_at"`
}
