package port

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "Succeeded"
	PaymentFailed    PaymentStatus = "Failed"
)

type PaymentRequest struct {
	Amount   decimal.Decimal
	Currency string
	OrderID  uuid.UUID
}

type PaymentResult struct {
	Status       PaymentStatus
	Reference    string
	ErrorMessage string
	ProcessedAt  time.Time
}

func (r PaymentResult) Succeeded() bool {
	return r.Status == PaymentSucceeded && r.Reference != ""
}

// PaymentGateway charges the customer. ProcessPayment never returns an
// error: transport problems and timeouts come back as a Failed result.
type PaymentGateway interface {
	ProcessPayment(ctx context.Context, req PaymentRequest) PaymentResult
	GetPayment(ctx context.Context, reference string) (PaymentResult, error)
}

// CompensationQueue keeps compensations that could not be applied inline.
type CompensationQueue interface {
	Push(ctx context.Context, c domain.Compensation) error
	// Pop returns nil when the queue is empty.
	Pop(ctx context.Context) (*domain.Compensation, error)
}

// AvailabilityCache holds read snapshots of performance ledgers. It is
// never consulted when reserving.
type AvailabilityCache interface {
	Put(ctx context.Context, p *domain.Performance) error
	// Get returns nil on a miss.
	Get(ctx context.Context, id uuid.UUID) (*domain.Performance, error)
}

type AuditEntry struct {
	Action    string
	OrderID   uuid.UUID
	UserID    uuid.UUID
	Outcome   string
	Details   map[string]interface{}
	Timestamp time.Time
}

type Auditor interface {
	Record(ctx context.Context, e AuditEntry) error
}

// EventPublisher relays outbox events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, e domain.OutboxEvent) error
}
