package port

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
)

// Store opens units of work. fn runs inside one transaction; returning an
// error rolls everything back.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the unit of work handed to fn by Store.WithTx.
type Tx interface {
	UserExists(ctx context.Context, userID uuid.UUID) (bool, error)
	InsertUser(ctx context.Context, userID uuid.UUID) error

	GetPerformance(ctx context.Context, id uuid.UUID) (*domain.Performance, error)
	// LockPerformance reads the row and keeps it locked until the end of the transaction.
	LockPerformance(ctx context.Context, id uuid.UUID) (*domain.Performance, error)
	InsertPerformance(ctx context.Context, p *domain.Performance) error
	UpdatePerformance(ctx context.Context, p *domain.Performance) error
	ListPerformancesToComplete(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)

	// ReserveCapacity is the atomic decrement-if-available. It returns the
	// performance as it is after the decrement, or the typed refusal.
	ReserveCapacity(ctx context.Context, id uuid.UUID, quantity int) (*domain.Performance, error)
	// ReleaseCapacity gives units back without ever exceeding capacity.
	ReleaseCapacity(ctx context.Context, id uuid.UUID, quantity int) (*domain.Performance, error)

	// InsertOrder persists the order with its lines. Tickets are not written.
	InsertOrder(ctx context.Context, o *domain.Order) error
	// UpdateOrder writes status, reference and timestamp only if the stored
	// status still equals expected, otherwise domain.ErrConflict.
	UpdateOrder(ctx context.Context, o *domain.Order, expected domain.OrderStatus) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)
	ListStalePendingOrders(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)

	InsertTickets(ctx context.Context, tickets []*domain.Ticket) error
	UpdateTickets(ctx context.Context, tickets []*domain.Ticket) error
	GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)

	InsertOutbox(ctx context.Context, e domain.OutboxEvent) error
	// ClaimOutbox returns unpublished events and keeps them locked so
	// concurrent relays skip them.
	ClaimOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}
