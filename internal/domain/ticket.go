package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ticket is one seat bound to one order and one performance. UnitPrice is
// copied from the performance at reservation time and never changes.
type Ticket struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	PerformanceID uuid.UUID
	Status        TicketStatus
	UnitPrice     decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewTicket(performanceID uuid.UUID, unitPrice decimal.Decimal) *Ticket {
	now := time.Now().UTC()
	return &Ticket{
		ID:            uuid.New(),
		PerformanceID: performanceID,
		Status:        TicketReserved,
		UnitPrice:     unitPrice,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (t *Ticket) MarkPaid() error {
	if t.Status != TicketReserved {
		return domainErr(ErrInvalidTransition, "ticket %s: cannot pay a %s ticket", t.ID, t.Status)
	}
	t.set(TicketPaid)
	return nil
}

func (t *Ticket) MarkUsed() error {
	if t.Status != TicketPaid {
		return domainErr(ErrInvalidTransition, "ticket %s: cannot use a %s ticket", t.ID, t.Status)
	}
	t.set(TicketUsed)
	return nil
}

// Cancel is terminal. A used ticket can never be cancelled.
func (t *Ticket) Cancel() error {
	switch t.Status {
	case TicketUsed:
		return domainErr(ErrCannotCancelUsedTicket, "ticket %s has been used", t.ID)
	case TicketCancelled:
		return domainErr(ErrInvalidTransition, "ticket %s is already cancelled", t.ID)
	}
	t.set(TicketCancelled)
	return nil
}

func (t *Ticket) canCancel() error {
	if t.Status == TicketUsed {
		return domainErr(ErrCannotCancelUsedTicket, "ticket %s has been used", t.ID)
	}
	return nil
}

func (t *Ticket) set(s TicketStatus) {
	t.Status = s
	t.UpdatedAt = time.Now().UTC()
}
