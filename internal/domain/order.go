package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order aggregates the tickets of one purchase. TotalPrice is computed once
// from the reserved lines and is a historical record from then on.
type Order struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Status           OrderStatus
	TotalPrice       decimal.Decimal
	PaymentReference *string
	Lines            []OrderLine
	Tickets          []*Ticket
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewOrder builds a Pending order from reserved lines and drafts one
// Reserved ticket per unit.
func NewOrder(userID uuid.UUID, lines []OrderLine) (*Order, error) {
	if len(lines) == 0 {
		return nil, InvalidInputf("an order needs at least one line")
	}
	now := time.Now().UTC()
	o := &Order{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    OrderPending,
		Lines:     append([]OrderLine(nil), lines...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	total := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, domainErr(ErrInvalidQuantity, "line for performance %s has quantity %d", l.PerformanceID, l.Quantity)
		}
		total = total.Add(l.Subtotal())
		for i := 0; i < l.Quantity; i++ {
			t := NewTicket(l.PerformanceID, l.UnitPrice)
			t.OrderID = o.ID
			o.Tickets = append(o.Tickets, t)
		}
	}
	o.TotalPrice = total
	return o, nil
}

// DraftTickets recreates the Reserved tickets of a Pending order loaded
// from storage, where only its lines are kept.
func (o *Order) DraftTickets() {
	if o.Status != OrderPending || len(o.Tickets) > 0 {
		return
	}
	for _, l := range o.Lines {
		for i := 0; i < l.Quantity; i++ {
			t := NewTicket(l.PerformanceID, l.UnitPrice)
			t.OrderID = o.ID
			o.Tickets = append(o.Tickets, t)
		}
	}
}

// ConfirmPayment records the gateway reference and pays every ticket.
func (o *Order) ConfirmPayment(reference string) error {
	if o.Status != OrderPending {
		return domainErr(ErrInvalidState, "order %s is %s, only PENDING orders can be confirmed", o.ID, o.Status)
	}
	if reference == "" {
		return InvalidInputf("order %s: payment reference is required", o.ID)
	}
	if len(o.Tickets) == 0 {
		return domainErr(ErrInvalidState, "order %s has no tickets", o.ID)
	}
	for _, t := range o.Tickets {
		if t.Status != TicketReserved {
			return domainErr(ErrInvalidTransition, "order %s: ticket %s is %s", o.ID, t.ID, t.Status)
		}
	}
	for _, t := range o.Tickets {
		_ = t.MarkPaid()
	}
	o.PaymentReference = &reference
	o.set(OrderPaymentConfirmed)
	return nil
}

// MarkFailed ends a Pending order after a declined or unreachable payment.
// The returned items are the capacity the order was holding.
func (o *Order) MarkFailed() ([]LineItem, error) {
	if o.Status != OrderPending {
		return nil, domainErr(ErrInvalidState, "order %s is %s, only PENDING orders can fail", o.ID, o.Status)
	}
	held := o.HeldCapacity()
	o.set(OrderPaymentFailed)
	return held, nil
}

// Cancel cascades to every live ticket and returns the capacity to release.
func (o *Order) Cancel() ([]LineItem, error) {
	switch o.Status {
	case OrderCancelled:
		return nil, domainErr(ErrAlreadyCancelled, "order %s is already cancelled", o.ID)
	case OrderPending, OrderPaymentConfirmed:
	default:
		return nil, domainErr(ErrInvalidState, "order %s is %s and cannot be cancelled", o.ID, o.Status)
	}
	return o.closeWith(OrderCancelled)
}

// Refund reverses a confirmed payment and cancels every ticket.
func (o *Order) Refund() ([]LineItem, error) {
	if o.Status != OrderPaymentConfirmed {
		return nil, domainErr(ErrInvalidState, "order %s is %s, only PAYMENT_CONFIRMED orders can be refunded", o.ID, o.Status)
	}
	return o.closeWith(OrderRefunded)
}

// ChangeStatus is the administrative switch. It accepts only the
// transitions the dedicated methods implement.
func (o *Order) ChangeStatus(target OrderStatus, reference string) ([]LineItem, error) {
	if target == o.Status || !o.Status.CanTransition(target) {
		return nil, domainErr(ErrInvalidTransition, "order %s: %s -> %s is not allowed", o.ID, o.Status, target)
	}
	switch target {
	case OrderPaymentConfirmed:
		return nil, o.ConfirmPayment(reference)
	case OrderPaymentFailed:
		return o.MarkFailed()
	case OrderCancelled:
		return o.Cancel()
	case OrderRefunded:
		return o.Refund()
	}
	return nil, domainErr(ErrInvalidTransition, "order %s: %s -> %s is not allowed", o.ID, o.Status, target)
}

// HeldCapacity is what the order currently takes out of the ledgers: its
// lines while Pending, its live tickets once confirmed. Sorted by
// performance id so row locks are always taken in the same order.
func (o *Order) HeldCapacity() []LineItem {
	counts := map[uuid.UUID]int{}
	switch o.Status {
	case OrderPending:
		for _, l := range o.Lines {
			counts[l.PerformanceID] += l.Quantity
		}
	case OrderPaymentConfirmed:
		for _, t := range o.Tickets {
			if t.Status != TicketCancelled {
				counts[t.PerformanceID]++
			}
		}
	}
	return sortedItems(counts)
}

func (o *Order) closeWith(target OrderStatus) ([]LineItem, error) {
	for _, t := range o.Tickets {
		if err := t.canCancel(); err != nil {
			return nil, err
		}
	}
	held := o.HeldCapacity()
	for _, t := range o.Tickets {
		if t.Status != TicketCancelled {
			_ = t.Cancel()
		}
	}
	o.set(target)
	return held, nil
}

func (o *Order) set(s OrderStatus) {
	o.Status = s
	o.UpdatedAt = time.Now().UTC()
}

func sortedItems(counts map[uuid.UUID]int) []LineItem {
	items := make([]LineItem, 0, len(counts))
	for id, q := range counts {
		if q > 0 {
			items = append(items, LineItem{PerformanceID: id, Quantity: q})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].PerformanceID.String() < items[j].PerformanceID.String()
	})
	return items
}
