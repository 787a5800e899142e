package saga

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/port"
)

// Requester identifies who asks for an operation on an order.
type Requester struct {
	UserID  uuid.UUID
	IsAdmin bool
}

func (r Requester) canAccess(o *domain.Order) bool {
	return r.IsAdmin || o.UserID == r.UserID
}

// CancelOrder cancels an order on behalf of its owner and gives back the
// capacity its live tickets (or, while Pending, its lines) were holding.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID, requestingUserID uuid.UUID) (*domain.Order, error) {
	return o.transition(ctx, "order.cancel", orderID, Requester{UserID: requestingUserID}, false,
		func(order *domain.Order) ([]domain.LineItem, error) { return order.Cancel() })
}

// ChangeOrderStatus is the administrative status switch. reference is used
// only when confirming a Pending order by hand.
// Owners may only cancel; every other target needs an admin.
func (o *Orchestrator) ChangeOrderStatus(ctx context.Context, orderID uuid.UUID, target domain.OrderStatus, who Requester, reference string) (*domain.Order, error) {
	if !who.IsAdmin && target != domain.OrderCancelled {
		return nil, domain.Forbiddenf("only admins may move order %s to %s", orderID, target)
	}
	return o.transition(ctx, "order.change_status", orderID, who, target == domain.OrderPaymentConfirmed,
		func(order *domain.Order) ([]domain.LineItem, error) { return order.ChangeStatus(target, reference) })
}

func (o *Orchestrator) transition(
	ctx context.Context,
	action string,
	orderID uuid.UUID,
	who Requester,
	draft bool,
	apply func(*domain.Order) ([]domain.LineItem, error),
) (*domain.Order, error) {
	ctx, span := o.tracer.Start(ctx, "saga."+action)
	defer span.End()

	var (
		result   *domain.Order
		from     domain.OrderStatus
		released []*domain.Performance
	)
	err := o.inTx(ctx, func(ctx context.Context, tx port.Tx) error {
		released = nil
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !who.canAccess(order) {
			return domain.Forbiddenf("user %s may not change order %s", who.UserID, orderID)
		}
		from = order.Status

		stored := make(map[uuid.UUID]struct{}, len(order.Tickets))
		for _, t := range order.Tickets {
			stored[t.ID] = struct{}{}
		}
		if draft {
			order.DraftTickets()
		}

		items, err := apply(order)
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, order, from); err != nil {
			return err
		}

		var fresh, changed []*domain.Ticket
		for _, t := range order.Tickets {
			if _, ok := stored[t.ID]; ok {
				changed = append(changed, t)
			} else {
				fresh = append(fresh, t)
			}
		}
		if len(fresh) > 0 {
			if err := tx.InsertTickets(ctx, fresh); err != nil {
				return err
			}
		}
		if len(changed) > 0 {
			if err := tx.UpdateTickets(ctx, changed); err != nil {
				return err
			}
		}

		for _, it := range items {
			p, err := tx.ReleaseCapacity(ctx, it.PerformanceID, it.Quantity)
			if err != nil {
				return err
			}
			released = append(released, p)
		}
		result = order
		return orderEvent(ctx, tx, order)
	})
	log := o.log.WithFields(map[string]interface{}{"order_id": orderID, "user_id": who.UserID, "action": action})
	if err != nil {
		if domain.IsBookkeeping(err) {
			log.WithError(err).WithField("fatal_inconsistency", true).Error("order transition hit a ledger fault")
		}
		span.RecordError(err)
		return nil, err
	}

	o.refreshCache(ctx, released...)
	log.WithFields(map[string]interface{}{"from": from.String(), "to": result.Status.String()}).Info("order status changed")
	o.record(ctx, action, result.ID, result.UserID, result.Status.String(), map[string]interface{}{
		"from":     from.String(),
		"released": len(released),
	})
	return result, nil
}

// UseTicket checks a paid ticket in at the venue.
func (o *Orchestrator) UseTicket(ctx context.Context, ticketID uuid.UUID) (*domain.Ticket, error) {
	var ticket *domain.Ticket
	err := o.inTx(ctx, func(ctx context.Context, tx port.Tx) error {
		t, err := tx.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := t.MarkUsed(); err != nil {
			return err
		}
		ticket = t
		return tx.UpdateTickets(ctx, []*domain.Ticket{t})
	})
	if err != nil {
		return nil, err
	}
	o.log.WithFields(map[string]interface{}{"ticket_id": ticketID, "order_id": ticket.OrderID}).Info("ticket used")
	return ticket, nil
}

func (o *Orchestrator) GetOrder(ctx context.Context, orderID uuid.UUID, who Requester) (*domain.Order, error) {
	var order *domain.Order
	err := o.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !who.canAccess(order) {
		return nil, domain.Forbiddenf("user %s may not read order %s", who.UserID, orderID)
	}
	return order, nil
}

func (o *Orchestrator) ListOrders(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := o.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		orders, err = tx.ListOrdersByUser(ctx, userID)
		return err
	})
	return orders, err
}

// VerifyPayment asks the gateway for the current state of the payment
// recorded on a confirmed order.
func (o *Orchestrator) VerifyPayment(ctx context.Context, orderID uuid.UUID, who Requester) (port.PaymentResult, error) {
	order, err := o.GetOrder(ctx, orderID, who)
	if err != nil {
		return port.PaymentResult{}, err
	}
	if order.PaymentReference == nil {
		return port.PaymentResult{}, errors.Mark(
			errors.Newf("order %s has no payment reference", orderID), domain.ErrNotFound)
	}
	return o.payments.GetPayment(ctx, *order.PaymentReference)
}
