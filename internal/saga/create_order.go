package saga

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CreateOrder reserves capacity for every item, records a Pending order,
// charges the customer and then either confirms the order with its tickets
// or fails it and gives the capacity back.
//
// Once capacity is reserved the caller's cancellation is ignored: the order
// always reaches PAYMENT_CONFIRMED or PAYMENT_FAILED before this returns.
func (o *Orchestrator) CreateOrder(ctx context.Context, userID uuid.UUID, items []domain.LineItem) (*domain.Order, error) {
	ctx, span := o.tracer.Start(ctx, "saga.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID.String()), attribute.Int("items", len(items)))

	order, err := o.createOrder(ctx, userID, items)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.SagaOutcomes.WithLabelValues(outcomeOf(err)).Inc()
		return nil, err
	}
	observability.SagaOutcomes.WithLabelValues("confirmed").Inc()
	return order, nil
}

func (o *Orchestrator) createOrder(ctx context.Context, userID uuid.UUID, items []domain.LineItem) (*domain.Order, error) {
	log := o.log.WithField("user_id", userID)

	if err := domain.ValidateItems(items); err != nil {
		return nil, err
	}

	err := o.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		ok, err := tx.UserExists(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundf("user %s not found", userID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	work := context.WithoutCancel(ctx)

	reservations, err := o.reserveAll(ctx, work, items)
	if err != nil {
		log.WithError(err).Info("reservation refused")
		return nil, err
	}

	order, held, err := o.openOrder(work, userID, reservations, log)
	if err != nil {
		return nil, err
	}
	log = log.WithField("order_id", order.ID)
	log.WithField("total_price", order.TotalPrice.StringFixed(2)).Info("order pending, charging")

	return o.settle(work, order, held, log)
}

// openOrder builds and stores the Pending order for the reserved items.
// Whatever goes wrong here, panics included, the reservations are given back
// before control leaves this function.
func (o *Orchestrator) openOrder(ctx context.Context, userID uuid.UUID, reservations []domain.Reservation, log observability.Logger) (*domain.Order, []domain.LineItem, error) {
	lines := make([]domain.OrderLine, 0, len(reservations))
	held := make([]domain.LineItem, 0, len(reservations))
	for _, r := range reservations {
		lines = append(lines, r.Line())
		held = append(held, r.Item())
	}

	var order *domain.Order
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("saga panicked before payment, releasing reservations")
			if order == nil {
				o.releaseItems(ctx, held, "saga panicked")
			} else {
				o.compensateOrderWithRetry(ctx, order.ID, held, "saga panicked")
			}
			panic(r)
		}
	}()

	order, err := domain.NewOrder(userID, lines)
	if err != nil {
		o.releaseItems(ctx, held, "order could not be built")
		return nil, nil, err
	}
	if err := o.persistPending(ctx, order); err != nil {
		log.WithError(err).WithField("order_id", order.ID).Error("persisting pending order failed, releasing reservations")
		o.compensateOrderWithRetry(ctx, order.ID, held, "pending order not persisted")
		return nil, nil, errors.Wrap(err, "persist order")
	}
	return order, held, nil
}

// settle runs the payment stage of a persisted Pending order.
func (o *Orchestrator) settle(ctx context.Context, order *domain.Order, held []domain.LineItem, log observability.Logger) (*domain.Order, error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("saga panicked after the order was stored, compensating")
			o.compensateOrderWithRetry(ctx, order.ID, held, "saga panicked")
			panic(r)
		}
	}()

	payment := o.charge(ctx, order)
	if !payment.Succeeded() {
		reason := payment.ErrorMessage
		if reason == "" {
			reason = "payment declined"
		}
		log.WithField("reason", reason).Warn("payment failed, compensating")
		o.compensateOrderWithRetry(ctx, order.ID, held, reason)
		o.record(ctx, "order.create", order.ID, order.UserID, "payment_failed", map[string]interface{}{"reason": reason})
		return nil, domain.NewPaymentFailed(order.ID, reason)
	}

	log = log.WithField("payment_reference", payment.Reference)
	if err := o.confirm(ctx, order, payment.Reference); err != nil {
		log.WithError(err).WithField("fatal_inconsistency", true).
			Error("payment captured but order could not be confirmed, refund required")
		o.compensateOrderWithRetry(ctx, order.ID, held, "confirmation failed after payment "+payment.Reference)
		o.record(ctx, "order.create", order.ID, order.UserID, "refund_required", map[string]interface{}{
			"payment_reference": payment.Reference,
			"error":             err.Error(),
		})
		return nil, errors.Mark(errors.Wrapf(err, "order %s paid with %s but not confirmed", order.ID, payment.Reference),
			domain.ErrBookkeeping)
	}

	log.Info("order confirmed")
	o.record(ctx, "order.create", order.ID, order.UserID, "confirmed", map[string]interface{}{
		"payment_reference": payment.Reference,
		"total_price":       order.TotalPrice.StringFixed(2),
		"tickets":           len(order.Tickets),
	})
	return order, nil
}

func (o *Orchestrator) reserveAll(ctx, work context.Context, items []domain.LineItem) ([]domain.Reservation, error) {
	ctx, span := o.tracer.Start(ctx, "saga.reserve")
	defer span.End()

	taken := make([]domain.Reservation, 0, len(items))
	undo := func(reason string) {
		held := make([]domain.LineItem, 0, len(taken))
		for _, r := range taken {
			held = append(held, r.Item())
		}
		o.releaseItems(work, held, reason)
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.WithField("panic", fmt.Sprint(r)).Error("saga panicked during reservation, releasing what was taken")
			undo("saga panicked")
			panic(r)
		}
	}()

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			undo("caller went away during reservation")
			return nil, errors.Wrap(err, "reserve")
		}
		p, err := o.reserveOne(work, it)
		if err != nil {
			observability.ReservationRejections.WithLabelValues(rejectionReason(err)).Inc()
			span.RecordError(err)
			undo("reservation refused")
			return nil, err
		}
		taken = append(taken, domain.Reservation{PerformanceID: p.ID, Quantity: it.Quantity, UnitPrice: p.UnitPrice})
		o.refreshCache(work, p)
	}
	return taken, nil
}

func (o *Orchestrator) reserveOne(ctx context.Context, it domain.LineItem) (*domain.Performance, error) {
	var p *domain.Performance
	err := o.inTx(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		p, err = tx.ReserveCapacity(ctx, it.PerformanceID, it.Quantity)
		return err
	})
	return p, err
}

func (o *Orchestrator) persistPending(ctx context.Context, order *domain.Order) error {
	ctx, span := o.tracer.Start(ctx, "saga.persist_order")
	defer span.End()
	return o.inTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.InsertOrder(ctx, order)
	})
}

func (o *Orchestrator) charge(ctx context.Context, order *domain.Order) port.PaymentResult {
	ctx, span := o.tracer.Start(ctx, "saga.payment")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.PaymentTimeout)
	defer cancel()

	res := o.payments.ProcessPayment(ctx, port.PaymentRequest{
		Amount:   order.TotalPrice,
		Currency: o.cfg.Currency,
		OrderID:  order.ID,
	})
	span.SetAttributes(attribute.String("payment.status", string(res.Status)))
	return res
}

// confirm stores the paid order, its tickets and the outbox event together.
// Only transient store failures are retried; a status conflict means the
// order was finalised elsewhere and is returned as is.
func (o *Orchestrator) confirm(ctx context.Context, order *domain.Order, reference string) error {
	ctx, span := o.tracer.Start(ctx, "saga.confirm")
	defer span.End()

	if err := order.ConfirmPayment(reference); err != nil {
		return err
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := o.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
			if err := tx.UpdateOrder(ctx, order, domain.OrderPending); err != nil {
				return err
			}
			if err := tx.InsertTickets(ctx, order.Tickets); err != nil {
				return err
			}
			return orderEvent(ctx, tx, order)
		})
		if err != nil && (isFinal(err) || errors.Is(err, domain.ErrConflict)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(o.newBackOff()), backoff.WithMaxTries(o.cfg.CompensationRetries))
	return err
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientCapacity):
		return "insufficient_capacity"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrPaymentFailed):
		return "payment_failed"
	case errors.Is(err, domain.ErrBookkeeping):
		return "inconsistent"
	case errors.IsAny(err, domain.ErrDomain, domain.ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}
