package saga

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/port"
	"golang.org/x/sync/errgroup"
)

// releaseItems gives back capacity taken before any order existed. Each
// item is released in its own transaction; items that cannot be released
// after retries are queued. It returns once every item is released or queued.
func (o *Orchestrator) releaseItems(ctx context.Context, items []domain.LineItem, reason string) {
	if len(items) == 0 {
		return
	}
	ctx, span := o.tracer.Start(ctx, "saga.release_reservations")
	defer span.End()

	var (
		mu     sync.Mutex
		failed []domain.LineItem
		last   error
	)
	var g errgroup.Group
	for _, it := range items {
		g.Go(func() error {
			p, err := o.releaseOne(ctx, it)
			if domain.IsBookkeeping(err) {
				o.log.WithError(err).WithFields(map[string]interface{}{
					"fatal_inconsistency": true,
					"performance_id":      it.PerformanceID,
				}).Error("release refused by the ledger")
				return nil
			}
			if err != nil {
				mu.Lock()
				failed = append(failed, it)
				last = err
				mu.Unlock()
				return nil
			}
			o.refreshCache(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		o.escalate(ctx, domain.Compensation{Items: failed, Reason: reason}, last)
	}
}

func (o *Orchestrator) releaseOne(ctx context.Context, it domain.LineItem) (*domain.Performance, error) {
	return backoff.Retry(ctx, func() (*domain.Performance, error) {
		var p *domain.Performance
		err := o.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
			var err error
			p, err = tx.ReleaseCapacity(ctx, it.PerformanceID, it.Quantity)
			return err
		})
		if err != nil && isFinal(err) {
			return nil, backoff.Permanent(err)
		}
		return p, err
	}, backoff.WithBackOff(o.newBackOff()), backoff.WithMaxTries(o.cfg.CompensationRetries))
}

// compensateOrder fails a Pending order and releases its lines in one
// transaction. An order that already left Pending is left alone, so running
// it twice never releases twice. fallback is released when the order was
// never stored.
func (o *Orchestrator) compensateOrder(ctx context.Context, orderID uuid.UUID, fallback []domain.LineItem, reason string) (bool, error) {
	var (
		released []*domain.Performance
		applied  bool
	)
	err := o.inTx(ctx, func(ctx context.Context, tx port.Tx) error {
		released, applied = nil, false
		order, err := tx.GetOrder(ctx, orderID)
		if errors.Is(err, domain.ErrNotFound) {
			for _, it := range fallback {
				p, err := tx.ReleaseCapacity(ctx, it.PerformanceID, it.Quantity)
				if err != nil {
					return err
				}
				released = append(released, p)
			}
			applied = len(fallback) > 0
			return nil
		}
		if err != nil {
			return err
		}
		if order.Status != domain.OrderPending {
			return nil
		}
		items, err := order.MarkFailed()
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, order, domain.OrderPending); err != nil {
			return err
		}
		for _, it := range items {
			p, err := tx.ReleaseCapacity(ctx, it.PerformanceID, it.Quantity)
			if err != nil {
				return err
			}
			released = append(released, p)
		}
		applied = true
		return orderEvent(ctx, tx, order)
	})
	if err != nil {
		return false, err
	}
	o.refreshCache(ctx, released...)
	if applied {
		o.log.WithFields(map[string]interface{}{"order_id": orderID, "reason": reason}).Info("order compensated")
	}
	return applied, nil
}

// compensateOrderWithRetry keeps trying compensateOrder and escalates when
// it still fails.
func (o *Orchestrator) compensateOrderWithRetry(ctx context.Context, orderID uuid.UUID, fallback []domain.LineItem, reason string) {
	ctx, span := o.tracer.Start(ctx, "saga.compensate")
	defer span.End()

	_, err := backoff.Retry(ctx, func() (bool, error) {
		applied, err := o.compensateOrder(ctx, orderID, fallback, reason)
		if err != nil && isFinal(err) {
			return false, backoff.Permanent(err)
		}
		return applied, err
	}, backoff.WithBackOff(o.newBackOff()), backoff.WithMaxTries(o.cfg.CompensationRetries))
	if err != nil {
		span.RecordError(err)
		id := orderID
		o.escalate(ctx, domain.Compensation{OrderID: &id, Items: fallback, Reason: reason}, err)
	}
}

// escalate records a compensation that could not be applied. It is queued
// for the worker when a queue is configured; either way it is logged as a
// fatal inconsistency.
func (o *Orchestrator) escalate(ctx context.Context, c domain.Compensation, cause error) {
	observability.CompensationFailures.Inc()
	c.QueuedAt = o.now().UTC()

	log := o.log.WithError(cause).WithFields(map[string]interface{}{
		"fatal_inconsistency": true,
		"reason":              c.Reason,
		"items":               c.Items,
	})
	if c.OrderID != nil {
		log = log.WithField("order_id", *c.OrderID)
	}

	if o.queue == nil {
		log.Error("compensation failed and no queue is configured, manual reconciliation required")
		return
	}
	if err := o.queue.Push(ctx, c); err != nil {
		log.WithField("queue_error", err.Error()).Error("compensation failed and could not be queued, manual reconciliation required")
		return
	}
	log.Error("compensation failed, queued for replay")
}

// ReplayCompensations drains up to max queued compensations. An entry that
// fails again is pushed back and the drain stops.
func (o *Orchestrator) ReplayCompensations(ctx context.Context, max int) (int, error) {
	if o.queue == nil {
		return 0, nil
	}
	done := 0
	for done < max {
		c, err := o.queue.Pop(ctx)
		if err != nil {
			return done, errors.Wrap(err, "pop compensation")
		}
		if c == nil {
			return done, nil
		}
		if err := o.replay(ctx, c); err != nil {
			if isFinal(err) {
				o.log.WithError(err).WithFields(map[string]interface{}{
					"fatal_inconsistency": true,
					"items":               c.Items,
				}).Error("queued compensation cannot be applied, manual reconciliation required")
				done++
				continue
			}
			if pushErr := o.queue.Push(ctx, *c); pushErr != nil {
				o.log.WithError(pushErr).WithFields(map[string]interface{}{
					"fatal_inconsistency": true,
					"items":               c.Items,
				}).Error("compensation dropped from queue, manual reconciliation required")
			}
			return done, errors.Wrap(err, "replay compensation")
		}
		done++
	}
	return done, nil
}

// replay applies c. On failure c.Items is trimmed to what is still owed.
func (o *Orchestrator) replay(ctx context.Context, c *domain.Compensation) error {
	if c.OrderID != nil {
		_, err := o.compensateOrder(ctx, *c.OrderID, c.Items, c.Reason)
		return err
	}
	for i, it := range c.Items {
		p, err := o.releaseOne(ctx, it)
		if err != nil {
			if domain.IsBookkeeping(err) {
				o.log.WithError(err).WithField("performance_id", it.PerformanceID).
					Error("queued release refused by the ledger, skipping")
				continue
			}
			c.Items = c.Items[i:]
			return err
		}
		o.refreshCache(ctx, p)
	}
	return nil
}
