package saga

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/port"
)

// ReconcileStale fails Pending orders created before olderThan. Such
// orders belong to sagas that died between storing the order and settling
// the payment. Returns how many orders were compensated.
func (o *Orchestrator) ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	before := o.now().Add(-olderThan)
	var ids []uuid.UUID
	err := o.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		ids, err = tx.ListStalePendingOrders(ctx, before, limit)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "list stale orders")
	}

	n := 0
	for _, id := range ids {
		applied, err := o.compensateOrder(ctx, id, nil, "stale pending order")
		if err != nil {
			o.log.WithError(err).WithField("order_id", id).Error("stale order compensation failed")
			continue
		}
		if applied {
			n++
			o.log.WithField("order_id", id).
				Warn("stale pending order failed; payment outcome unknown, check the gateway for this order id")
		}
	}
	return n, nil
}

// CompleteDuePerformances closes every bookable performance whose date has
// passed.
func (o *Orchestrator) CompleteDuePerformances(ctx context.Context, limit int) (int, error) {
	var ids []uuid.UUID
	err := o.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		ids, err = tx.ListPerformancesToComplete(ctx, o.now(), limit)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "list due performances")
	}

	n := 0
	for _, id := range ids {
		if _, err := o.CompletePerformance(ctx, id); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}
