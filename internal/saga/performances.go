package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/port"
	"github.com/shopspring/decimal"
)

func (o *Orchestrator) CreatePerformance(ctx context.Context, startsAt time.Time, capacity int, unitPrice decimal.Decimal) (*domain.Performance, error) {
	p, err := domain.NewPerformance(startsAt, capacity, unitPrice)
	if err != nil {
		return nil, err
	}
	err = o.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.InsertPerformance(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	o.refreshCache(ctx, p)
	o.log.WithFields(map[string]interface{}{"performance_id": p.ID, "capacity": capacity}).Info("performance created")
	return p, nil
}

// GetPerformance serves the cached snapshot when there is one.
func (o *Orchestrator) GetPerformance(ctx context.Context, id uuid.UUID) (*domain.Performance, error) {
	if o.cache != nil {
		p, err := o.cache.Get(ctx, id)
		if err != nil {
			o.log.WithError(err).WithField("performance_id", id).Debug("availability cache read failed")
		}
		if p != nil {
			return p, nil
		}
	}
	var p *domain.Performance
	err := o.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		p, err = tx.GetPerformance(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.refreshCache(ctx, p)
	return p, nil
}

func (o *Orchestrator) ResizeCapacity(ctx context.Context, id uuid.UUID, capacity int) (*domain.Performance, error) {
	return o.mutatePerformance(ctx, "resize", id, func(p *domain.Performance) error { return p.Resize(capacity) })
}

// ChangeUnitPrice affects reservations made from now on. Stored tickets and
// order totals keep the price they were sold at.
func (o *Orchestrator) ChangeUnitPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (*domain.Performance, error) {
	return o.mutatePerformance(ctx, "change_price", id, func(p *domain.Performance) error { return p.ChangeUnitPrice(price) })
}

func (o *Orchestrator) CancelPerformance(ctx context.Context, id uuid.UUID) (*domain.Performance, error) {
	return o.mutatePerformance(ctx, "cancel", id, func(p *domain.Performance) error { return p.Cancel() })
}

func (o *Orchestrator) CompletePerformance(ctx context.Context, id uuid.UUID) (*domain.Performance, error) {
	now := o.now()
	return o.mutatePerformance(ctx, "complete", id, func(p *domain.Performance) error { return p.Complete(now) })
}

// mutatePerformance applies fn to the locked row inside one short
// transaction.
func (o *Orchestrator) mutatePerformance(ctx context.Context, action string, id uuid.UUID, fn func(*domain.Performance) error) (*domain.Performance, error) {
	ctx, span := o.tracer.Start(ctx, "saga.performance."+action)
	defer span.End()

	var p *domain.Performance
	err := o.inTx(ctx, func(ctx context.Context, tx port.Tx) error {
		locked, err := tx.LockPerformance(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(locked); err != nil {
			return err
		}
		p = locked
		return tx.UpdatePerformance(ctx, locked)
	})
	log := o.log.WithFields(map[string]interface{}{"performance_id": id, "action": action})
	if err != nil {
		if domain.IsBookkeeping(err) {
			log.WithError(err).WithField("fatal_inconsistency", true).Error("performance change hit a ledger fault")
		}
		span.RecordError(err)
		return nil, err
	}
	o.refreshCache(ctx, p)
	log.WithFields(map[string]interface{}{
		"status":    p.Status.String(),
		"capacity":  p.Capacity,
		"available": p.Available,
	}).Info("performance updated")
	return p, nil
}
