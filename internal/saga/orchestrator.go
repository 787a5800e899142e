package saga

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/port"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Currency       string
	PaymentTimeout time.Duration
	// CompensationRetries bounds inline compensation attempts before the
	// compensation is queued for the worker.
	CompensationRetries uint
	// TxRetries bounds retries of a transaction that lost a serialization race.
	TxRetries     uint
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Currency == "" {
		c.Currency = "EUR"
	}
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = 10 * time.Second
	}
	if c.CompensationRetries == 0 {
		c.CompensationRetries = 5
	}
	if c.TxRetries == 0 {
		c.TxRetries = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 100 * time.Millisecond
	}
	return c
}

// Orchestrator runs the order saga and every other operation that touches
// the capacity ledgers.
type Orchestrator struct {
	store    port.Store
	payments port.PaymentGateway
	queue    port.CompensationQueue
	cache    port.AvailabilityCache
	audit    port.Auditor
	log      observability.Logger
	cfg      Config
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithCompensationQueue(q port.CompensationQueue) Option {
	return func(o *Orchestrator) { o.queue = q }
}

func WithAvailabilityCache(c port.AvailabilityCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func WithAuditor(a port.Auditor) Option {
	return func(o *Orchestrator) { o.audit = a }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(store port.Store, payments port.PaymentGateway, log observability.Logger, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		payments: payments,
		log:      log,
		cfg:      cfg.withDefaults(),
		tracer:   otel.Tracer("saga"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.RetryInterval
	b.MaxInterval = 20 * o.cfg.RetryInterval
	return b
}

// inTx runs fn in a transaction, retrying when the store reports a lost
// serialization race. Every other error ends the attempt.
func (o *Orchestrator) inTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := o.store.WithTx(ctx, fn)
		if err != nil && !isRaceLost(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(o.newBackOff()), backoff.WithMaxTries(o.cfg.TxRetries))
	return err
}

func isRaceLost(err error) bool {
	return errors.Is(err, domain.ErrSerializationFailure) || errors.Is(err, domain.ErrConflict)
}

// isFinal reports errors that no retry can fix.
func isFinal(err error) bool {
	return errors.IsAny(err, domain.ErrDomain, domain.ErrBookkeeping, domain.ErrNotFound, domain.ErrForbidden)
}

func (o *Orchestrator) refreshCache(ctx context.Context, perfs ...*domain.Performance) {
	if o.cache == nil {
		return
	}
	for _, p := range perfs {
		if p == nil {
			continue
		}
		if err := o.cache.Put(ctx, p); err != nil {
			o.log.WithError(err).WithField("performance_id", p.ID).Warn("availability cache refresh failed")
		}
	}
}

func (o *Orchestrator) record(ctx context.Context, action string, orderID, userID uuid.UUID, outcome string, details map[string]interface{}) {
	if o.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := o.audit.Record(ctx, port.AuditEntry{
		Action:    action,
		OrderID:   orderID,
		UserID:    userID,
		Outcome:   outcome,
		Details:   details,
		Timestamp: o.now().UTC(),
	})
	if err != nil {
		o.log.WithError(err).WithField("action", action).Warn("audit record failed")
	}
}

func orderEvent(ctx context.Context, tx port.Tx, order *domain.Order) error {
	eventType := domain.EventForStatus(order.Status)
	if eventType == "" {
		return nil
	}
	e, err := domain.NewOrderEvent(eventType, order)
	if err != nil {
		return errors.Wrap(err, "encode order event")
	}
	return tx.InsertOutbox(ctx, e)
}
