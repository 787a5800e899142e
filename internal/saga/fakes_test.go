package saga

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/adapters/memory"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/port"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu       sync.Mutex
	calls    []port.PaymentRequest
	respond  func(port.PaymentRequest) port.PaymentResult
	payments map[string]port.PaymentResult
}

func succeedingGateway() *fakeGateway {
	g := &fakeGateway{payments: map[string]port.PaymentResult{}}
	g.respond = func(req port.PaymentRequest) port.PaymentResult {
		return port.PaymentResult{Status: port.PaymentSucceeded, Reference: "pi_" + req.OrderID.String()[:8], ProcessedAt: time.Now()}
	}
	return g
}

func decliningGateway(reason string) *fakeGateway {
	g := &fakeGateway{payments: map[string]port.PaymentResult{}}
	g.respond = func(port.PaymentRequest) port.PaymentResult {
		return port.PaymentResult{Status: port.PaymentFailed, ErrorMessage: reason}
	}
	return g
}

func (g *fakeGateway) ProcessPayment(_ context.Context, req port.PaymentRequest) port.PaymentResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	res := g.respond(req)
	if res.Reference != "" {
		g.payments[res.Reference] = res
	}
	return res
}

func (g *fakeGateway) GetPayment(_ context.Context, reference string) (port.PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.payments[reference]
	if !ok {
		return port.PaymentResult{}, errors.Newf("payment %s not found", reference)
	}
	return res, nil
}

func (g *fakeGateway) Calls() []port.PaymentRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]port.PaymentRequest(nil), g.calls...)
}

type fakeQueue struct {
	mu      sync.Mutex
	entries []domain.Compensation
}

func (q *fakeQueue) Push(_ context.Context, c domain.Compensation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, c)
	return nil
}

func (q *fakeQueue) Pop(_ context.Context) (*domain.Compensation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil, nil
	}
	c := q.entries[0]
	q.entries = q.entries[1:]
	return &c, nil
}

func (q *fakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// flakyStore fails the first releaseFailures capacity releases with a
// transient error. It panics when reserving panicOnReserve or, with
// panicOnInsert set, when storing an order.
type flakyStore struct {
	*memory.Store
	releaseFailures atomic.Int32
	panicOnReserve  uuid.UUID
	panicOnInsert   atomic.Bool
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return fn(ctx, &flakyTx{Tx: tx, store: s})
	})
}

type flakyTx struct {
	port.Tx
	store *flakyStore
}

func (t *flakyTx) ReleaseCapacity(ctx context.Context, id uuid.UUID, quantity int) (*domain.Performance, error) {
	if t.store.releaseFailures.Add(-1) >= 0 {
		return nil, errors.New("connection reset by peer")
	}
	return t.Tx.ReleaseCapacity(ctx, id, quantity)
}

func (t *flakyTx) ReserveCapacity(ctx context.Context, id uuid.UUID, quantity int) (*domain.Performance, error) {
	if id == t.store.panicOnReserve {
		panic("reserve blew up")
	}
	return t.Tx.ReserveCapacity(ctx, id, quantity)
}

func (t *flakyTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	if t.store.panicOnInsert.Load() {
		panic("insert blew up")
	}
	return t.Tx.InsertOrder(ctx, order)
}

type fixture struct {
	store    *memory.Store
	gateway  *fakeGateway
	queue    *fakeQueue
	saga     *Orchestrator
	logs     *test.Hook
	user     uuid.UUID
	stranger uuid.UUID
}

func newFixture(t *testing.T, gateway *fakeGateway) *fixture {
	return newFixtureWithStore(t, memory.NewStore(), nil, gateway)
}

func newFixtureWithStore(t *testing.T, mem *memory.Store, store port.Store, gateway *fakeGateway) *fixture {
	t.Helper()
	if store == nil {
		store = mem
	}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f := &fixture{
		store:    mem,
		gateway:  gateway,
		queue:    &fakeQueue{},
		logs:     hook,
		user:     uuid.New(),
		stranger: uuid.New(),
	}
	mem.AddUser(f.user)
	mem.AddUser(f.stranger)
	f.saga = NewOrchestrator(store, gateway, observability.NewLoggerFrom(logger), Config{
		Currency:            "EUR",
		PaymentTimeout:      time.Second,
		CompensationRetries: 3,
		RetryInterval:       time.Millisecond,
	}, WithCompensationQueue(f.queue))
	return f
}

func (f *fixture) performance(t *testing.T, capacity int, price string) *domain.Performance {
	t.Helper()
	p, err := f.saga.CreatePerformance(context.Background(), time.Now().Add(48*time.Hour), capacity, decimal.RequireFromString(price))
	require.NoError(t, err)
	return p
}

func (f *fixture) load(t *testing.T, id uuid.UUID) *domain.Performance {
	t.Helper()
	var p *domain.Performance
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		var err error
		p, err = tx.GetPerformance(ctx, id)
		return err
	}))
	return p
}

func (f *fixture) order(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()
	var o *domain.Order
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, id)
		return err
	}))
	return o
}

func (f *fixture) fatalLogs() int {
	n := 0
	for _, e := range f.logs.AllEntries() {
		if v, ok := e.Data["fatal_inconsistency"]; ok && v == true {
			n++
		}
	}
	return n
}
