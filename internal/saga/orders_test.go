package saga

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelOrder_ReleasesTicketCapacity(t *testing.T) {
	f := newFixture(t, succeedingGateway())
	p := f.performance(t, 5, "10.00")

	order, err := f.saga.CreateOrder(context.Background(), f.user, items(p.ID, 3))
	require.NoError(t, err)
	require.Equal(t, 2, f.load(t, p.ID).Available)

	cancelled, err := f.saga.CancelOrder(context.Background(), order.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, cancelled.Status)
	for _, tk := range f.order(t, order.ID).Tickets {
		assert.Equal(t, domain.TicketCancelled, tk.Status)
	}
	after := f.load(t, p.ID)
	assert.Equal(t, 5, after.Available)
	assert.Equal(t, domain.PerformanceScheduled, after.Status)
}

func TestCancelOrder_ReopensSoldOutPerformance(t *testing.T) {
	f := newFixture(t, succeedingGateway())
	p := f.performance(t, 5, "10.00")

	order, err := f.saga.CreateOrder(context.Background(), f.user, items(p.ID, 3))
	require.NoError(t, err)
	_, err = f.saga.CreateOrder(context.Background(), f.stranger, items(p.ID, 2))
	require.NoError(t, err)
	require.Equal(t, domain.PerformanceSoldOut, f.load(t, p.ID).Status)

	_, err = f.saga.CancelOrder(context.Background(), order.ID, f.user)
	require.NoError(t, err)
	after := f.load(t, p.ID)
	assert.Equal(t, 3, after.Available)
	assert.Equal(t, domain.PerformanceScheduled, after.Status)
}

func TestCancelOrder_Guards(t *testing.T) {
	f := newFixture(t, succeedingGateway())
	p := f.performance(t, 5, "10.00")
	order, err := f.saga.CreateOrder(context.Background(), f.user, items(p.ID, 2))
	require.NoError(t, err)

	_, err = f.saga.CancelOrder(context.Background(), order.ID, f.stranger)
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = f.saga.CancelOrder(context.Background(), uuid.New(), f.user)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = f.saga.CancelOrder(context.Background(), order.ID, f.user)
	require.NoError(t, err)
	_, err = f.saga.CancelOrder(context.Background(), order.ID, f.user)
	assert.True(t, errors.Is(err, domain.ErrAlreadyCancelled))
	assert.Equal(t, 5, f.load(t, p.ID).Available)
}

func TestCancelOrder_UsedTicketBlocksEverything(t *testing.T) {
	f := newFixture(t, succeedingGateway())
	p := f.performance(t, 5, "10.00")
	order, err := f.saga.CreateOrder(context.Background(), f.user, items(p.ID, 2))
	require.NoError(t, err)

	_, err = f.saga.UseTicket(context.Background(), order.Tickets[0].ID)
	require.NoError(t, err)

	_, err = f.saga.CancelOrder(context.Background(), order.ID, f.user)
	require.True(t, errors.Is(err, domain.ErrCannotCancelUsedTicket))

	stored := f.order(t, order.ID)
	assert.Equal(t, domain.OrderPaymentConfirmed, stored.Status)
	for _, tk := range stored.Tickets {
		assert.NotEqual(t, domain.TicketCancelled, tk.Status)
	}
	assert.Equal(t, 3, f.load(t, p.ID).Available)
}

func TestChangeOrderStatus_Refund(t *testing.T) {
	f := newFixture(t, succeedingGateway())
	p := f.performance(t, 4, "10.00")
	order, err := f.saga.CreateOrder(context.Background(), f.user, items(p.ID, 4))
	require.NoError(t, err)

	admin := Requester{UserID: uuid.New(), IsAdmin: true}
	refunded, err := f.saga.ChangeOrderStatus(context.Background(), order.ID, domain.OrderRefunded, admin, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRefunded, refunded.Status)
	assert.Equal(t, 4, f.load(t, p.ID).Available)

	_, err = f.saga.ChangeOrderStatus(context.Background(), order.ID, domain.OrderCancelled, admin, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	var types []string
	for _, e := range f.store.Outbox() {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{domain.EventOrderConfirmed, domain.EventOrderRefunded}, types)
}

func TestChangeOrderStatus_ManualConfirmation(t *testing.T) {
	f := newFixture(t, succeedingGateway())
	p := f.performance(t, 5, "10.00")

	order, err := domain.NewOrder(f.user, []domain.OrderLine{{PerformanceID: p.ID, Quantity: 2, UnitPrice: p.UnitPrice}})
	require.NoError(t, err)
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.ReserveCapacity(ctx, p.ID, 2); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, order)
	}))

	_, err = f.saga.ChangeOrderStatus(context.Background(), order.ID, domain.OrderPaymentConfirmed,
		Requester{UserID: f.user}, "self-service")
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = f.saga.ChangeOrderStatus(context.Background(), order.ID, domain.OrderPaymentConfirmed,
		Requester{UserID: uuid.New(), IsAdmin: true}, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	confirmed, err := f.saga.ChangeOrderStatus(context.Background(), order.ID, domain.OrderPaymentConfirmed,
		Requester{UserID: uuid.New(), IsAdmin: true}, "bank-transfer-77")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaymentConfirmed, confirmed.Status)

	stored := f.order(t, order.ID)
	require.Len(t, stored.Tickets, 2)
	for _, tk := range stored.Tickets {
		assert.Equal(t, domain.TicketPaid, tk.Status)
	}
	assert.Equal(t, 3, f.load(t, p.ID).Available)
}

func TestChangeOrderStatus_PendingToFailedReleasesLines(t *testing.T) {
	f := newFixture(t, succeedingGateway())
	p := f.performance(t, 5, "10.00")
	order, err := domain.NewOrder(f.user, []domain.OrderLine{{PerformanceID: p.ID, Quantity: 3, UnitPrice: p.UnitPrice}})
	require.NoError(t, err)
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.ReserveCapacity(ctx, p.ID, 3); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, order)
	}))

	failed, err := f.saga.ChangeOrderStatus(context.Background(), order.ID, domain.OrderPaymentFailed, Requester{UserID: uuid.New(), IsAdmin: true}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaymentFailed, failed.Status)
	assert.Equal(t, 5, f.load(t, p.ID).Available)
}

func TestUseTicket(t *testing.T) {
	f := newFixture(t, succeedingGateway())
	p := f.performance(t, 5, "10.00")
	order, err := f.saga.CreateOrder(context.Background(), f.user, items(p.ID, 1))
	require.NoError(t, err)

	used, err := f.saga.UseTicket(context.Background(), order.Tickets[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketUsed, used.Status)

	_, err = f.saga.UseTicket(context.Background(), order.Tickets[0].ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	_, err = f.saga.UseTicket(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestReads(t *testing.T) {
	f := newFixture(t, succeedingGateway())
	p := f.performance(t, 5, "10.00")
	order, err := f.saga.CreateOrder(context.Background(), f.user, items(p.ID, 1))
	require.NoError(t, err)

	got, err := f.saga.GetOrder(context.Background(), order.ID, Requester{UserID: f.user})
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = f.saga.GetOrder(context.Background(), order.ID, Requester{UserID: f.stranger})
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	list, err := f.saga.ListOrders(context.Background(), f.user)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	res, err := f.saga.VerifyPayment(context.Background(), order.ID, Requester{UserID: f.user})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
}

func TestPerformanceAdministration(t *testing.T) {
	f := newFixture(t, succeedingGateway())
	p := f.performance(t, 5, "10.00")
	_, err := f.saga.CreateOrder(context.Background(), f.user, items(p.ID, 3))
	require.NoError(t, err)

	_, err = f.saga.ResizeCapacity(context.Background(), p.ID, 2)
	assert.True(t, errors.Is(err, domain.ErrInsufficientCapacity))

	resized, err := f.saga.ResizeCapacity(context.Background(), p.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, resized.Available)
	assert.Equal(t, domain.PerformanceSoldOut, resized.Status)

	resized, err = f.saga.ResizeCapacity(context.Background(), p.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 7, resized.Available)
	assert.Equal(t, domain.PerformanceScheduled, resized.Status)

	_, err = f.saga.CompletePerformance(context.Background(), p.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))

	_, err = f.saga.CancelPerformance(context.Background(), p.ID)
	require.NoError(t, err)
	_, err = f.saga.CancelPerformance(context.Background(), p.ID)
	assert.True(t, errors.Is(err, domain.ErrAlreadyCancelled))
	assert.True(t, domain.IsBookkeeping(err))
}

func TestCompleteDuePerformances(t *testing.T) {
	f := newFixture(t, succeedingGateway())
	soon := f.performance(t, 5, "10.00")
	later, err := f.saga.CreatePerformance(context.Background(), time.Now().Add(30*24*time.Hour), 5, soon.UnitPrice)
	require.NoError(t, err)

	f.saga.now = func() time.Time { return time.Now().Add(72 * time.Hour) }
	n, err := f.saga.CompleteDuePerformances(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.PerformanceCompleted, f.load(t, soon.ID).Status)
	assert.Equal(t, domain.PerformanceScheduled, f.load(t, later.ID).Status)
}

func TestRegisterUserIsIdempotent(t *testing.T) {
	f := newFixture(t, succeedingGateway())
	id := uuid.New()

	require.NoError(t, f.saga.RegisterUser(context.Background(), id))
	require.NoError(t, f.saga.RegisterUser(context.Background(), id))

	p := f.performance(t, 5, "10.00")
	order, err := f.saga.CreateOrder(context.Background(), id, items(p.ID, 1))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaymentConfirmed, order.Status)
}
