package domain

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allOrderStatuses = []OrderStatus{OrderPending, OrderPaymentConfirmed, OrderPaymentFailed, OrderCancelled, OrderRefunded}

func pendingOrder(t *testing.T, lines ...OrderLine) *Order {
	t.Helper()
	if len(lines) == 0 {
		lines = []OrderLine{{PerformanceID: uuid.New(), Quantity: 2, UnitPrice: decimal.RequireFromString("9.99")}}
	}
	o, err := NewOrder(uuid.New(), lines)
	require.NoError(t, err)
	return o
}

func orderIn(t *testing.T, s OrderStatus) *Order {
	t.Helper()
	o := pendingOrder(t)
	switch s {
	case OrderPaymentConfirmed:
		require.NoError(t, o.ConfirmPayment("pi_1"))
	case OrderPaymentFailed:
		_, err := o.MarkFailed()
		require.NoError(t, err)
	case OrderCancelled:
		_, err := o.Cancel()
		require.NoError(t, err)
	case OrderRefunded:
		require.NoError(t, o.ConfirmPayment("pi_1"))
		_, err := o.Refund()
		require.NoError(t, err)
	}
	return o
}

func TestNewOrderTotals(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	o := pendingOrder(t,
		OrderLine{PerformanceID: a, Quantity: 2, UnitPrice: decimal.RequireFromString("12.50")},
		OrderLine{PerformanceID: b, Quantity: 3, UnitPrice: decimal.RequireFromString("0.10")},
	)
	assert.True(t, decimal.RequireFromString("25.30").Equal(o.TotalPrice), "total %s", o.TotalPrice)
	assert.Len(t, o.Tickets, 5)
	for _, tk := range o.Tickets {
		assert.Equal(t, TicketReserved, tk.Status)
		assert.Equal(t, o.ID, tk.OrderID)
	}

	_, err := NewOrder(uuid.New(), nil)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestTransitionClosure(t *testing.T) {
	for _, from := range allOrderStatuses {
		for _, to := range allOrderStatuses {
			o := orderIn(t, from)
			total := o.TotalPrice
			_, err := o.ChangeStatus(to, "pi_admin")
			if from.CanTransition(to) {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, o.Status)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidTransition), "%s -> %s: %v", from, to, err)
				assert.Equal(t, from, o.Status)
			}
			assert.True(t, total.Equal(o.TotalPrice), "total changed on %s -> %s", from, to)
		}
	}
}

func TestConfirmPayment(t *testing.T) {
	o := pendingOrder(t)
	assert.True(t, errors.Is(o.ConfirmPayment(""), ErrInvalidInput))
	require.NoError(t, o.ConfirmPayment("pi_42"))
	assert.Equal(t, "pi_42", *o.PaymentReference)
	for _, tk := range o.Tickets {
		assert.Equal(t, TicketPaid, tk.Status)
	}
	assert.True(t, errors.Is(o.ConfirmPayment("pi_43"), ErrInvalidState))
}

func TestMarkFailedReturnsLines(t *testing.T) {
	a := uuid.New()
	o := pendingOrder(t,
		OrderLine{PerformanceID: a, Quantity: 2, UnitPrice: decimal.NewFromInt(1)},
		OrderLine{PerformanceID: a, Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
	)
	held, err := o.MarkFailed()
	require.NoError(t, err)
	assert.Equal(t, []LineItem{{PerformanceID: a, Quantity: 3}}, held)
	for _, tk := range o.Tickets {
		assert.Equal(t, TicketReserved, tk.Status, "failing an order leaves tickets alone")
	}
	_, err = o.MarkFailed()
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestCancelConfirmedSkipsCancelledTickets(t *testing.T) {
	a := uuid.New()
	o := pendingOrder(t, OrderLine{PerformanceID: a, Quantity: 3, UnitPrice: decimal.NewFromInt(5)})
	require.NoError(t, o.ConfirmPayment("pi_1"))
	require.NoError(t, o.Tickets[0].Cancel())

	held, err := o.Cancel()
	require.NoError(t, err)
	assert.Equal(t, []LineItem{{PerformanceID: a, Quantity: 2}}, held)
	for _, tk := range o.Tickets {
		assert.Equal(t, TicketCancelled, tk.Status)
	}

	_, err = o.Cancel()
	assert.True(t, errors.Is(err, ErrAlreadyCancelled))
}

func TestCancelWithUsedTicketChangesNothing(t *testing.T) {
	o := pendingOrder(t)
	require.NoError(t, o.ConfirmPayment("pi_1"))
	require.NoError(t, o.Tickets[1].MarkUsed())

	_, err := o.Cancel()
	assert.True(t, errors.Is(err, ErrCannotCancelUsedTicket))
	assert.Equal(t, OrderPaymentConfirmed, o.Status)
	assert.Equal(t, TicketPaid, o.Tickets[0].Status)

	_, err = o.Refund()
	assert.True(t, errors.Is(err, ErrCannotCancelUsedTicket))
}

func TestDraftTickets(t *testing.T) {
	o := pendingOrder(t)
	o.Tickets = nil
	o.DraftTickets()
	assert.Len(t, o.Tickets, 2)
	o.DraftTickets()
	assert.Len(t, o.Tickets, 2)
}

func TestValidateItems(t *testing.T) {
	id := uuid.New()
	assert.NoError(t, ValidateItems([]LineItem{{PerformanceID: id, Quantity: 1}, {PerformanceID: id, Quantity: 50}}))
	assert.True(t, errors.Is(ValidateItems(nil), ErrInvalidInput))
	assert.True(t, errors.Is(ValidateItems([]LineItem{{PerformanceID: id, Quantity: 51}}), ErrInvalidQuantity))
	assert.True(t, errors.Is(ValidateItems([]LineItem{{Quantity: 1}}), ErrInvalidInput))
}
