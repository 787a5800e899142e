package domain

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketLifecycle(t *testing.T) {
	tk := NewTicket(uuid.New(), decimal.NewFromInt(10))
	assert.True(t, errors.Is(tk.MarkUsed(), ErrInvalidTransition))
	require.NoError(t, tk.MarkPaid())
	assert.True(t, errors.Is(tk.MarkPaid(), ErrInvalidTransition))
	require.NoError(t, tk.MarkUsed())
	assert.True(t, errors.Is(tk.Cancel(), ErrCannotCancelUsedTicket))
}

func TestTicketCancelIsTerminal(t *testing.T) {
	tk := NewTicket(uuid.New(), decimal.NewFromInt(10))
	require.NoError(t, tk.Cancel())
	assert.True(t, errors.Is(tk.Cancel(), ErrInvalidTransition))
	assert.True(t, errors.Is(tk.MarkPaid(), ErrInvalidTransition))
}

func TestParseStatuses(t *testing.T) {
	for _, s := range allOrderStatuses {
		got, err := ParseOrderStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseOrderStatus("SHIPPED")
	assert.True(t, errors.Is(err, ErrInvalidInput))

	got, err := ParsePerformanceStatus("SOLD_OUT")
	require.NoError(t, err)
	assert.Equal(t, PerformanceSoldOut, got)

	got2, err := ParseTicketStatus("USED")
	require.NoError(t, err)
	assert.Equal(t, TicketUsed, got2)
}
