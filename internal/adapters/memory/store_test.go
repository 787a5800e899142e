package memory

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/port"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, capacity int) *domain.Performance {
	t.Helper()
	p, err := domain.NewPerformance(time.Now().Add(time.Hour), capacity, decimal.NewFromInt(10))
	require.NoError(t, err)
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.InsertPerformance(ctx, p)
	}))
	return p
}

func available(t *testing.T, s *Store, id uuid.UUID) int {
	t.Helper()
	var n int
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		p, err := tx.GetPerformance(ctx, id)
		if err != nil {
			return err
		}
		n = p.Available
		return nil
	}))
	return n
}

func TestRollbackDiscardsWrites(t *testing.T) {
	s := NewStore()
	p := seed(t, s, 5)

	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.ReserveCapacity(ctx, p.ID, 3); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 5, available(t, s, p.ID))
}

func TestUpdateOrderComparesStatus(t *testing.T) {
	s := NewStore()
	p := seed(t, s, 5)
	o, err := domain.NewOrder(uuid.New(), []domain.OrderLine{{PerformanceID: p.ID, Quantity: 1, UnitPrice: p.UnitPrice}})
	require.NoError(t, err)

	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.InsertOrder(ctx, o)
	}))
	_, err = o.MarkFailed()
	require.NoError(t, err)

	err = s.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.UpdateOrder(ctx, o, domain.OrderPaymentConfirmed)
	})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.UpdateOrder(ctx, o, domain.OrderPending)
	}))
}

func TestOutboxClaimAndMark(t *testing.T) {
	s := NewStore()
	e := domain.OutboxEvent{ID: uuid.New(), EventType: domain.EventOrderCancelled, CreatedAt: time.Now()}
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.InsertOutbox(ctx, e)
	}))

	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		claimed, err := tx.ClaimOutbox(ctx, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		return tx.MarkOutboxPublished(ctx, []uuid.UUID{claimed[0].ID}, time.Now())
	}))

	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		claimed, err := tx.ClaimOutbox(ctx, 10)
		assert.Empty(t, claimed)
		return err
	}))
}
