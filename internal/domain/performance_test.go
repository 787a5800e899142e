package domain

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPerf(t *testing.T, capacity int) *Performance {
	t.Helper()
	p, err := NewPerformance(time.Now().Add(time.Hour), capacity, decimal.RequireFromString("15.00"))
	require.NoError(t, err)
	return p
}

func TestNewPerformanceValidation(t *testing.T) {
	_, err := NewPerformance(time.Now(), 0, decimal.Zero)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = NewPerformance(time.Now(), 10, decimal.NewFromInt(-1))
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestReserveAndRelease(t *testing.T) {
	p := newPerf(t, 3)

	require.NoError(t, p.Reserve(2))
	assert.Equal(t, 1, p.Available)
	assert.Equal(t, PerformanceScheduled, p.Status)

	require.NoError(t, p.Reserve(1))
	assert.Equal(t, 0, p.Available)
	assert.Equal(t, PerformanceSoldOut, p.Status)

	err := p.Reserve(1)
	var capErr *InsufficientCapacityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, 1, capErr.Requested)
	assert.Equal(t, 0, capErr.Available)
	assert.True(t, errors.Is(err, ErrDomain))

	require.NoError(t, p.Release(1))
	assert.Equal(t, PerformanceScheduled, p.Status)

	err = p.Release(3)
	assert.True(t, errors.Is(err, ErrOverRelease))
	assert.True(t, IsBookkeeping(err))
	assert.Equal(t, 1, p.Available, "a refused release must not clamp")

	assert.True(t, errors.Is(p.Reserve(0), ErrInvalidQuantity))
	assert.True(t, errors.Is(p.Release(-2), ErrInvalidQuantity))
}

func TestReserveOnClosedPerformance(t *testing.T) {
	p := newPerf(t, 3)
	require.NoError(t, p.Cancel())
	assert.True(t, errors.Is(p.Reserve(1), ErrInvalidState))

	err := p.Cancel()
	assert.True(t, errors.Is(err, ErrAlreadyCancelled))
	assert.True(t, IsBookkeeping(err))
}

func TestComplete(t *testing.T) {
	p := newPerf(t, 3)
	assert.True(t, errors.Is(p.Complete(time.Now()), ErrInvalidState), "not yet played")

	require.NoError(t, p.Complete(p.StartsAt.Add(time.Minute)))
	assert.Equal(t, PerformanceCompleted, p.Status)
	assert.True(t, errors.Is(p.Cancel(), ErrInvalidState))

	c := newPerf(t, 3)
	require.NoError(t, c.Cancel())
	assert.True(t, errors.Is(c.Complete(c.StartsAt.Add(time.Minute)), ErrInvalidState))
}

func TestResizeKeepsSold(t *testing.T) {
	p := newPerf(t, 10)
	require.NoError(t, p.Reserve(6))

	assert.True(t, errors.Is(p.Resize(5), ErrInsufficientCapacity))
	require.NoError(t, p.Resize(6))
	assert.Equal(t, 0, p.Available)
	assert.Equal(t, PerformanceSoldOut, p.Status)

	require.NoError(t, p.Resize(20))
	assert.Equal(t, 14, p.Available)
	assert.Equal(t, PerformanceScheduled, p.Status)
	assert.Equal(t, 6, p.Sold())
}
