package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Performance is one scheduled occurrence of a show. Its capacity ledger is
// the only state shared between concurrent sagas.
type Performance struct {
	ID        uuid.UUID
	StartsAt  time.Time
	Capacity  int
	Available int
	Status    PerformanceStatus
	UnitPrice decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewPerformance(startsAt time.Time, capacity int, unitPrice decimal.Decimal) (*Performance, error) {
	if capacity <= 0 {
		return nil, InvalidInputf("capacity must be positive, got %d", capacity)
	}
	if unitPrice.IsNegative() {
		return nil, InvalidInputf("unit price must not be negative, got %s", unitPrice)
	}
	now := time.Now().UTC()
	return &Performance{
		ID:        uuid.New(),
		StartsAt:  startsAt,
		Capacity:  capacity,
		Available: capacity,
		Status:    PerformanceScheduled,
		UnitPrice: unitPrice,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Sold is the number of units held by non-cancelled tickets or pending
// reservations.
func (p *Performance) Sold() int {
	return p.Capacity - p.Available
}

// Reserve takes quantity units out of the ledger.
func (p *Performance) Reserve(quantity int) error {
	if quantity <= 0 {
		return domainErr(ErrInvalidQuantity, "reserve quantity must be positive, got %d", quantity)
	}
	if !p.Status.Bookable() {
		return domainErr(ErrInvalidState, "performance %s is %s", p.ID, p.Status)
	}
	if p.Available < quantity {
		return NewInsufficientCapacity(p.ID, quantity, p.Available)
	}
	p.Available -= quantity
	p.deriveStatus()
	p.touch()
	return nil
}

// Release gives quantity units back. Exceeding capacity means somebody
// released twice; that is reported as a bookkeeping fault and nothing changes.
func (p *Performance) Release(quantity int) error {
	if quantity <= 0 {
		return domainErr(ErrInvalidQuantity, "release quantity must be positive, got %d", quantity)
	}
	if p.Available+quantity > p.Capacity {
		return bookkeepingErr(ErrOverRelease,
			"release of %d on performance %s would exceed capacity (available %d, capacity %d)",
			quantity, p.ID, p.Available, p.Capacity)
	}
	p.Available += quantity
	p.deriveStatus()
	p.touch()
	return nil
}

func (p *Performance) Cancel() error {
	switch p.Status {
	case PerformanceCancelled:
		return bookkeepingErr(ErrAlreadyCancelled, "performance %s is already cancelled", p.ID)
	case PerformanceCompleted:
		return domainErr(ErrInvalidState, "performance %s is completed", p.ID)
	}
	p.Status = PerformanceCancelled
	p.touch()
	return nil
}

// Complete closes the performance once its date has passed.
func (p *Performance) Complete(now time.Time) error {
	if !p.Status.Bookable() {
		return domainErr(ErrInvalidState, "performance %s is %s", p.ID, p.Status)
	}
	if p.StartsAt.After(now) {
		return domainErr(ErrInvalidState, "performance %s has not taken place yet", p.ID)
	}
	p.Status = PerformanceCompleted
	p.touch()
	return nil
}

// Resize changes capacity while keeping the sold count; it can never drop
// below what is already sold.
func (p *Performance) Resize(capacity int) error {
	if capacity <= 0 {
		return InvalidInputf("capacity must be positive, got %d", capacity)
	}
	if !p.Status.Bookable() {
		return domainErr(ErrInvalidState, "performance %s is %s", p.ID, p.Status)
	}
	sold := p.Sold()
	if capacity < sold {
		return domainErr(ErrInsufficientCapacity,
			"cannot resize performance %s to %d: %d units already sold", p.ID, capacity, sold)
	}
	p.Capacity = capacity
	p.Available = capacity - sold
	p.deriveStatus()
	p.touch()
	return nil
}

// ChangeUnitPrice only affects future reservations; tickets keep the price
// they were sold at.
func (p *Performance) ChangeUnitPrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return InvalidInputf("unit price must not be negative, got %s", price)
	}
	p.UnitPrice = price
	p.touch()
	return nil
}

func (p *Performance) deriveStatus() {
	if !p.Status.Bookable() {
		return
	}
	if p.Available == 0 {
		p.Status = PerformanceSoldOut
	} else {
		p.Status = PerformanceScheduled
	}
}

func (p *Performance) touch() {
	p.UpdatedAt = time.Now().UTC()
}
