package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxQuantityPerItem bounds a single line of a purchase request.
const MaxQuantityPerItem = 50

// LineItem asks for Quantity units of one performance. It is also the unit
// of capacity to give back when an order releases what it held.
type LineItem struct {
	PerformanceID uuid.UUID `json:"performance_id"`
	Quantity      int       `json:"quantity"`
}

// ValidateItems checks a purchase request before any capacity is touched.
func ValidateItems(items []LineItem) error {
	if len(items) == 0 {
		return InvalidInputf("at least one item is required")
	}
	for i, it := range items {
		if it.PerformanceID == uuid.Nil {
			return InvalidInputf("item %d: performance id is required", i)
		}
		if it.Quantity < 1 || it.Quantity > MaxQuantityPerItem {
			return domainErr(ErrInvalidQuantity, "item %d: quantity must be between 1 and %d, got %d",
				i, MaxQuantityPerItem, it.Quantity)
		}
	}
	return nil
}

// Reservation is a successful decrement of one performance ledger, priced
// at the moment it was taken.
type Reservation struct {
	PerformanceID uuid.UUID
	Quantity      int
	UnitPrice     decimal.Decimal
}

// Line turns the reservation into the order line persisted with the order.
func (r Reservation) Line() OrderLine {
	return OrderLine{PerformanceID: r.PerformanceID, Quantity: r.Quantity, UnitPrice: r.UnitPrice}
}

// Item is the capacity to give back if the reservation is undone.
func (r Reservation) Item() LineItem {
	return LineItem{PerformanceID: r.PerformanceID, Quantity: r.Quantity}
}
