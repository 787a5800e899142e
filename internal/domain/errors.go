package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Error categories. Every error produced by this package carries exactly one
// of them, so callers can branch on the category without knowing the kind.
var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrDomain        = errors.New("domain rule violated")
	ErrPaymentFailed = errors.New("payment failed")
	ErrBookkeeping   = errors.New("bookkeeping inconsistency")

	ErrSerializationFailure = errors.New("serialization failure")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
)

// Error kinds, attached next to a category.
var (
	ErrInsufficientCapacity   = errors.New("insufficient capacity")
	ErrInvalidState           = errors.New("invalid state")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrAlreadyCancelled       = errors.New("already cancelled")
	ErrCannotCancelUsedTicket = errors.New("cannot cancel used ticket")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrOverRelease            = errors.New("over release")
)

// InsufficientCapacityError reports how many units were asked for and how
// many were left when the reservation was refused.
type InsufficientCapacityError struct {
	PerformanceID uuid.UUID
	Requested     int
	Available     int
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity for performance %s: requested %d, available %d",
		e.PerformanceID, e.Requested, e.Available)
}

// PaymentFailedError is returned by the saga when the gateway declined the
// payment or could not be reached. Capacity has already been released.
type PaymentFailedError struct {
	OrderID uuid.UUID
	Reason  string
}

func (e *PaymentFailedError) Error() string {
	return fmt.Sprintf("payment failed for order %s: %s", e.OrderID, e.Reason)
}

func domainErr(kind error, format string, args ...interface{}) error {
	return errors.Mark(errors.Mark(errors.Newf(format, args...), kind), ErrDomain)
}

func bookkeepingErr(kind error, format string, args ...interface{}) error {
	return errors.Mark(errors.Mark(errors.Newf(format, args...), kind), ErrBookkeeping)
}

// NewInsufficientCapacity builds the typed capacity refusal.
func NewInsufficientCapacity(performanceID uuid.UUID, requested, available int) error {
	err := &InsufficientCapacityError{PerformanceID: performanceID, Requested: requested, Available: available}
	return errors.Mark(errors.Mark(err, ErrInsufficientCapacity), ErrDomain)
}

// NewPaymentFailed builds the typed, user-facing payment failure.
func NewPaymentFailed(orderID uuid.UUID, reason string) error {
	return errors.Mark(&PaymentFailedError{OrderID: orderID, Reason: reason}, ErrPaymentFailed)
}

// NotFoundf returns an ErrNotFound-category error.
func NotFoundf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

// Forbiddenf returns an ErrForbidden-category error.
func Forbiddenf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrForbidden)
}

// InvalidInputf returns a validation error; it is also a domain error.
func InvalidInputf(format string, args ...interface{}) error {
	return domainErr(ErrInvalidInput, format, args...)
}

// IsBookkeeping reports whether err signals an upstream accounting bug that
// must never be absorbed silently.
func IsBookkeeping(err error) bool {
	return errors.Is(err, ErrBookkeeping)
}
