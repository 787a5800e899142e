package domain

import "github.com/cockroachdb/errors"

// PerformanceStatus is the closed set of ledger states. The zero value is
// not a valid status.
type PerformanceStatus uint8

const (
	PerformanceScheduled PerformanceStatus = iota + 1
	PerformanceSoldOut
	PerformanceCancelled
	PerformanceCompleted
)

var performanceStatusNames = map[PerformanceStatus]string{
	PerformanceScheduled: "SCHEDULED",
	PerformanceSoldOut:   "SOLD_OUT",
	PerformanceCancelled: "CANCELLED",
	PerformanceCompleted: "COMPLETED",
}

func (s PerformanceStatus) String() string {
	if n, ok := performanceStatusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Bookable reports whether capacity may still be reserved in this state.
func (s PerformanceStatus) Bookable() bool {
	return s == PerformanceScheduled || s == PerformanceSoldOut
}

func ParsePerformanceStatus(v string) (PerformanceStatus, error) {
	for s, n := range performanceStatusNames {
		if n == v {
			return s, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidInput, "unknown performance status %q", v)
}

// OrderStatus is the closed set of payment lifecycle states.
type OrderStatus uint8

const (
	OrderPending OrderStatus = iota + 1
	OrderPaymentConfirmed
	OrderPaymentFailed
	OrderCancelled
	OrderRefunded
)

var orderStatusNames = map[OrderStatus]string{
	OrderPending:          "PENDING",
	OrderPaymentConfirmed: "PAYMENT_CONFIRMED",
	OrderPaymentFailed:    "PAYMENT_FAILED",
	OrderCancelled:        "CANCELLED",
	OrderRefunded:         "REFUNDED",
}

func (s OrderStatus) String() string {
	if n, ok := orderStatusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

func ParseOrderStatus(v string) (OrderStatus, error) {
	for s, n := range orderStatusNames {
		if n == v {
			return s, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidInput, "unknown order status %q", v)
}

// orderTransitions lists every legal source -> target pair. Anything not
// listed is rejected by Order.ChangeStatus.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:          {OrderPaymentConfirmed, OrderPaymentFailed, OrderCancelled},
	OrderPaymentConfirmed: {OrderCancelled, OrderRefunded},
}

// CanTransition reports whether target is reachable from s in one step.
func (s OrderStatus) CanTransition(target OrderStatus) bool {
	for _, t := range orderTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// TicketStatus is the closed set of per-seat states.
type TicketStatus uint8

const (
	TicketReserved TicketStatus = iota + 1
	TicketPaid
	TicketUsed
	TicketCancelled
)

var ticketStatusNames = map[TicketStatus]string{
	TicketReserved:  "RESERVED",
	TicketPaid:      "PAID",
	TicketUsed:      "USED",
	TicketCancelled: "CANCELLED",
}

func (s TicketStatus) String() string {
	if n, ok := ticketStatusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

func ParseTicketStatus(v string) (TicketStatus, error) {
	for s, n := range ticketStatusNames {
		if n == v {
			return s, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidInput, "unknown ticket status %q", v)
}
