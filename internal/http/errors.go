package http

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/performance-ticketing/internal/domain"
)

type problem struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// classify maps an error category to a status and a stable code. Order
// matters: a bookkeeping fault is also reported through other categories.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrBookkeeping):
		return http.StatusInternalServerError, "internal"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrPaymentFailed):
		return http.StatusPaymentRequired, "payment_failed"
	case errors.IsAny(err, domain.ErrInvalidInput, domain.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrInsufficientCapacity):
		return http.StatusConflict, "insufficient_capacity"
	case errors.Is(err, domain.ErrDomain):
		return http.StatusConflict, "invalid_state"
	case errors.IsAny(err, domain.ErrConflict, domain.ErrSerializationFailure):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	p := problem{Code: code, Message: err.Error()}

	var capErr *domain.InsufficientCapacityError
	var payErr *domain.PaymentFailedError
	switch {
	case errors.As(err, &capErr):
		p.Details = map[string]interface{}{
			"performance_id": capErr.PerformanceID,
			"requested":      capErr.Requested,
			"available":      capErr.Available,
		}
	case errors.As(err, &payErr):
		p.Details = map[string]interface{}{"order_id": payErr.OrderID, "reason": payErr.Reason}
	}

	if status >= http.StatusInternalServerError {
		loggerFrom(r).WithError(err).Error("request failed")
		p.Message = "internal error"
	}
	writeJSON(w, status, p)
}

func writeProblem(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, problem{Code: code, Message: msg})
}
