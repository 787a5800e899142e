package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/saga"
	"github.com/shopspring/decimal"
)

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Handlers struct {
	saga   *saga.Orchestrator
	checks map[string]ReadinessCheck
}

func NewHandlers(orch *saga.Orchestrator, checks map[string]ReadinessCheck) *Handlers {
	return &Handlers{saga: orch, checks: checks}
}

type lineItemRequest struct {
	PerformanceID uuid.UUID `json:"performance_id"`
	Quantity      int       `json:"quantity"`
}

type createOrderRequest struct {
	Items []lineItemRequest `json:"items"`
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	id := mustIdentity(r)
	var req createOrderRequest
	if !decode(w, r, &req) {
		return
	}
	items := make([]domain.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.LineItem{PerformanceID: it.PerformanceID, Quantity: it.Quantity})
	}

	order, err := h.saga.CreateOrder(r.Context(), id.UserID, items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	id := mustIdentity(r)
	orders, err := h.saga.ListOrders(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := h.saga.GetOrder(r.Context(), orderID, mustIdentity(r).requester())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := h.saga.CancelOrder(r.Context(), orderID, mustIdentity(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type changeStatusRequest struct {
	Status           string `json:"status"`
	PaymentReference string `json:"payment_reference"`
}

func (h *Handlers) ChangeOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req changeStatusRequest
	if !decode(w, r, &req) {
		return
	}
	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.saga.ChangeOrderStatus(r.Context(), orderID, target, mustIdentity(r).requester(), req.PaymentReference)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.saga.VerifyPayment(r.Context(), orderID, mustIdentity(r).requester())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse{
		Reference:    res.Reference,
		Status:       string(res.Status),
		ErrorMessage: res.ErrorMessage,
		ProcessedAt:  res.ProcessedAt,
	})
}

func (h *Handlers) UseTicket(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := h.saga.UseTicket(r.Context(), ticketID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketResponse(t))
}

func (h *Handlers) RegisterUser(w http.ResponseWriter, r *http.Request) {
	id := mustIdentity(r)
	if err := h.saga.RegisterUser(r.Context(), id.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": id.UserID})
}

type createPerformanceRequest struct {
	StartsAt  time.Time       `json:"starts_at"`
	Capacity  int             `json:"capacity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (h *Handlers) CreatePerformance(w http.ResponseWriter, r *http.Request) {
	var req createPerformanceRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.saga.CreatePerformance(r.Context(), req.StartsAt, req.Capacity, req.UnitPrice)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPerformanceResponse(p))
}

func (h *Handlers) GetPerformance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.saga.GetPerformance(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPerformanceResponse(p))
}

func (h *Handlers) ResizeCapacity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Capacity int `json:"capacity"`
	}
	h.mutatePerformance(w, r, &req, func(ctx context.Context, id uuid.UUID) (*domain.Performance, error) {
		return h.saga.ResizeCapacity(ctx, id, req.Capacity)
	})
}

func (h *Handlers) ChangeUnitPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UnitPrice decimal.Decimal `json:"unit_price"`
	}
	h.mutatePerformance(w, r, &req, func(ctx context.Context, id uuid.UUID) (*domain.Performance, error) {
		return h.saga.ChangeUnitPrice(ctx, id, req.UnitPrice)
	})
}

func (h *Handlers) CancelPerformance(w http.ResponseWriter, r *http.Request) {
	h.mutatePerformance(w, r, nil, h.saga.CancelPerformance)
}

func (h *Handlers) CompletePerformance(w http.ResponseWriter, r *http.Request) {
	h.mutatePerformance(w, r, nil, h.saga.CompletePerformance)
}

func (h *Handlers) mutatePerformance(
	w http.ResponseWriter,
	r *http.Request,
	body interface{},
	fn func(ctx context.Context, id uuid.UUID) (*domain.Performance, error),
) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if body != nil && !decode(w, r, body) {
		return
	}
	p, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPerformanceResponse(p))
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		loggerFrom(r).WithField("failed", failed).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, failed)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_input", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_input", "malformed request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
