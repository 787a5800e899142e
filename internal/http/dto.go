package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
)

type orderLineResponse struct {
	PerformanceID uuid.UUID `json:"performance_id"`
	Quantity      int       `json:"quantity"`
	UnitPrice     string    `json:"unit_price"`
}

type ticketResponse struct {
	ID            uuid.UUID `json:"id"`
	OrderID       uuid.UUID `json:"order_id"`
	PerformanceID uuid.UUID `json:"performance_id"`
	Status        string    `json:"status"`
	UnitPrice     string    `json:"unit_price"`
}

type orderResponse struct {
	ID               uuid.UUID           `json:"id"`
	UserID           uuid.UUID           `json:"user_id"`
	Status           string              `json:"status"`
	TotalPrice       string              `json:"total_price"`
	PaymentReference *string             `json:"payment_reference,omitempty"`
	Lines            []orderLineResponse `json:"lines"`
	Tickets          []ticketResponse    `json:"tickets"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

type performanceResponse struct {
	ID        uuid.UUID `json:"id"`
	StartsAt  time.Time `json:"starts_at"`
	Capacity  int       `json:"capacity"`
	Available int       `json:"available"`
	Status    string    `json:"status"`
	UnitPrice string    `json:"unit_price"`
}

type paymentResponse struct {
	Reference    string    `json:"reference"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ProcessedAt  time.Time `json:"processed_at"`
}

func toOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		ID:               o.ID,
		UserID:           o.UserID,
		Status:           o.Status.String(),
		TotalPrice:       o.TotalPrice.StringFixed(2),
		PaymentReference: o.PaymentReference,
		Lines:            make([]orderLineResponse, 0, len(o.Lines)),
		Tickets:          make([]ticketResponse, 0, len(o.Tickets)),
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, orderLineResponse{
			PerformanceID: l.PerformanceID,
			Quantity:      l.Quantity,
			UnitPrice:     l.UnitPrice.StringFixed(2),
		})
	}
	for _, t := range o.Tickets {
		resp.Tickets = append(resp.Tickets, toTicketResponse(t))
	}
	return resp
}

func toTicketResponse(t *domain.Ticket) ticketResponse {
	return ticketResponse{
		ID:            t.ID,
		OrderID:       t.OrderID,
		PerformanceID: t.PerformanceID,
		Status:        t.Status.String(),
		UnitPrice:     t.UnitPrice.StringFixed(2),
	}
}

func toPerformanceResponse(p *domain.Performance) performanceResponse {
	return performanceResponse{
		ID:        p.ID,
		StartsAt:  p.StartsAt,
		Capacity:  p.Capacity,
		Available: p.Available,
		Status:    p.Status.String(),
		UnitPrice: p.UnitPrice.StringFixed(2),
	}
}
