package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/performance-ticketing/internal/idempotency"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/rateLimit"
)

type RouterConfig struct {
	Auth               *Authenticator
	RateLimiter        *rateLimit.RateLimiter
	RateLimitPerMinute int
	Idempotency        *idempotency.Idempotency
}

func SetupRouter(h *Handlers, logger observability.Logger, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(TracingMiddleware)
		r.Use(JWTMiddleware(cfg.Auth))
		r.Use(RateLimitMiddleware(cfg.RateLimiter, cfg.RateLimitPerMinute))
		r.Use(IdempotencyMiddleware(cfg.Idempotency))

		r.Post("/v1/users/me", h.RegisterUser)

		r.Route("/v1/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListOrders)
			r.Get("/{id}", h.GetOrder)
			r.Get("/{id}/payment", h.VerifyPayment)
			r.Post("/{id}/cancel", h.CancelOrder)
			r.Patch("/{id}/status", h.ChangeOrderStatus)
		})

		r.Get("/v1/performances/{id}", h.GetPerformance)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/v1/tickets/{id}/use", h.UseTicket)
			r.Post("/v1/performances", h.CreatePerformance)
			r.Put("/v1/performances/{id}/capacity", h.ResizeCapacity)
			r.Put("/v1/performances/{id}/price", h.ChangeUnitPrice)
			r.Post("/v1/performances/{id}/cancel", h.CancelPerformance)
			r.Post("/v1/performances/{id}/complete", h.CompletePerformance)
		})
	})

	return r
}
