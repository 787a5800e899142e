package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketing_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	SagaOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_saga_outcomes_total",
			Help: "Order creation sagas by terminal outcome",
		},
		[]string{"outcome"},
	)

	ReservationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_reservation_rejections_total",
			Help: "Refused capacity reservations by reason",
		},
		[]string{"reason"},
	)

	CompensationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_compensation_failures_total",
			Help: "Compensations that could not be applied inline and were queued",
		},
	)

	PaymentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketing_payment_seconds",
			Help:    "Latency of payment gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketing_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
