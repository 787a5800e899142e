package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/port"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	log, _ := test.NewNullLogger()
	return NewClient(srv.URL, timeout, observability.NewLoggerFrom(log))
}

func TestProcessPaymentSucceeded(t *testing.T) {
	orderID := uuid.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 100.0, req["amount"])
		assert.Equal(t, "EUR", req["currency"])
		assert.Equal(t, orderID.String(), req["orderId"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"paymentIntentId":"pi_1","status":"Succeeded","amount":100,"currency":"EUR","orderId":"` +
			orderID.String() + `","processedAt":"2026-01-01T10:00:00Z"}`))
	}, time.Second)

	res := c.ProcessPayment(context.Background(), port.PaymentRequest{
		Amount:   decimal.RequireFromString("100"),
		Currency: "EUR",
		OrderID:  orderID,
	})
	assert.True(t, res.Succeeded())
	assert.Equal(t, "pi_1", res.Reference)
}

func TestProcessPaymentAcceptsGatewayTimestamps(t *testing.T) {
	cases := map[string]struct {
		processedAt string
		want        time.Time
	}{
		"zone-less with fraction": {`"2026-01-01T10:00:00.1234567"`, time.Date(2026, 1, 1, 10, 0, 0, 123456700, time.UTC)},
		"zone-less":               {`"2026-01-01T10:00:00"`, time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)},
		"offset":                  {`"2026-01-01T12:00:00+02:00"`, time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)},
		"unparseable":             {`"yesterday"`, time.Time{}},
		"null":                    {`null`, time.Time{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"paymentIntentId":"pi_1","status":"Succeeded","amount":100,"currency":"EUR",` +
					`"orderId":"x","processedAt":` + tc.processedAt + `}`))
			}, time.Second)

			res := c.ProcessPayment(context.Background(), port.PaymentRequest{
				Amount:   decimal.RequireFromString("100"),
				Currency: "EUR",
				OrderID:  uuid.New(),
			})
			require.True(t, res.Succeeded(), res.ErrorMessage)
			assert.Equal(t, "pi_1", res.Reference)
			assert.True(t, tc.want.Equal(res.ProcessedAt), "got %s", res.ProcessedAt)
		})
	}
}

func TestProcessPaymentFailures(t *testing.T) {
	cases := map[string]struct {
		handler http.HandlerFunc
		timeout time.Duration
		reason  string
	}{
		"declined": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"paymentIntentId":"pi_2","status":"Failed","errorMessage":"card declined"}`))
			},
			reason: "card declined",
		},
		"error status": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(`{"message":"upstream down"}`))
			},
			reason: "upstream down",
		},
		"timeout": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
			},
			timeout: 20 * time.Millisecond,
			reason:  "payment gateway unreachable",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			timeout := tc.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			c := newTestClient(t, tc.handler, timeout)
			res := c.ProcessPayment(context.Background(), port.PaymentRequest{
				Amount: decimal.NewFromInt(10), Currency: "EUR", OrderID: uuid.New(),
			})
			assert.False(t, res.Succeeded())
			assert.Equal(t, port.PaymentFailed, res.Status)
			assert.Contains(t, res.ErrorMessage, tc.reason)
		})
	}
}

func TestProcessPaymentUnreachable(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := NewClient("http://127.0.0.1:1", time.Second, observability.NewLoggerFrom(log))
	res := c.ProcessPayment(context.Background(), port.PaymentRequest{
		Amount: decimal.NewFromInt(10), Currency: "EUR", OrderID: uuid.New(),
	})
	assert.Equal(t, port.PaymentFailed, res.Status)
}

func TestGetPayment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/payments/pi_9" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"paymentIntentId":"pi_9","status":"Succeeded"}`))
	}, time.Second)

	res, err := c.GetPayment(context.Background(), "pi_9")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	_, err = c.GetPayment(context.Background(), "pi_missing")
	require.Error(t, err)
}
