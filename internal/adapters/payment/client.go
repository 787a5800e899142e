package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/port"
)

type paymentRequest struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	OrderID  uuid.UUID   `json:"orderId"`
}

type paymentResponse struct {
	PaymentIntentID string      `json:"paymentIntentId"`
	Status          string      `json:"status"`
	Amount          json.Number `json:"amount"`
	Currency        string      `json:"currency"`
	OrderID         string      `json:"orderId"`
	ProcessedAt     gatewayTime `json:"processedAt"`
	ErrorMessage    string      `json:"errorMessage,omitempty"`
}

// gatewayTime accepts RFC 3339 as well as zone-less timestamps, which are
// read as UTC. A value that matches no layout decodes to the zero time, so
// the timestamp can never override status or paymentIntentId.
type gatewayTime time.Time

var gatewayTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *gatewayTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil || raw == "" {
		*t = gatewayTime{}
		return nil
	}
	for _, layout := range gatewayTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			*t = gatewayTime(parsed)
			return nil
		}
	}
	*t = gatewayTime{}
	return nil
}

type errorResponse struct {
	Message      string `json:"message"`
	ErrorMessage string `json:"errorMessage"`
}

func (e errorResponse) text() string {
	if e.ErrorMessage != "" {
		return e.ErrorMessage
	}
	return e.Message
}

// Client talks to the payment gateway over HTTP.
type Client struct {
	http *resty.Client
	log  observability.Logger
}

var _ port.PaymentGateway = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration, log observability.Logger) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c, log: log}
}

// ProcessPayment posts one charge. It does not retry: a second charge for
// the same order is never attempted from here.
func (c *Client) ProcessPayment(ctx context.Context, req port.PaymentRequest) port.PaymentResult {
	start := time.Now()
	log := c.log.WithFields(map[string]interface{}{"order_id": req.OrderID, "amount": req.Amount.StringFixed(2)})

	var (
		body    paymentResponse
		errBody errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(paymentRequest{
			Amount:   json.Number(req.Amount.StringFixed(2)),
			Currency: req.Currency,
			OrderID:  req.OrderID,
		}).
		SetResult(&body).
		SetError(&errBody).
		Post("/payments")

	result := toResult(resp, err, body, errBody)
	observability.PaymentDuration.WithLabelValues(string(result.Status)).Observe(time.Since(start).Seconds())
	if result.Succeeded() {
		log.WithField("payment_reference", result.Reference).Info("payment succeeded")
	} else {
		log.WithField("reason", result.ErrorMessage).Warn("payment failed")
	}
	return result
}

// GetPayment polls the status of an earlier charge.
func (c *Client) GetPayment(ctx context.Context, reference string) (port.PaymentResult, error) {
	if reference == "" {
		return port.PaymentResult{}, errors.New("payment reference is required")
	}
	var (
		body    paymentResponse
		errBody errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", reference).
		SetResult(&body).
		SetError(&errBody).
		Get("/payments/{id}")
	if err != nil {
		return port.PaymentResult{}, errors.Wrapf(err, "get payment %s", reference)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return port.PaymentResult{}, errors.Newf("payment %s not found", reference)
	}
	if resp.IsError() {
		return port.PaymentResult{}, errors.Newf("get payment %s: gateway returned %d: %s", reference, resp.StatusCode(), errBody.text())
	}
	return toResult(resp, nil, body, errBody), nil
}

func toResult(resp *resty.Response, err error, body paymentResponse, errBody errorResponse) port.PaymentResult {
	if err != nil {
		return port.PaymentResult{Status: port.PaymentFailed, ErrorMessage: "payment gateway unreachable: " + err.Error()}
	}
	if resp.IsError() {
		msg := errBody.text()
		if msg == "" {
			msg = resp.Status()
		}
		return port.PaymentResult{Status: port.PaymentFailed, ErrorMessage: msg}
	}
	if !strings.EqualFold(body.Status, string(port.PaymentSucceeded)) || body.PaymentIntentID == "" {
		msg := body.ErrorMessage
		if msg == "" {
			msg = "payment " + strings.ToLower(body.Status)
		}
		return port.PaymentResult{
			Status:       port.PaymentFailed,
			Reference:    body.PaymentIntentID,
			ErrorMessage: msg,
			ProcessedAt:  time.Time(body.ProcessedAt),
		}
	}
	return port.PaymentResult{
		Status:      port.PaymentSucceeded,
		Reference:   body.PaymentIntentID,
		ProcessedAt: time.Time(body.ProcessedAt),
	}
}
