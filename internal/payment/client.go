// Package payment is the client for the payment processor's hosted checkout
// API and the verifier for its webhook signatures.
package payment

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/domainshop/internal/domain/provider"
	"github.com/xenking/domainshop/internal/metrics"
)

// Name identifies the payment processor in errors and metrics.
const Name = "payment"

// SessionRequest asks for a hosted checkout page for one invoice.
type SessionRequest struct {
	InvoiceID      string
	Amount         decimal.Decimal
	Currency       string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// Session is a hosted checkout session.
type Session struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// Client talks to the payment processor.
type Client struct {
	http *provider.HTTPClient
}

// New creates a payment client.
func New(cfg provider.ClientConfig, httpClient *http.Client, m *metrics.Metrics) *Client {
	return &Client{http: provider.NewHTTPClient(Name, cfg, httpClient, m)}
}

// CreateSession opens a checkout session. Retrying with the same
// IdempotencyKey returns the same session.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	var s Session
	err := c.http.Do(ctx, provider.Call{
		Operation:      "create_session",
		Method:         http.MethodPost,
		Path:           "/v1/checkout/sessions",
		Mutating:       true,
		IdempotencyKey: req.IdempotencyKey,
		Body: func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("reference", func(e *jx.Encoder) { e.Str(req.InvoiceID) })
				e.Field("amount", func(e *jx.Encoder) { provider.EncodeDecimal(e, req.Amount) })
				e.Field("currency", func(e *jx.Encoder) { e.Str(req.Currency) })
				if req.SuccessURL != "" {
					e.Field("successUrl", func(e *jx.Encoder) { e.Str(req.SuccessURL) })
				}
				if req.CancelURL != "" {
					e.Field("cancelUrl", func(e *jx.Encoder) { e.Str(req.CancelURL) })
				}
			})
		},
	}, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				s.ID, err = d.Str()
			case "url":
				s.URL, err = d.Str()
			case "expiresAt":
				s.ExpiresAt, err = provider.DecodeTime(d)
			default:
				err = d.Skip()
			}
			return err
		})
	})
	if err != nil {
		return Session{}, err
	}
	return s, nil
}
