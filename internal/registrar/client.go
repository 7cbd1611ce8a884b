// Package registrar is the client for the domain registrar API.
package registrar

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/domainshop/internal/domain/provider"
	"github.com/xenking/domainshop/internal/metrics"
)

// Name identifies the registrar in errors and metrics.
const Name = "registrar"

// Availability is the registrar's live answer for one name.
type Availability struct {
	Available bool
	Price     decimal.Decimal
	Currency  string
	Premium   bool
}

// RegisterRequest purchases a domain. IdempotencyKey is the order's token:
// the registrar applies at most one registration per key.
type RegisterRequest struct {
	Domain         string
	Years          int
	IdempotencyKey string
	Price          decimal.Decimal
	Currency       string
}

// Registration is a domain held under our account.
type Registration struct {
	Domain         string
	Reference      string
	IdempotencyKey string
	RegisteredAt   time.Time
	ExpiresAt      time.Time
}

// Client talks to the registrar API.
type Client struct {
	http *provider.HTTPClient
}

// New creates a registrar client.
func New(cfg provider.ClientConfig, httpClient *http.Client, m *metrics.Metrics) *Client {
	return &Client{http: provider.NewHTTPClient(Name, cfg, httpClient, m)}
}

// Check asks whether fqdn can be registered and at what price.
func (c *Client) Check(ctx context.Context, fqdn string) (Availability, error) {
	var a Availability
	err := c.http.Do(ctx, provider.Call{
		Operation: "check",
		Method:    http.MethodGet,
		Path:      "/v1/domains/" + url.PathEscape(fqdn) + "/availability",
	}, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "available":
				a.Available, err = d.Bool()
			case "price":
				a.Price, err = provider.DecodeDecimal(d)
			case "currency":
				a.Currency, err = d.Str()
			case "premium":
				a.Premium, err = d.Bool()
			default:
				err = d.Skip()
			}
			return err
		})
	})
	if err != nil {
		return Availability{}, err
	}
	return a, nil
}

// Register purchases req.Domain. A transport failure is returned as
// provider.ErrUnknownOutcome: call Lookup before trying again.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (Registration, error) {
	var r Registration
	err := c.http.Do(ctx, provider.Call{
		Operation:      "register",
		Method:         http.MethodPost,
		Path:           "/v1/domains",
		Mutating:       true,
		IdempotencyKey: req.IdempotencyKey,
		Body: func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("domain", func(e *jx.Encoder) { e.Str(req.Domain) })
				e.Field("years", func(e *jx.Encoder) { e.Int(req.Years) })
				e.Field("idempotencyKey", func(e *jx.Encoder) { e.Str(req.IdempotencyKey) })
				e.Field("price", func(e *jx.Encoder) { provider.EncodeDecimal(e, req.Price) })
				e.Field("currency", func(e *jx.Encoder) { e.Str(req.Currency) })
			})
		},
	}, func(d *jx.Decoder) error {
		return decodeRegistration(d, &r)
	})
	if err != nil {
		return Registration{}, err
	}
	return r, nil
}

// Lookup reports whether fqdn is held under our account by a registration
// made with idempotencyKey. It returns (nil, nil) when it is not.
func (c *Client) Lookup(ctx context.Context, fqdn, idempotencyKey string) (*Registration, error) {
	var r Registration
	err := c.http.Do(ctx, provider.Call{
		Operation: "lookup",
		Method:    http.MethodGet,
		Path:      "/v1/domains/" + url.PathEscape(fqdn),
	}, func(d *jx.Decoder) error {
		return decodeRegistration(d, &r)
	})
	if errors.Is(err, provider.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.IdempotencyKey != idempotencyKey {
		return nil, nil
	}
	return &r, nil
}

func decodeRegistration(d *jx.Decoder, r *Registration) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "domain":
			r.Domain, err = d.Str()
		case "reference", "id":
			r.Reference, err = d.Str()
		case "idempotencyKey":
			r.IdempotencyKey, err = d.Str()
		case "registeredAt":
			r.RegisteredAt, err = provider.DecodeTime(d)
		case "expiresAt":
			r.ExpiresAt, err = provider.DecodeTime(d)
		default:
			err = d.Skip()
		}
		return err
	})
}

// String implements fmt.Stringer for logs.
func (r Registration) String() string {
	return r.Domain + " (" + r.Reference + ", expires " + r.ExpiresAt.Format(time.DateOnly) + ")"
}
