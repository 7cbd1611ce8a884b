// Package hosting is the client for the hosting provider's account API.
package hosting

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/domainshop/internal/domain/provider"
	"github.com/xenking/domainshop/internal/metrics"
)

// Name identifies the hosting provider in errors and metrics.
const Name = "hosting"

// CreateAccountRequest provisions one hosting account for a domain.
type CreateAccountRequest struct {
	Domain         string
	Plan           string
	CustomerID     string
	IdempotencyKey string
}

// Account is a provisioned hosting account.
type Account struct {
	ID        string
	Username  string
	Server    string
	CreatedAt time.Time
}

// Client talks to the hosting provider.
type Client struct {
	http *provider.HTTPClient
}

// New creates a hosting client.
func New(cfg provider.ClientConfig, httpClient *http.Client, m *metrics.Metrics) *Client {
	return &Client{http: provider.NewHTTPClient(Name, cfg, httpClient, m)}
}

// CreateAccount provisions an account. A transport failure is returned as
// provider.ErrUnknownOutcome: call FindAccount before trying again.
func (c *Client) CreateAccount(ctx context.Context, req CreateAccountRequest) (Account, error) {
	var a Account
	err := c.http.Do(ctx, provider.Call{
		Operation:      "create_account",
		Method:         http.MethodPost,
		Path:           "/v1/accounts",
		Mutating:       true,
		IdempotencyKey: req.IdempotencyKey,
		Body: func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("domain", func(e *jx.Encoder) { e.Str(req.Domain) })
				e.Field("plan", func(e *jx.Encoder) { e.Str(req.Plan) })
				e.Field("customer", func(e *jx.Encoder) { e.Str(req.CustomerID) })
				e.Field("idempotencyKey", func(e *jx.Encoder) { e.Str(req.IdempotencyKey) })
			})
		},
	}, func(d *jx.Decoder) error {
		return decodeAccount(d, &a)
	})
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// FindAccount returns the account created with idempotencyKey, or nil when
// none exists.
func (c *Client) FindAccount(ctx context.Context, idempotencyKey string) (*Account, error) {
	var a Account
	err := c.http.Do(ctx, provider.Call{
		Operation: "find_account",
		Method:    http.MethodGet,
		Path:      "/v1/accounts?idempotency_key=" + url.QueryEscape(idempotencyKey),
	}, func(d *jx.Decoder) error {
		return decodeAccount(d, &a)
	})
	if errors.Is(err, provider.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func decodeAccount(d *jx.Decoder, a *Account) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			a.ID, err = d.Str()
		case "username":
			a.Username, err = d.Str()
		case "server":
			a.Server, err = d.Str()
		case "createdAt":
			a.CreatedAt, err = provider.DecodeTime(d)
		default:
			err = d.Skip()
		}
		return err
	})
}
