// Package availability answers "can this name be registered, and at what
// price" across a set of TLDs. Results are quotes: they seed an order but are
// never trusted again once the order exists.
package availability

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable is returned when no TLD in a search could be checked.
	// It is retriable and never means "all taken".
	ErrUnavailable = errors.New("availability provider unavailable")

	// ErrInvalidQuery is returned for a malformed domain query.
	ErrInvalidQuery = errors.New("invalid domain query")
)

// Quote is one TLD's availability answer.
type Quote struct {
	// Domain is the label without the TLD.
	Domain    string
	TLD       string
	Available bool
	Price     decimal.Decimal
	Currency  string
	Premium   bool
	QuotedAt  time.Time
	// Error is set when this TLD could not be checked. Available is false
	// in that case but the name is not known to be taken.
	Error string
}

// FQDN returns the full domain name.
func (q Quote) FQDN() string {
	return q.Domain + q.TLD
}

// Failed reports whether the TLD check itself failed.
func (q Quote) Failed() bool {
	return q.Error != ""
}

// Oracle checks one name under one TLD. Implementations are selected at
// construction: a registrar API, WHOIS, or a deterministic table.
type Oracle interface {
	Check(ctx context.Context, name, tld string) (Quote, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, name, tld string) (Quote, error)

// Check calls f.
func (f OracleFunc) Check(ctx context.Context, name, tld string) (Quote, error) {
	return f(ctx, name, tld)
}

// Cache stores recent quotes keyed by FQDN.
type Cache interface {
	GetQuote(ctx context.Context, fqdn string) (Quote, bool, error)
	SetQuote(ctx context.Context, q Quote, ttl time.Duration) error
}
