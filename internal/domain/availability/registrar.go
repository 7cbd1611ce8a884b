package availability

import (
	"context"
	"time"

	"github.com/xenking/domainshop/internal/registrar"
)

// RegistrarChecker is the part of the registrar client the oracle needs.
type RegistrarChecker interface {
	Check(ctx context.Context, fqdn string) (registrar.Availability, error)
}

// RegistrarOracle quotes names with the registrar's live availability API.
type RegistrarOracle struct {
	client RegistrarChecker
}

// NewRegistrarOracle creates a RegistrarOracle.
func NewRegistrarOracle(client RegistrarChecker) *RegistrarOracle {
	return &RegistrarOracle{client: client}
}

// Check implements Oracle.
func (o *RegistrarOracle) Check(ctx context.Context, name, tld string) (Quote, error) {
	a, err := o.client.Check(ctx, name+tld)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Domain:    name,
		TLD:       tld,
		Available: a.Available,
		Price:     a.Price,
		Currency:  a.Currency,
		Premium:   a.Premium,
		QuotedAt:  time.Now(),
	}, nil
}
