// Package pricing holds the TLD price list and hosting package catalog that
// order intake snapshots prices from.
package pricing

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrPackageNotFound is returned when a hosting package does not exist.
	ErrPackageNotFound = errors.New("hosting package not found")
	// ErrTLDNotFound is returned when no price is listed for a TLD.
	ErrTLDNotFound = errors.New("tld price not found")
)

// MonthsPerYear converts monthly hosting prices to annual ones.
var MonthsPerYear = decimal.NewFromInt(12)

// TLDPrice is the registration and renewal list price for a TLD.
type TLDPrice struct {
	TLD       string
	Register  decimal.Decimal
	Renew     decimal.Decimal
	Currency  string
	UpdatedAt time.Time
}

// HostingPackage is a sellable hosting plan.
type HostingPackage struct {
	ID           string
	Name         string
	MonthlyPrice decimal.Decimal
	Currency     string
	// ProviderPlan is the plan identifier understood by the hosting provider.
	ProviderPlan string
	Active       bool
}

// AnnualPrice returns the monthly price multiplied by twelve, rounded to
// two decimal places.
func (p HostingPackage) AnnualPrice() decimal.Decimal {
	return p.MonthlyPrice.Mul(MonthsPerYear).Round(2)
}

// Repository is the read side used by the workflow plus the upsert used by
// the price ingest tool.
type Repository interface {
	GetHostingPackage(ctx context.Context, id string) (*HostingPackage, error)
	ListHostingPackages(ctx context.Context) ([]HostingPackage, error)
	GetTLDPrice(ctx context.Context, tld string) (*TLDPrice, error)
	ListTLDPrices(ctx context.Context) ([]TLDPrice, error)
	UpsertTLDPrice(ctx context.Context, p TLDPrice) error
}

// NormalizeTLD lower-cases a TLD and ensures it has a single leading dot.
func NormalizeTLD(tld string) string {
	tld = strings.ToLower(strings.TrimSpace(tld))
	tld = strings.TrimLeft(tld, ".")
	if tld == "" {
		return ""
	}
	return "." + tld
}
