// Package seed loads the starter catalog and API keys into a store.
package seed

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/domainshop/internal/domain/auth"
	"github.com/xenking/domainshop/internal/domain/pricing"
)

// Target receives seed rows. Any field may be nil to skip that kind.
type Target struct {
	Package  func(ctx context.Context, p pricing.HostingPackage) error
	TLDPrice func(ctx context.Context, p pricing.TLDPrice) error
	Customer func(ctx context.Context, c auth.Customer) error
	APIKey   func(ctx context.Context, k auth.APIKeyInfo) error
}

// Data is one batch of seed rows. APIKeys carry hashes, never raw keys.
type Data struct {
	Packages  []pricing.HostingPackage
	TLDPrices []pricing.TLDPrice
	Customers []auth.Customer
	APIKeys   []auth.APIKeyInfo
}

// Catalog returns the starter hosting packages and TLD price list in GBP.
func Catalog(now time.Time) Data {
	pkg := func(id, name, monthly, plan string) pricing.HostingPackage {
		return pricing.HostingPackage{
			ID:           id,
			Name:         name,
			MonthlyPrice: decimal.RequireFromString(monthly),
			Currency:     "GBP",
			ProviderPlan: plan,
			Active:       true,
		}
	}
	tld := func(name, register, renew string) pricing.TLDPrice {
		return pricing.TLDPrice{
			TLD:       name,
			Register:  decimal.RequireFromString(register),
			Renew:     decimal.RequireFromString(renew),
			Currency:  "GBP",
			UpdatedAt: now,
		}
	}
	return Data{
		Packages: []pricing.HostingPackage{
			pkg("basic", "Basic", "4.99", "plan-basic"),
			pkg("pro", "Pro", "9.99", "plan-pro"),
			pkg("business", "Business", "19.99", "plan-business"),
		},
		TLDPrices: []pricing.TLDPrice{
			tld(".com", "10.99", "12.99"),
			tld(".co.uk", "8.99", "8.99"),
			tld(".net", "12.49", "14.49"),
			tld(".org", "11.49", "13.49"),
			tld(".io", "39.00", "45.00"),
		},
	}
}

// Merge appends other's rows to d.
func (d Data) Merge(other Data) Data {
	d.Packages = append(d.Packages, other.Packages...)
	d.TLDPrices = append(d.TLDPrices, other.TLDPrices...)
	d.Customers = append(d.Customers, other.Customers...)
	d.APIKeys = append(d.APIKeys, other.APIKeys...)
	return d
}

// Apply writes d into t. Customers are written before keys that reference
// them.
func Apply(ctx context.Context, t Target, d Data) error {
	if t.Package != nil {
		for _, p := range d.Packages {
			if err := t.Package(ctx, p); err != nil {
				return errors.Wrapf(err, "package %s", p.ID)
			}
		}
	}
	if t.TLDPrice != nil {
		for _, p := range d.TLDPrices {
			if err := t.TLDPrice(ctx, p); err != nil {
				return errors.Wrapf(err, "tld price %s", p.TLD)
			}
		}
	}
	if t.Customer != nil {
		for _, c := range d.Customers {
			if err := t.Customer(ctx, c); err != nil {
				return errors.Wrapf(err, "customer %s", c.ID)
			}
		}
	}
	if t.APIKey != nil {
		for _, k := range d.APIKeys {
			if err := t.APIKey(ctx, k); err != nil {
				return errors.Wrapf(err, "api key %s", k.ID)
			}
		}
	}
	return nil
}
