package availability

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// FakeOracle is a deterministic in-process Oracle for development and
// tests. Names are available at the TLD's list price unless marked taken.
type FakeOracle struct {
	mu       sync.RWMutex
	currency string
	prices   map[string]decimal.Decimal
	taken    map[string]bool
	premium  map[string]decimal.Decimal
	failures map[string]error
	now      func() time.Time
}

// NewFakeOracle creates an empty FakeOracle quoting in currency.
func NewFakeOracle(currency string) *FakeOracle {
	return &FakeOracle{
		currency: currency,
		prices:   make(map[string]decimal.Decimal),
		taken:    make(map[string]bool),
		premium:  make(map[string]decimal.Decimal),
		failures: make(map[string]error),
		now:      time.Now,
	}
}

// DefaultFakeOracle returns the development table: .com at 10.99,
// .co.uk at 8.99 with example.co.uk already registered.
func DefaultFakeOracle() *FakeOracle {
	return NewFakeOracle("GBP").
		SetPrice(".com", decimal.RequireFromString("10.99")).
		SetPrice(".co.uk", decimal.RequireFromString("8.99")).
		SetPrice(".net", decimal.RequireFromString("12.49")).
		SetPrice(".org", decimal.RequireFromString("11.49")).
		SetPrice(".io", decimal.RequireFromString("39.00")).
		Take("example.co.uk")
}

// SetPrice sets the list price for tld.
func (f *FakeOracle) SetPrice(tld string, price decimal.Decimal) *FakeOracle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[tld] = price
	return f
}

// Take marks fqdn as registered.
func (f *FakeOracle) Take(fqdn string) *FakeOracle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taken[fqdn] = true
	return f
}

// Premium marks fqdn as a premium name at price.
func (f *FakeOracle) Premium(fqdn string, price decimal.Decimal) *FakeOracle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.premium[fqdn] = price
	return f
}

// Fail makes every check under tld return err. A nil err clears it.
func (f *FakeOracle) Fail(tld string, err error) *FakeOracle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, tld)
	} else {
		f.failures[tld] = err
	}
	return f
}

// Check implements Oracle.
func (f *FakeOracle) Check(ctx context.Context, name, tld string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.failures[tld]; err != nil {
		return Quote{}, err
	}

	fqdn := name + tld
	q := Quote{
		Domain:   name,
		TLD:      tld,
		Currency: f.currency,
		QuotedAt: f.now(),
	}
	price, listed := f.prices[tld]
	if !listed || f.taken[fqdn] {
		return q, nil
	}
	q.Available = true
	q.Price = price
	if p, ok := f.premium[fqdn]; ok {
		q.Premium = true
		q.Price = p
	}
	return q, nil
}
