package availability

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/likexian/whois"

	"github.com/xenking/domainshop/internal/domain/pricing"
)

// Registration markers are checked before availability markers: a record
// carrying any of them is taken even if it also says "not found" somewhere.
var (
	whoisTakenMarkers = []string{
		"registrar:",
		"registrant:",
		"creation date:",
		"created:",
		"registry expiry date:",
		"expiration date:",
		"name server:",
		"nameserver:",
		"nserver:",
		"domain status:",
	}
	whoisFreeMarkers = []string{
		"no match for",
		"not found",
		"no entries found",
		"no data found",
		"status: free",
		"status: available",
		"no object found",
		"object does not exist",
		"is available for registration",
		"the queried object does not exist",
		"no such domain",
		"domain name has not been registered",
	}
)

// WhoisOracle decides availability from WHOIS records and prices names from
// the TLD price list. It never reports premium pricing.
type WhoisOracle struct {
	client *whois.Client
	prices pricing.Repository
}

// NewWhoisOracle creates a WhoisOracle with the given per-lookup timeout.
func NewWhoisOracle(prices pricing.Repository, timeout time.Duration) *WhoisOracle {
	return &WhoisOracle{
		client: whois.NewClient().SetTimeout(timeout),
		prices: prices,
	}
}

// Check implements Oracle.
func (o *WhoisOracle) Check(ctx context.Context, name, tld string) (Quote, error) {
	price, err := o.prices.GetTLDPrice(ctx, tld)
	if err != nil {
		return Quote{}, errors.Wrapf(err, "price for %s", tld)
	}

	record, err := o.lookup(ctx, name+tld)
	if err != nil {
		return Quote{}, errors.Wrapf(err, "whois %s%s", name, tld)
	}

	q := Quote{
		Domain:   name,
		TLD:      tld,
		Currency: price.Currency,
		QuotedAt: time.Now(),
	}
	if whoisAvailable(record) {
		q.Available = true
		q.Price = price.Register
	}
	return q, nil
}

func (o *WhoisOracle) lookup(ctx context.Context, fqdn string) (string, error) {
	type result struct {
		record string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		record, err := o.client.Whois(fqdn)
		done <- result{record: record, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.record, r.err
	}
}

// whoisAvailable classifies a raw WHOIS record. Unclear records are taken.
func whoisAvailable(record string) bool {
	lower := strings.ToLower(record)
	for _, m := range whoisTakenMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	if strings.Contains(lower, "this name is reserved") {
		return false
	}
	for _, m := range whoisFreeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
