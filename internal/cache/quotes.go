// Package cache implements availability.Cache on Redis.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xenking/domainshop/internal/domain/availability"
)

const quoteKeyPrefix = "quote:"

// QuoteCache stores availability quotes as JSON strings with a TTL.
type QuoteCache struct {
	client redis.UniversalClient
}

// NewQuoteCache returns a cache backed by client.
func NewQuoteCache(client redis.UniversalClient) *QuoteCache {
	return &QuoteCache{client: client}
}

// GetQuote implements availability.Cache.
func (c *QuoteCache) GetQuote(ctx context.Context, fqdn string) (availability.Quote, bool, error) {
	raw, err := c.client.Get(ctx, quoteKeyPrefix+fqdn).Bytes()
	if errors.Is(err, redis.Nil) {
		return availability.Quote{}, false, nil
	}
	if err != nil {
		return availability.Quote{}, false, errors.Wrap(err, "get quote")
	}

	q, err := decodeQuote(raw)
	if err != nil {
		// A value we cannot read is as good as a miss.
		return availability.Quote{}, false, errors.Wrap(err, "decode quote")
	}
	return q, true, nil
}

// SetQuote implements availability.Cache. Failed checks are not cached.
func (c *QuoteCache) SetQuote(ctx context.Context, q availability.Quote, ttl time.Duration) error {
	if q.Failed() {
		return nil
	}
	if err := c.client.Set(ctx, quoteKeyPrefix+q.FQDN(), encodeQuote(q), ttl).Err(); err != nil {
		return errors.Wrap(err, "set quote")
	}
	return nil
}

func encodeQuote(q availability.Quote) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("domain")
	e.Str(q.Domain)
	e.FieldStart("tld")
	e.Str(q.TLD)
	e.FieldStart("available")
	e.Bool(q.Available)
	e.FieldStart("price")
	e.Str(q.Price.String())
	e.FieldStart("currency")
	e.Str(q.Currency)
	e.FieldStart("premium")
	e.Bool(q.Premium)
	e.FieldStart("quotedAt")
	e.Str(q.QuotedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}

func decodeQuote(raw []byte) (availability.Quote, error) {
	var q availability.Quote
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "domain":
			q.Domain, err = d.Str()
		case "tld":
			q.TLD, err = d.Str()
		case "available":
			q.Available, err = d.Bool()
		case "price":
			var s string
			if s, err = d.Str(); err == nil {
				q.Price, err = decimal.NewFromString(s)
			}
		case "currency":
			q.Currency, err = d.Str()
		case "premium":
			q.Premium, err = d.Bool()
		case "quotedAt":
			var s string
			if s, err = d.Str(); err == nil {
				q.QuotedAt, err = time.Parse(time.RFC3339Nano, s)
			}
		default:
			err = d.Skip()
		}
		return err
	})
	return q, err
}
