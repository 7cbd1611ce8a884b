package availability

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CachedOracle serves recent answers from a Cache before asking the
// wrapped Oracle. Cache failures degrade to a direct check.
type CachedOracle struct {
	next  Oracle
	cache Cache
	ttl   time.Duration
}

// NewCachedOracle wraps next with cache.
func NewCachedOracle(next Oracle, cache Cache, ttl time.Duration) *CachedOracle {
	return &CachedOracle{next: next, cache: cache, ttl: ttl}
}

// Check implements Oracle.
func (o *CachedOracle) Check(ctx context.Context, name, tld string) (Quote, error) {
	lg := zctx.From(ctx)

	q, ok, err := o.cache.GetQuote(ctx, name+tld)
	if err != nil {
		lg.Debug("Quote cache read failed", zap.Error(err))
	}
	if ok {
		return q, nil
	}

	q, err = o.next.Check(ctx, name, tld)
	if err != nil {
		return Quote{}, err
	}
	if err := o.cache.SetQuote(ctx, q, o.ttl); err != nil {
		lg.Debug("Quote cache write failed", zap.Error(err))
	}
	return q, nil
}

// Uncached is the Oracle behind o. Provisioning re-quotes through it so the
// live price is never a cached one.
func (o *CachedOracle) Uncached() Oracle {
	return o.next
}
