package availability

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/domainshop/internal/metrics"
)

// Config controls search fan-out.
type Config struct {
	DefaultTLDs []string      `default:".com,.co.uk,.net,.org,.io" usage:"TLDs searched when none are given"`
	Concurrency int           `default:"8" usage:"maximum concurrent TLD checks per search"`
	Timeout     time.Duration `default:"3s" usage:"timeout for a single TLD check"`
}

// Service fans a search out to an Oracle.
type Service struct {
	oracle  Oracle
	cfg     Config
	metrics *metrics.Metrics
}

// NewService creates a Service. m may be nil.
func NewService(oracle Oracle, cfg Config, m *metrics.Metrics) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Service{oracle: oracle, cfg: cfg, metrics: m}
}

// Search checks the parsed name against every candidate TLD concurrently.
// Results keep candidate order. A TLD that fails is reported with its
// Error set; if every TLD fails, ErrUnavailable is returned instead.
func (s *Service) Search(ctx context.Context, raw string, tlds []string) ([]Quote, error) {
	q, err := ParseQuery(raw, tlds, s.cfg.DefaultTLDs)
	if err != nil {
		return nil, err
	}

	results := make([]Quote, len(q.TLDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, tld := range q.TLDs {
		g.Go(func() error {
			results[i] = s.check(gctx, q.Name, tld)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	if failed == len(results) {
		return nil, errors.Wrapf(ErrUnavailable, "all %d TLD checks failed for %q", failed, q.Name)
	}

	return results, nil
}

// Quote checks a single name and TLD. Unlike Search, a provider failure is
// returned as an error.
func (s *Service) Quote(ctx context.Context, name, tld string) (Quote, error) {
	q, err := ParseQuery(name, []string{tld}, nil)
	if err != nil {
		return Quote{}, err
	}
	// A TLD typed into the name must agree with the requested one.
	if len(q.TLDs) > 1 {
		return Quote{}, errors.Wrapf(ErrInvalidQuery, "%q does not match TLD %q", name, q.TLDs[1])
	}
	tld = q.TLDs[0]

	r := s.check(ctx, q.Name, tld)
	if r.Failed() {
		return Quote{}, errors.Wrapf(ErrUnavailable, "check %s%s: %s", q.Name, tld, r.Error)
	}
	return r, nil
}

func (s *Service) check(ctx context.Context, name, tld string) Quote {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	q, err := s.oracle.Check(ctx, name, tld)
	if err != nil {
		s.metrics.ObserveOracleCheck(tld, "error", time.Since(start))
		zctx.From(ctx).Warn("Availability check failed",
			zap.String("domain", name+tld),
			zap.Error(err),
		)
		return Quote{
			Domain:   name,
			TLD:      tld,
			QuotedAt: time.Now(),
			Error:    err.Error(),
		}
	}
	s.metrics.ObserveOracleCheck(tld, "ok", time.Since(start))

	q.Domain, q.TLD = name, tld
	if q.QuotedAt.IsZero() {
		q.QuotedAt = time.Now()
	}
	return q
}
