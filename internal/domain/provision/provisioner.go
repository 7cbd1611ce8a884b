package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/domainshop/internal/domain/availability"
	"github.com/xenking/domainshop/internal/domain/notify"
	"github.com/xenking/domainshop/internal/domain/order"
	"github.com/xenking/domainshop/internal/domain/pricing"
	"github.com/xenking/domainshop/internal/domain/provider"
	"github.com/xenking/domainshop/internal/hosting"
	"github.com/xenking/domainshop/internal/metrics"
	"github.com/xenking/domainshop/internal/registrar"
)

// Reason codes recorded on failed requests and orders.
const (
	CodeDomainTaken      = "domain_taken"
	CodePriceMismatch    = "price_mismatch"
	CodeRetriesExhausted = "retries_exhausted"

	// CancelledNotes marks requests dropped because an earlier step failed.
	CancelledNotes = "cancelled: domain step failed"
)

// Registrar is the part of the registrar client the provisioner needs.
type Registrar interface {
	Register(ctx context.Context, req registrar.RegisterRequest) (registrar.Registration, error)
	Lookup(ctx context.Context, fqdn, idempotencyKey string) (*registrar.Registration, error)
}

// HostingProvider is the part of the hosting client the provisioner needs.
type HostingProvider interface {
	CreateAccount(ctx context.Context, req hosting.CreateAccountRequest) (hosting.Account, error)
	FindAccount(ctx context.Context, idempotencyKey string) (*hosting.Account, error)
}

// Config holds provisioning settings.
type Config struct {
	// PriceTolerance is the largest accepted difference between the live
	// registrar price and the locked order price.
	PriceTolerance float64              `default:"0" usage:"Accepted live vs locked price difference"`
	MaxAttempts    int                  `default:"5" usage:"Claims per request before it fails for good"`
	Lease          time.Duration        `default:"2m" usage:"How long a claimed request is held"`
	RequeueDelay   time.Duration        `default:"30s" usage:"Base delay before a requeued request is due"`
	PollInterval   time.Duration        `default:"10s" usage:"Worker poll interval"`
	BatchSize      int                  `default:"20" usage:"Orders picked per worker pass"`
	Concurrency    int                  `default:"4" usage:"Orders provisioned concurrently by the worker"`
	Retry          provider.RetryPolicy `usage:"Retry policy within one attempt"`
}

func (c *Config) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	if c.RequeueDelay <= 0 {
		c.RequeueDelay = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = provider.DefaultRetryPolicy()
	}
}

type stepState int

const (
	stepDone stepState = iota
	stepFailed
)

// Provisioner runs the registration and hosting steps for paid orders.
type Provisioner struct {
	repo      Repository
	orders    order.Repository
	catalog   pricing.Repository
	quoter    availability.Oracle
	registrar Registrar
	hosting   HostingProvider
	tx        order.TxRunner
	notifier  order.Notifier
	metrics   *metrics.Metrics
	cfg       Config
	tolerance decimal.Decimal
	tracer    trace.Tracer
	now       func() time.Time
}

// NewProvisioner creates a Provisioner. quoter must not serve cached prices.
func NewProvisioner(
	cfg Config,
	repo Repository,
	orders order.Repository,
	catalog pricing.Repository,
	quoter availability.Oracle,
	reg Registrar,
	host HostingProvider,
	tx order.TxRunner,
	notifier order.Notifier,
	m *metrics.Metrics,
) *Provisioner {
	cfg.setDefaults()
	return &Provisioner{
		repo:      repo,
		orders:    orders,
		catalog:   catalog,
		quoter:    quoter,
		registrar: reg,
		hosting:   host,
		tx:        tx,
		notifier:  notifier,
		metrics:   m,
		cfg:       cfg,
		tolerance: decimal.NewFromFloat(cfg.PriceTolerance).Abs(),
		tracer:    otel.Tracer("domainshop/provision"),
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (p *Provisioner) SetClock(now func() time.Time) {
	p.now = now
}

// Enqueue creates the provisioning requests for a paid order: the domain
// registration and, when hosting was selected, the hosting account. It is
// safe to call more than once.
func (p *Provisioner) Enqueue(ctx context.Context, o *order.Order) error {
	now := p.now()
	reqs := []*Request{{
		ID:             uuid.New().String(),
		OrderID:        o.ID,
		IdempotencyKey: o.IdempotencyToken,
		Type:           RequestDomainRegistration,
		Status:         RequestQueued,
		Priority:       10,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}
	if o.HasHosting() {
		reqs = append(reqs, &Request{
			ID:             uuid.New().String(),
			OrderID:        o.ID,
			IdempotencyKey: o.IdempotencyToken,
			Type:           RequestHostingAccount,
			Status:         RequestQueued,
			Priority:       5,
			NextAttemptAt:  now,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	for _, r := range reqs {
		if _, err := p.repo.EnqueueRequest(ctx, r); err != nil {
			return errors.Wrapf(err, "enqueue %s", r.Type)
		}
	}
	return nil
}

// Records returns the provisioning state of an order.
func (p *Provisioner) Records(ctx context.Context, orderID string) (*Records, error) {
	if _, err := p.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}

	var rec Records
	d, err := p.repo.GetDomainByOrder(ctx, orderID)
	switch {
	case err == nil:
		rec.Domain = d
	case !errors.Is(err, ErrDomainNotFound):
		return nil, errors.Wrap(err, "get domain")
	}

	h, err := p.repo.GetHostingByOrder(ctx, orderID)
	switch {
	case err == nil:
		rec.Hosting = h
	case !errors.Is(err, ErrHostingNotFound):
		return nil, errors.Wrap(err, "get hosting")
	}

	rec.Requests, err = p.repo.ListRequests(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list requests")
	}
	return &rec, nil
}

// Provision advances a PAID order through registration and hosting. Orders
// already in a terminal status are left alone. It returns ErrInProgress
// when another invoker holds a step, and a retryable provider error when a
// step was requeued; in both cases the order stays PAID.
func (p *Provisioner) Provision(ctx context.Context, orderID string) (rerr error) {
	ctx, span := p.tracer.Start(ctx, "provision.Provision", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
		}
		span.End()
	}()

	o, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status.Terminal() {
		return nil
	}
	if o.Status != order.StatusPaid {
		return &order.ConflictError{OrderID: o.ID, Expected: order.StatusPaid, Actual: o.Status}
	}

	ctx = zctx.With(ctx, zap.String("order_id", o.ID), zap.String("domain", o.FQDN()))

	state, reason, err := p.domainStep(ctx, o)
	if err != nil {
		return err
	}
	if state == stepFailed {
		return p.fail(ctx, o, reason)
	}

	state, followUp, err := p.hostingStep(ctx, o)
	if err != nil {
		return err
	}
	if state == stepFailed {
		reason = followUp
	}

	return p.finish(ctx, o, reason)
}

// claim loads the order's request of type t, re-creating it if missing,
// and claims it. A completed or failed request is returned unclaimed.
func (p *Provisioner) claim(ctx context.Context, o *order.Order, t RequestType) (*Request, bool, error) {
	req, err := p.repo.GetRequest(ctx, o.ID, t)
	if errors.Is(err, ErrRequestNotFound) {
		if err := p.Enqueue(ctx, o); err != nil {
			return nil, false, err
		}
		req, err = p.repo.GetRequest(ctx, o.ID, t)
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s request", t)
	}

	switch req.Status {
	case RequestCompleted, RequestFailed:
		return req, false, nil
	}

	now := p.now()
	claimed, ok, err := p.repo.ClaimRequest(ctx, req.ID, now, now.Add(p.cfg.Lease))
	if err != nil {
		return nil, false, errors.Wrapf(err, "claim %s request", t)
	}
	if !ok {
		return nil, false, errors.Wrapf(ErrInProgress, "%s for order %s", t, o.ID)
	}
	return claimed, true, nil
}

func (p *Provisioner) domainStep(ctx context.Context, o *order.Order) (stepState, *order.Reason, error) {
	req, claimed, err := p.claim(ctx, o, RequestDomainRegistration)
	if err != nil {
		return 0, nil, err
	}
	if !claimed {
		if req.Status == RequestFailed {
			return stepFailed, reasonFromNotes(order.ReasonProvisionFailure, req.Notes), nil
		}
		return stepDone, nil, nil
	}

	lg := zctx.From(ctx).With(zap.Int("attempt", req.Attempts))
	reg, err := p.register(ctx, o, req)
	if err == nil {
		if err := p.recordDomain(ctx, o, reg); err != nil {
			return 0, nil, err
		}
		if err := p.repo.CompleteRequest(ctx, req.ID, "registered "+reg.Reference, p.now()); err != nil {
			return 0, nil, errors.Wrap(err, "complete domain request")
		}
		p.metrics.IncProvisioning(string(RequestDomainRegistration), string(RequestCompleted))
		lg.Info("Domain registered", zap.String("registrar_ref", reg.Reference))
		return stepDone, nil, nil
	}

	if ctx.Err() != nil {
		// The claim lapses with the lease; the next attempt re-checks ownership.
		return 0, nil, err
	}
	reason, retry := p.classify(err, req, order.ReasonProvisionFailure)
	if retry {
		lg.Warn("Domain registration deferred", zap.Error(err))
		return 0, nil, p.requeue(ctx, req, err)
	}

	if ferr := p.repo.FailRequest(ctx, req.ID, notes(reason), p.now()); ferr != nil {
		return 0, nil, errors.Wrap(ferr, "fail domain request")
	}
	p.metrics.IncProvisioning(string(RequestDomainRegistration), string(RequestFailed))
	lg.Warn("Domain registration failed", zap.String("code", reason.Code), zap.Error(err))
	return stepFailed, reason, nil
}

// register re-validates the quote and registers the domain. When an earlier
// call may have gone through, ownership is checked before calling again.
func (p *Provisioner) register(ctx context.Context, o *order.Order, req *Request) (registrar.Registration, error) {
	fqdn := o.FQDN()
	uncertain := req.Attempts > 1
	quoted := false

	var reg registrar.Registration
	err := provider.Do(ctx, p.cfg.Retry, func(ctx context.Context, attempt int) error {
		if uncertain || attempt > 0 {
			found, err := p.registrar.Lookup(ctx, fqdn, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if found != nil {
				reg = *found
				return nil
			}
		}

		if !quoted {
			if err := p.requote(ctx, o); err != nil {
				return err
			}
			quoted = true
		}

		r, err := p.registrar.Register(ctx, registrar.RegisterRequest{
			Domain:         fqdn,
			Years:          o.TermYears,
			IdempotencyKey: req.IdempotencyKey,
			Price:          o.DomainPrice,
			Currency:       o.Currency,
		})
		if err != nil {
			if _, rejected := provider.AsPermanent(err); !rejected {
				uncertain = true
			}
			return err
		}
		reg = r
		return nil
	})
	return reg, err
}

// requote checks the live registrar answer against the locked order price.
// A difference beyond tolerance halts provisioning instead of charging it.
func (p *Provisioner) requote(ctx context.Context, o *order.Order) error {
	q, err := p.quoter.Check(ctx, o.DomainName, o.TLD)
	if err != nil {
		if provider.IsRetryable(err) {
			return err
		}
		if _, ok := provider.AsPermanent(err); ok {
			return err
		}
		// Oracle failures outside the taxonomy are treated as outages.
		return fmt.Errorf("requote %s: %w: %w", o.FQDN(), provider.ErrTransient, err)
	}
	if !q.Available {
		return provider.Permanent(registrar.Name, CodeDomainTaken, o.FQDN()+" is no longer available")
	}
	if q.Currency != "" && q.Currency != o.Currency {
		return provider.Permanent(registrar.Name, CodePriceMismatch,
			fmt.Sprintf("live price is in %s, order is in %s", q.Currency, o.Currency))
	}
	if q.Price.Sub(o.DomainPrice).Abs().GreaterThan(p.tolerance) {
		return provider.Permanent(registrar.Name, CodePriceMismatch,
			fmt.Sprintf("live price %s differs from locked price %s", q.Price.StringFixed(2), o.DomainPrice.StringFixed(2)))
	}
	return nil
}

func (p *Provisioner) recordDomain(ctx context.Context, o *order.Order, reg registrar.Registration) error {
	now := p.now()
	registered := reg.RegisteredAt
	if registered.IsZero() {
		registered = now
	}
	expires := reg.ExpiresAt
	if expires.IsZero() {
		expires = registered.AddDate(o.TermYears, 0, 0)
	}

	err := p.repo.CreateDomain(ctx, &Domain{
		ID:           uuid.New().String(),
		OrderID:      o.ID,
		CustomerID:   o.CustomerID,
		Name:         o.DomainName,
		TLD:          o.TLD,
		Status:       DomainActive,
		RegisteredAt: registered,
		ExpiresAt:    expires,
		PricePaid:    o.DomainPrice.Mul(decimal.NewFromInt(int64(o.TermYears))).Round(2),
		Currency:     o.Currency,
		RegistrarRef: reg.Reference,
	})
	if err != nil && !errors.Is(err, ErrAlreadyRecorded) {
		return errors.Wrap(err, "create domain")
	}
	return nil
}

func (p *Provisioner) hostingStep(ctx context.Context, o *order.Order) (stepState, *order.Reason, error) {
	if !o.HasHosting() {
		return stepDone, nil, nil
	}

	req, claimed, err := p.claim(ctx, o, RequestHostingAccount)
	if err != nil {
		return 0, nil, err
	}
	if !claimed {
		if req.Status == RequestFailed {
			return stepFailed, reasonFromNotes(order.ReasonHostingFollowUp, req.Notes), nil
		}
		return stepDone, nil, nil
	}

	lg := zctx.From(ctx).With(zap.Int("attempt", req.Attempts))
	acc, err := p.createAccount(ctx, o, req)
	if err == nil {
		if err := p.recordHosting(ctx, o, acc); err != nil {
			return 0, nil, err
		}
		if err := p.repo.CompleteRequest(ctx, req.ID, "account "+acc.ID, p.now()); err != nil {
			return 0, nil, errors.Wrap(err, "complete hosting request")
		}
		p.metrics.IncProvisioning(string(RequestHostingAccount), string(RequestCompleted))
		lg.Info("Hosting account created", zap.String("account_id", acc.ID))
		return stepDone, nil, nil
	}

	if ctx.Err() != nil {
		return 0, nil, err
	}
	reason, retry := p.classify(err, req, order.ReasonHostingFollowUp)
	if retry {
		lg.Warn("Hosting provisioning deferred", zap.Error(err))
		return 0, nil, p.requeue(ctx, req, err)
	}

	// The domain stays registered; hosting is left for manual follow-up.
	if ferr := p.repo.FailRequest(ctx, req.ID, notes(reason), p.now()); ferr != nil {
		return 0, nil, errors.Wrap(ferr, "fail hosting request")
	}
	p.metrics.IncProvisioning(string(RequestHostingAccount), string(RequestFailed))
	lg.Warn("Hosting provisioning failed", zap.String("code", reason.Code), zap.Error(err))
	return stepFailed, reason, nil
}

func (p *Provisioner) createAccount(ctx context.Context, o *order.Order, req *Request) (hosting.Account, error) {
	pkg, err := p.catalog.GetHostingPackage(ctx, o.HostingPackageID)
	if err != nil {
		if errors.Is(err, pricing.ErrPackageNotFound) {
			return hosting.Account{}, provider.Permanent(hosting.Name, "package_not_found", o.HostingPackageID)
		}
		return hosting.Account{}, fmt.Errorf("get hosting package: %w: %w", provider.ErrTransient, err)
	}

	key := req.IdempotencyKey + ":" + string(RequestHostingAccount)
	uncertain := req.Attempts > 1

	var acc hosting.Account
	err = provider.Do(ctx, p.cfg.Retry, func(ctx context.Context, attempt int) error {
		if uncertain || attempt > 0 {
			found, err := p.hosting.FindAccount(ctx, key)
			if err != nil {
				return err
			}
			if found != nil {
				acc = *found
				return nil
			}
		}

		a, err := p.hosting.CreateAccount(ctx, hosting.CreateAccountRequest{
			Domain:         o.FQDN(),
			Plan:           pkg.ProviderPlan,
			CustomerID:     o.CustomerID,
			IdempotencyKey: key,
		})
		if err != nil {
			if _, rejected := provider.AsPermanent(err); !rejected {
				uncertain = true
			}
			return err
		}
		acc = a
		return nil
	})
	return acc, err
}

func (p *Provisioner) recordHosting(ctx context.Context, o *order.Order, acc hosting.Account) error {
	now := p.now()
	h := &HostingSubscription{
		ID:                uuid.New().String(),
		OrderID:           o.ID,
		CustomerID:        o.CustomerID,
		PackageID:         o.HostingPackageID,
		Status:            HostingActive,
		ProviderAccountID: acc.ID,
		ProviderUsername:  acc.Username,
		ProviderServer:    acc.Server,
		BillingCycle:      "annual",
		NextBillingAt:     now.AddDate(1, 0, 0),
		CreatedAt:         now,
	}
	if d, err := p.repo.GetDomainByOrder(ctx, o.ID); err == nil {
		h.DomainID = d.ID
	}

	err := p.repo.CreateHostingSubscription(ctx, h)
	if err != nil && !errors.Is(err, ErrAlreadyRecorded) {
		return errors.Wrap(err, "create hosting subscription")
	}
	return nil
}

// classify turns a step error into a reason. retry is true when the step
// should be requeued rather than failed. Only provider rejections fail on
// the first attempt; anything else may have had an effect and is retried.
func (p *Provisioner) classify(err error, req *Request, kind order.ReasonKind) (reason *order.Reason, retry bool) {
	if pe, ok := provider.AsPermanent(err); ok {
		return &order.Reason{Kind: kind, Code: pe.Code, Message: pe.Error()}, false
	}
	if req.Attempts < p.cfg.MaxAttempts {
		return nil, true
	}
	return &order.Reason{
		Kind:    kind,
		Code:    CodeRetriesExhausted,
		Message: fmt.Sprintf("gave up after %d attempts: %v", req.Attempts, err),
	}, false
}

func (p *Provisioner) requeue(ctx context.Context, req *Request, cause error) error {
	backoff := provider.RetryPolicy{
		BaseDelay:  p.cfg.RequeueDelay,
		MaxDelay:   p.cfg.RequeueDelay * 32,
		Multiplier: 2,
	}.Delay(req.Attempts - 1)

	if err := p.repo.RequeueRequest(ctx, req.ID, cause.Error(), p.now().Add(backoff)); err != nil {
		return errors.Wrapf(err, "requeue %s request", req.Type)
	}
	return errors.Wrapf(cause, "%s requeued", req.Type)
}

func (p *Provisioner) fail(ctx context.Context, o *order.Order, reason *order.Reason) error {
	var (
		failed    *order.Order
		cancelled int
	)
	err := p.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		failed, err = order.CompareAndSwap(ctx, p.orders, o.ID, order.StatusPaid, order.StatusProvisionFailed, order.TransitionUpdate{
			At:     p.now(),
			Reason: reason,
		})
		if err != nil {
			return err
		}
		// Later steps of a failed order never run.
		n, err := p.repo.CancelRequests(ctx, o.ID, CancelledNotes, p.now())
		if err != nil {
			return errors.Wrap(err, "cancel pending requests")
		}
		cancelled = n
		return nil
	})
	if errors.Is(err, order.ErrConflict) {
		// Another invoker finished the order first.
		return nil
	}
	if err != nil {
		return err
	}
	p.metrics.IncTransition(string(order.StatusPaid), string(order.StatusProvisionFailed))
	for range cancelled {
		p.metrics.IncProvisioning(string(RequestHostingAccount), string(RequestFailed))
	}

	p.notifier.Dispatch(ctx, notify.Event{
		Type:       notify.EventOrderProvisionFailed,
		OrderID:    failed.ID,
		CustomerID: failed.CustomerID,
		At:         p.now(),
	})
	return nil
}

func (p *Provisioner) finish(ctx context.Context, o *order.Order, followUp *order.Reason) error {
	var done *order.Order
	err := p.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		done, err = order.CompareAndSwap(ctx, p.orders, o.ID, order.StatusPaid, order.StatusProvisioned, order.TransitionUpdate{
			At:     p.now(),
			Reason: followUp,
		})
		return err
	})
	if errors.Is(err, order.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	p.metrics.IncTransition(string(order.StatusPaid), string(order.StatusProvisioned))
	zctx.From(ctx).Info("Order provisioned", zap.Bool("follow_up", followUp != nil))

	p.notifier.Dispatch(ctx, notify.Event{
		Type:       notify.EventOrderProvisioned,
		OrderID:    done.ID,
		CustomerID: done.CustomerID,
		At:         p.now(),
	})
	if followUp != nil {
		p.notifier.Dispatch(ctx, notify.Event{
			Type:       notify.EventHostingFollowUp,
			OrderID:    done.ID,
			CustomerID: done.CustomerID,
			At:         p.now(),
		})
	}
	return nil
}
