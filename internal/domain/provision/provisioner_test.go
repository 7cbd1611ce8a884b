package provision_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/domainshop/internal/domain/availability"
	"github.com/xenking/domainshop/internal/domain/notify"
	"github.com/xenking/domainshop/internal/domain/order"
	"github.com/xenking/domainshop/internal/domain/pricing"
	"github.com/xenking/domainshop/internal/domain/provider"
	"github.com/xenking/domainshop/internal/domain/provision"
	"github.com/xenking/domainshop/internal/hosting"
	"github.com/xenking/domainshop/internal/registrar"
	"github.com/xenking/domainshop/internal/repository/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRegistrar keeps registrations by domain. A scripted error with
// applied set registers the domain and still fails the call, like a
// timeout after the registrar committed.
type fakeRegistrar struct {
	mu      sync.Mutex
	regs    map[string]registrar.Registration
	script  []scripted
	calls   int
	lookups int
	delay   time.Duration
}

type scripted struct {
	err     error
	applied bool
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{regs: map[string]registrar.Registration{}}
}

func (m *fakeRegistrar) Register(ctx context.Context, req registrar.RegisterRequest) (registrar.Registration, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	var step scripted
	if len(m.script) > 0 {
		step, m.script = m.script[0], m.script[1:]
	}
	if step.err != nil && !step.applied {
		return registrar.Registration{}, step.err
	}

	reg := registrar.Registration{
		Domain:         req.Domain,
		Reference:      fmt.Sprintf("REG-%d", m.calls),
		IdempotencyKey: req.IdempotencyKey,
	}
	m.regs[req.Domain] = reg
	if step.err != nil {
		return registrar.Registration{}, step.err
	}
	return reg, nil
}

func (m *fakeRegistrar) Lookup(_ context.Context, fqdn, key string) (*registrar.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	reg, ok := m.regs[fqdn]
	if !ok || reg.IdempotencyKey != key {
		return nil, nil
	}
	return &reg, nil
}

func (m *fakeRegistrar) registerCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeHosting struct {
	mu       sync.Mutex
	accounts map[string]hosting.Account
	errs     []error
	calls    int
}

func newFakeHosting() *fakeHosting {
	return &fakeHosting{accounts: map[string]hosting.Account{}}
}

func (m *fakeHosting) CreateAccount(_ context.Context, req hosting.CreateAccountRequest) (hosting.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return hosting.Account{}, err
	}
	acc := hosting.Account{ID: "acct-" + req.Plan, Username: "u1", Server: "web1"}
	m.accounts[req.IdempotencyKey] = acc
	return acc, nil
}

func (m *fakeHosting) FindAccount(_ context.Context, key string) (*hosting.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[key]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.EventType
}

func (m *recordingNotifier) Dispatch(_ context.Context, e notify.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e.Type)
}

func (m *recordingNotifier) types() []notify.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.EventType(nil), m.events...)
}

type fixture struct {
	store    *memory.Store
	oracle   *availability.FakeOracle
	reg      *fakeRegistrar
	host     *fakeHosting
	notifier *recordingNotifier
	clock    *clock
	p        *provision.Provisioner
}

func newFixture(t *testing.T, cfg provision.Config) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		oracle:   availability.DefaultFakeOracle(),
		reg:      newFakeRegistrar(),
		host:     newFakeHosting(),
		notifier: &recordingNotifier{},
		clock:    &clock{now: t0},
	}
	require.NoError(t, f.store.Catalog().PutHostingPackage(context.Background(), pricing.HostingPackage{
		ID:           "basic",
		Name:         "Basic",
		MonthlyPrice: decimal.RequireFromString("4.99"),
		Currency:     "GBP",
		ProviderPlan: "plan-basic",
		Active:       true,
	}))

	if cfg.Retry.Attempts == 0 {
		cfg.Retry = provider.RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	}
	f.p = provision.NewProvisioner(cfg, f.store.Provisioning(), f.store.Orders(), f.store.Catalog(),
		f.oracle, f.reg, f.host, f.store, f.notifier, nil)
	f.p.SetClock(f.clock.Now)
	return f
}

// paid stores a PAID order for example.com and queues its requests.
func (f *fixture) paid(t *testing.T, id string, withHosting bool) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:               id,
		CustomerID:       "cust-1",
		DomainName:       "example",
		TLD:              ".com",
		TermYears:        2,
		DomainPrice:      decimal.RequireFromString("10.99"),
		Currency:         "GBP",
		Status:           order.StatusPaid,
		IdempotencyToken: "tok-" + id,
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}
	if withHosting {
		o.HostingPackageID = "basic"
		o.HostingPrice = decimal.RequireFromString("59.88")
	}
	o.TotalEstimate = order.Estimate(o.DomainPrice, o.HostingPrice, o.TermYears)

	require.NoError(t, f.store.Orders().Create(context.Background(), o))
	require.NoError(t, f.p.Enqueue(context.Background(), o))
	return o
}

func (f *fixture) order(t *testing.T, id string) *order.Order {
	t.Helper()
	o, err := f.store.Orders().Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) records(t *testing.T, id string) *provision.Records {
	t.Helper()
	rec, err := f.p.Records(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func TestProvision_DomainOnly(t *testing.T) {
	f := newFixture(t, provision.Config{})
	f.paid(t, "o-1", false)

	require.NoError(t, f.p.Provision(context.Background(), "o-1"))

	o := f.order(t, "o-1")
	assert.Equal(t, order.StatusProvisioned, o.Status)
	assert.Nil(t, o.Reason)

	rec := f.records(t, "o-1")
	require.NotNil(t, rec.Domain)
	assert.Equal(t, provision.DomainActive, rec.Domain.Status)
	assert.Equal(t, "example.com", rec.Domain.FQDN())
	assert.Equal(t, t0, rec.Domain.RegisteredAt)
	assert.Equal(t, t0.AddDate(2, 0, 0), rec.Domain.ExpiresAt)
	assert.True(t, decimal.RequireFromString("21.98").Equal(rec.Domain.PricePaid))
	assert.Nil(t, rec.Hosting)
	require.Len(t, rec.Requests, 1)
	assert.Equal(t, provision.RequestCompleted, rec.Requests[0].Status)
	assert.Equal(t, "tok-o-1", rec.Requests[0].IdempotencyKey)

	assert.Equal(t, []notify.EventType{notify.EventOrderProvisioned}, f.notifier.types())
}

func TestProvision_WithHosting(t *testing.T) {
	f := newFixture(t, provision.Config{})
	f.paid(t, "o-1", true)

	require.NoError(t, f.p.Provision(context.Background(), "o-1"))

	assert.Equal(t, order.StatusProvisioned, f.order(t, "o-1").Status)
	rec := f.records(t, "o-1")
	require.NotNil(t, rec.Domain)
	require.NotNil(t, rec.Hosting)
	assert.Equal(t, provision.HostingActive, rec.Hosting.Status)
	assert.Equal(t, "acct-plan-basic", rec.Hosting.ProviderAccountID)
	assert.Equal(t, rec.Domain.ID, rec.Hosting.DomainID)
	assert.Equal(t, "annual", rec.Hosting.BillingCycle)
}

func TestProvision_HostingTimeoutKeepsDomain(t *testing.T) {
	f := newFixture(t, provision.Config{MaxAttempts: 1})
	f.paid(t, "o-1", true)
	f.host.errs = []error{fmt.Errorf("hosting: %w: %w", provider.ErrUnknownOutcome, context.DeadlineExceeded)}

	require.NoError(t, f.p.Provision(context.Background(), "o-1"))

	o := f.order(t, "o-1")
	assert.Equal(t, order.StatusProvisioned, o.Status)
	require.NotNil(t, o.Reason)
	assert.Equal(t, order.ReasonHostingFollowUp, o.Reason.Kind)
	assert.Equal(t, provision.CodeRetriesExhausted, o.Reason.Code)

	rec := f.records(t, "o-1")
	require.NotNil(t, rec.Domain)
	assert.Equal(t, provision.DomainActive, rec.Domain.Status, "domain is never rolled back")
	assert.Nil(t, rec.Hosting)

	assert.Equal(t, []notify.EventType{notify.EventOrderProvisioned, notify.EventHostingFollowUp}, f.notifier.types())
}

func TestProvision_HostingRejected(t *testing.T) {
	f := newFixture(t, provision.Config{})
	f.paid(t, "o-1", true)
	f.host.errs = []error{provider.Permanent(hosting.Name, "invalid_plan", "plan-basic retired")}

	require.NoError(t, f.p.Provision(context.Background(), "o-1"))

	o := f.order(t, "o-1")
	assert.Equal(t, order.StatusProvisioned, o.Status)
	require.NotNil(t, o.Reason)
	assert.Equal(t, "invalid_plan", o.Reason.Code)
	assert.Equal(t, 1, f.host.calls)
}

func TestProvision_HostingRetriedOnLaterAttempt(t *testing.T) {
	f := newFixture(t, provision.Config{RequeueDelay: time.Second})
	f.paid(t, "o-1", true)
	f.host.errs = []error{fmt.Errorf("hosting: %w", provider.ErrTransient)}

	err := f.p.Provision(context.Background(), "o-1")
	require.ErrorIs(t, err, provider.ErrTransient)
	assert.Equal(t, order.StatusPaid, f.order(t, "o-1").Status, "order waits for hosting")

	f.clock.Advance(time.Second)
	require.NoError(t, f.p.Provision(context.Background(), "o-1"))

	o := f.order(t, "o-1")
	assert.Equal(t, order.StatusProvisioned, o.Status)
	assert.Nil(t, o.Reason)
	assert.Equal(t, 1, f.reg.registerCalls(), "domain step is not repeated")
}

func TestProvision_PriceMismatch(t *testing.T) {
	f := newFixture(t, provision.Config{})
	f.paid(t, "o-1", true)
	f.oracle.SetPrice(".com", decimal.RequireFromString("12.99"))

	require.NoError(t, f.p.Provision(context.Background(), "o-1"))

	o := f.order(t, "o-1")
	assert.Equal(t, order.StatusProvisionFailed, o.Status)
	require.NotNil(t, o.Reason)
	assert.Equal(t, order.ReasonProvisionFailure, o.Reason.Kind)
	assert.Equal(t, provision.CodePriceMismatch, o.Reason.Code)

	rec := f.records(t, "o-1")
	assert.Nil(t, rec.Domain)
	assert.Nil(t, rec.Hosting)
	require.Len(t, rec.Requests, 2)
	for _, r := range rec.Requests {
		assert.Equal(t, provision.RequestFailed, r.Status, r.Type)
		if r.Type == provision.RequestHostingAccount {
			assert.Equal(t, provision.CancelledNotes, r.Notes)
		}
	}
	assert.Zero(t, f.reg.registerCalls())
	assert.Zero(t, f.host.calls)
	assert.Equal(t, []notify.EventType{notify.EventOrderProvisionFailed}, f.notifier.types())

	due, err := f.store.Provisioning().ListDueOrders(context.Background(), t0.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestProvision_PriceWithinTolerance(t *testing.T) {
	f := newFixture(t, provision.Config{PriceTolerance: 0.50})
	f.paid(t, "o-1", false)
	f.oracle.SetPrice(".com", decimal.RequireFromString("11.29"))

	require.NoError(t, f.p.Provision(context.Background(), "o-1"))
	assert.Equal(t, order.StatusProvisioned, f.order(t, "o-1").Status)
}

func TestProvision_DomainTakenSincePayment(t *testing.T) {
	f := newFixture(t, provision.Config{})
	f.paid(t, "o-1", false)
	f.oracle.Take("example.com")

	require.NoError(t, f.p.Provision(context.Background(), "o-1"))

	o := f.order(t, "o-1")
	assert.Equal(t, order.StatusProvisionFailed, o.Status)
	assert.Equal(t, provision.CodeDomainTaken, o.Reason.Code)
}

func TestProvision_RegistrarRejects(t *testing.T) {
	f := newFixture(t, provision.Config{})
	f.paid(t, "o-1", false)
	f.reg.script = []scripted{{err: provider.Permanent(registrar.Name, "invalid_contact", "")}}

	require.NoError(t, f.p.Provision(context.Background(), "o-1"))

	o := f.order(t, "o-1")
	assert.Equal(t, order.StatusProvisionFailed, o.Status)
	assert.Equal(t, "invalid_contact", o.Reason.Code)
	assert.Nil(t, f.records(t, "o-1").Domain)
}

func TestProvision_UnknownOutcomeRechecksBeforeRetry(t *testing.T) {
	f := newFixture(t, provision.Config{RequeueDelay: time.Second})
	f.paid(t, "o-1", false)
	// The registrar commits but the response is lost.
	f.reg.script = []scripted{{err: fmt.Errorf("registrar: %w", provider.ErrUnknownOutcome), applied: true}}

	err := f.p.Provision(context.Background(), "o-1")
	require.ErrorIs(t, err, provider.ErrUnknownOutcome)
	assert.Equal(t, order.StatusPaid, f.order(t, "o-1").Status)

	// Not due before the backoff elapses.
	err = f.p.Provision(context.Background(), "o-1")
	require.ErrorIs(t, err, provision.ErrInProgress)

	f.clock.Advance(time.Second)
	require.NoError(t, f.p.Provision(context.Background(), "o-1"))

	assert.Equal(t, order.StatusProvisioned, f.order(t, "o-1").Status)
	assert.Equal(t, 1, f.reg.registerCalls(), "found by lookup, not registered twice")
	assert.Equal(t, "REG-1", f.records(t, "o-1").Domain.RegistrarRef)
}

func TestProvision_UnknownOutcomeWithinAttempt(t *testing.T) {
	f := newFixture(t, provision.Config{
		Retry: provider.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})
	f.paid(t, "o-1", false)
	f.reg.script = []scripted{{err: fmt.Errorf("registrar: %w", provider.ErrUnknownOutcome), applied: true}}

	require.NoError(t, f.p.Provision(context.Background(), "o-1"))
	assert.Equal(t, 1, f.reg.registerCalls())
	assert.Equal(t, 1, f.reg.lookups)
	assert.Equal(t, order.StatusProvisioned, f.order(t, "o-1").Status)
}

func TestProvision_RetriesExhausted(t *testing.T) {
	f := newFixture(t, provision.Config{MaxAttempts: 2, RequeueDelay: time.Second})
	f.paid(t, "o-1", false)
	outage := fmt.Errorf("registrar: %w", provider.ErrTransient)
	f.reg.script = []scripted{{err: outage}, {err: outage}}

	require.Error(t, f.p.Provision(context.Background(), "o-1"))
	f.clock.Advance(time.Second)
	require.NoError(t, f.p.Provision(context.Background(), "o-1"))

	o := f.order(t, "o-1")
	assert.Equal(t, order.StatusProvisionFailed, o.Status)
	assert.Equal(t, provision.CodeRetriesExhausted, o.Reason.Code)
	assert.Nil(t, f.records(t, "o-1").Domain)
}

func TestProvision_Concurrent(t *testing.T) {
	f := newFixture(t, provision.Config{})
	f.paid(t, "o-1", true)
	f.reg.delay = 10 * time.Millisecond

	const n = 12
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.p.Provision(context.Background(), "o-1")
			if err != nil && !errors.Is(err, provision.ErrInProgress) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// A caller that lost the hosting claim may have returned before it
	// completed; one more pass settles the order.
	require.NoError(t, f.p.Provision(context.Background(), "o-1"))

	assert.Equal(t, 1, f.reg.registerCalls(), "at most one registration")
	assert.Equal(t, 1, f.host.calls)
	assert.Equal(t, order.StatusProvisioned, f.order(t, "o-1").Status)
	assert.Equal(t, []notify.EventType{notify.EventOrderProvisioned}, f.notifier.types())
}

func TestProvision_Idempotent(t *testing.T) {
	f := newFixture(t, provision.Config{})
	f.paid(t, "o-1", false)

	require.NoError(t, f.p.Provision(context.Background(), "o-1"))
	require.NoError(t, f.p.Provision(context.Background(), "o-1"))
	require.NoError(t, f.p.Enqueue(context.Background(), f.order(t, "o-1")))

	assert.Equal(t, 1, f.reg.registerCalls())
	assert.Len(t, f.records(t, "o-1").Requests, 1)
}

func TestProvision_RequiresPaid(t *testing.T) {
	f := newFixture(t, provision.Config{})
	require.NoError(t, f.store.Orders().Create(context.Background(), &order.Order{
		ID:     "o-1",
		Status: order.StatusApproved,
	}))

	err := f.p.Provision(context.Background(), "o-1")
	require.ErrorIs(t, err, order.ErrConflict)

	err = f.p.Provision(context.Background(), "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestProvision_CancelledLeavesOrderPaid(t *testing.T) {
	f := newFixture(t, provision.Config{MaxAttempts: 1})
	f.paid(t, "o-1", false)
	f.oracle.Fail(".com", context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, f.p.Provision(ctx, "o-1"))
	assert.Equal(t, order.StatusPaid, f.order(t, "o-1").Status)
}
