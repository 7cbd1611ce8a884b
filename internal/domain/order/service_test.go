package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/domainshop/internal/domain/availability"
	"github.com/xenking/domainshop/internal/domain/notify"
	"github.com/xenking/domainshop/internal/domain/pricing"
)

// --- Fakes ---

type fakeOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]Order
	history   map[string][]Transition
	createErr error
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: map[string]Order{}, history: map[string][]Transition{}}
}

func (m *fakeOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.orders[o.ID] = *o
	m.history[o.ID] = []Transition{{OrderID: o.ID, To: o.Status, At: o.CreatedAt}}
	return nil
}

func (m *fakeOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *fakeOrderRepo) List(_ context.Context, f Filter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if f.Status == "" || o.Status == f.Status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *fakeOrderRepo) CompareAndSwapStatus(_ context.Context, id string, from, to Status, upd TransitionUpdate) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != from {
		return nil, ErrStatusMismatch
	}
	o.Status = to
	o.UpdatedAt = upd.At
	if upd.Reason != nil {
		o.Reason = upd.Reason
	}
	if upd.MarkReviewed {
		at := upd.At
		o.ReviewedAt = &at
	}
	m.orders[id] = o
	m.history[id] = append(m.history[id], Transition{OrderID: id, From: from, To: to, At: upd.At})
	return &o, nil
}

func (m *fakeOrderRepo) History(_ context.Context, id string) ([]Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history[id]...), nil
}

type fakeCatalog struct {
	packages map[string]pricing.HostingPackage
	err      error
}

func (m *fakeCatalog) GetHostingPackage(_ context.Context, id string) (*pricing.HostingPackage, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.packages[id]
	if !ok {
		return nil, pricing.ErrPackageNotFound
	}
	return &p, nil
}

func (m *fakeCatalog) ListHostingPackages(context.Context) ([]pricing.HostingPackage, error) {
	return nil, nil
}

func (m *fakeCatalog) GetTLDPrice(context.Context, string) (*pricing.TLDPrice, error) {
	return nil, pricing.ErrTLDNotFound
}

func (m *fakeCatalog) ListTLDPrices(context.Context) ([]pricing.TLDPrice, error) { return nil, nil }

func (m *fakeCatalog) UpsertTLDPrice(context.Context, pricing.TLDPrice) error { return nil }

type fakeQuoter struct {
	quote availability.Quote
	err   error
}

func (m *fakeQuoter) Quote(_ context.Context, _, _ string) (availability.Quote, error) {
	return m.quote, m.err
}

// fakeIssuer enforces one invoice per order like the unique index does.
type fakeIssuer struct {
	mu     sync.Mutex
	issued map[string]int
	err    error
}

func (m *fakeIssuer) IssueInvoice(_ context.Context, o *Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.issued == nil {
		m.issued = map[string]int{}
	}
	m.issued[o.ID]++
	return "inv-" + o.ID, nil
}

func (m *fakeIssuer) count(orderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issued[orderID]
}

// fakeTx serializes transactions; it does not roll back.
type fakeTx struct {
	mu sync.Mutex
}

func (m *fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (m *recordingNotifier) Dispatch(_ context.Context, e notify.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *recordingNotifier) types() []notify.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notify.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

// --- Helpers ---

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	orders   *fakeOrderRepo
	catalog  *fakeCatalog
	quoter   *fakeQuoter
	issuer   *fakeIssuer
	notifier *recordingNotifier
}

func newFixture() *fixture {
	f := &fixture{
		orders: newFakeOrderRepo(),
		catalog: &fakeCatalog{packages: map[string]pricing.HostingPackage{
			"basic": {
				ID:           "basic",
				Name:         "Basic",
				MonthlyPrice: decimal.RequireFromString("4.99"),
				Currency:     "GBP",
				ProviderPlan: "plan-basic",
				Active:       true,
			},
			"retired": {
				ID:           "retired",
				MonthlyPrice: decimal.RequireFromString("1.00"),
				Currency:     "GBP",
			},
			"dollars": {
				ID:           "dollars",
				MonthlyPrice: decimal.RequireFromString("5.00"),
				Currency:     "USD",
				Active:       true,
			},
		}},
		quoter:   &fakeQuoter{quote: availableQuote("mysite", ".co.uk", "8.99")},
		issuer:   &fakeIssuer{},
		notifier: &recordingNotifier{},
	}
	f.svc = NewService(f.orders, f.catalog, f.quoter, f.issuer, &fakeTx{}, f.notifier,
		WithClock(func() time.Time { return testNow }),
	)
	return f
}

func availableQuote(name, tld, price string) availability.Quote {
	return availability.Quote{
		Domain:    name,
		TLD:       tld,
		Available: true,
		Price:     decimal.RequireFromString(price),
		Currency:  "GBP",
		QuotedAt:  testNow,
	}
}

func (f *fixture) submit(t *testing.T) *Order {
	t.Helper()
	o, err := f.svc.Submit(context.Background(), SubmitRequest{
		CustomerID: "cust-1",
		Quote:      availableQuote("example", ".com", "10.99"),
		TermYears:  1,
	})
	require.NoError(t, err)
	return o
}

// --- Intake ---

func TestSubmit_DomainOnly(t *testing.T) {
	f := newFixture()

	o, err := f.svc.Submit(context.Background(), SubmitRequest{
		CustomerID: "cust-1",
		Quote:      availableQuote("example", ".com", "10.99"),
		TermYears:  2,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPendingReview, o.Status)
	assert.Equal(t, "example.com", o.FQDN())
	assert.True(t, decimal.RequireFromString("10.99").Equal(o.DomainPrice))
	assert.True(t, decimal.RequireFromString("21.98").Equal(o.TotalEstimate))
	assert.False(t, o.HasHosting())
	assert.NotEmpty(t, o.IdempotencyToken)
	assert.Equal(t, testNow, o.CreatedAt)

	stored, err := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.IdempotencyToken, stored.IdempotencyToken)
	assert.Equal(t, []notify.EventType{notify.EventOrderSubmitted}, f.notifier.types())
}

func TestSubmit_WithHosting(t *testing.T) {
	f := newFixture()

	o, err := f.svc.Submit(context.Background(), SubmitRequest{
		CustomerID:       "cust-1",
		Quote:            availableQuote("example", ".com", "10.99"),
		TermYears:        1,
		HostingPackageID: "basic",
	})
	require.NoError(t, err)

	// 4.99 x 12 = 59.88; 10.99 + 59.88 = 70.87
	assert.True(t, decimal.RequireFromString("59.88").Equal(o.HostingPrice))
	assert.True(t, decimal.RequireFromString("70.87").Equal(o.TotalEstimate))
	assert.True(t, o.HasHosting())
}

func TestSubmit_TokensAreUnique(t *testing.T) {
	f := newFixture()
	a := f.submit(t)
	b := f.submit(t)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.IdempotencyToken, b.IdempotencyToken)
}

func TestSubmit_Validation(t *testing.T) {
	unavailable := availableQuote("example", ".co.uk", "8.99")
	unavailable.Available = false

	free := availableQuote("example", ".com", "0")

	tests := []struct {
		name string
		req  SubmitRequest
		want error
	}{
		{
			name: "missing customer",
			req:  SubmitRequest{Quote: availableQuote("example", ".com", "10.99"), TermYears: 1},
			want: ErrCustomerRequired,
		},
		{
			name: "unavailable domain",
			req:  SubmitRequest{CustomerID: "c", Quote: unavailable, TermYears: 1},
			want: ErrDomainUnavailable,
		},
		{
			name: "zero term",
			req:  SubmitRequest{CustomerID: "c", Quote: availableQuote("example", ".com", "10.99")},
			want: ErrInvalidTerm,
		},
		{
			name: "term too long",
			req:  SubmitRequest{CustomerID: "c", Quote: availableQuote("example", ".com", "10.99"), TermYears: MaxTermYears + 1},
			want: ErrInvalidTerm,
		},
		{
			name: "no price",
			req:  SubmitRequest{CustomerID: "c", Quote: free, TermYears: 1},
			want: ErrInvalidQuote,
		},
		{
			name: "unknown hosting package",
			req:  SubmitRequest{CustomerID: "c", Quote: availableQuote("example", ".com", "10.99"), TermYears: 1, HostingPackageID: "nope"},
			want: ErrHostingUnavailable,
		},
		{
			name: "inactive hosting package",
			req:  SubmitRequest{CustomerID: "c", Quote: availableQuote("example", ".com", "10.99"), TermYears: 1, HostingPackageID: "retired"},
			want: ErrHostingUnavailable,
		},
		{
			name: "hosting currency differs",
			req:  SubmitRequest{CustomerID: "c", Quote: availableQuote("example", ".com", "10.99"), TermYears: 1, HostingPackageID: "dollars"},
			want: ErrCurrencyMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			_, err := f.svc.Submit(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, ErrInvalid)

			all, lerr := f.orders.List(context.Background(), Filter{})
			require.NoError(t, lerr)
			assert.Empty(t, all, "nothing is stored on validation failure")
			assert.Empty(t, f.notifier.types())
		})
	}
}

func TestSubmitForDomain(t *testing.T) {
	f := newFixture()

	o, err := f.svc.SubmitForDomain(context.Background(), SubmitDomainRequest{
		CustomerID: "cust-1",
		Domain:     "mysite",
		TLD:        ".co.uk",
		TermYears:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, "mysite.co.uk", o.FQDN())
	assert.True(t, decimal.RequireFromString("8.99").Equal(o.TotalEstimate))
}

func TestSubmitForDomain_OracleDown(t *testing.T) {
	f := newFixture()
	f.quoter.err = availability.ErrUnavailable

	_, err := f.svc.SubmitForDomain(context.Background(), SubmitDomainRequest{
		CustomerID: "cust-1",
		Domain:     "mysite",
		TLD:        ".com",
		TermYears:  1,
	})
	require.ErrorIs(t, err, availability.ErrUnavailable)
}

func TestSubmit_RepositoryError(t *testing.T) {
	f := newFixture()
	f.orders.createErr = errors.New("db down")

	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		CustomerID: "cust-1",
		Quote:      availableQuote("example", ".com", "10.99"),
		TermYears:  1,
	})
	require.Error(t, err)
	assert.Empty(t, f.notifier.types())
}

func TestList_UnknownStatus(t *testing.T) {
	f := newFixture()
	_, err := f.svc.List(context.Background(), Filter{Status: "SHIPPED"})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestHistory_UnknownOrder(t *testing.T) {
	f := newFixture()
	_, err := f.svc.History(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

// --- State machine ---

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPendingReview, StatusApproved, true},
		{StatusPendingReview, StatusRejected, true},
		{StatusApproved, StatusPaid, true},
		{StatusPaid, StatusProvisioned, true},
		{StatusPaid, StatusProvisionFailed, true},
		{StatusPendingReview, StatusPaid, false},
		{StatusApproved, StatusPendingReview, false},
		{StatusApproved, StatusRejected, false},
		{StatusRejected, StatusApproved, false},
		{StatusProvisioned, StatusPaid, false},
		{StatusProvisionFailed, StatusProvisioned, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}

	for _, s := range []Status{StatusRejected, StatusProvisioned, StatusProvisionFailed} {
		assert.True(t, s.Terminal(), s)
	}
	assert.False(t, StatusPaid.Terminal())
}

func TestCompareAndSwap_IllegalTransition(t *testing.T) {
	f := newFixture()
	o := f.submit(t)

	_, err := CompareAndSwap(context.Background(), f.orders, o.ID, StatusPendingReview, StatusPaid, TransitionUpdate{})
	require.Error(t, err)

	stored, err := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, stored.Status)
}
