package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/domainshop/internal/domain/availability"
	"github.com/xenking/domainshop/internal/domain/notify"
	"github.com/xenking/domainshop/internal/domain/pricing"
	"github.com/xenking/domainshop/internal/metrics"
)

// MaxTermYears is the longest registration term accepted at intake.
const MaxTermYears = 10

// Quoter produces a fresh availability quote for one name.
type Quoter interface {
	Quote(ctx context.Context, name, tld string) (availability.Quote, error)
}

// InvoiceIssuer creates the single invoice for an approved order. It is
// called inside the approval transaction and returns the invoice id.
type InvoiceIssuer interface {
	IssueInvoice(ctx context.Context, o *Order) (string, error)
}

// Notifier hands workflow events to the notification dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, e notify.Event)
}

// SubmitRequest holds the input for placing an order from a prior quote.
type SubmitRequest struct {
	CustomerID       string
	Quote            availability.Quote
	TermYears        int
	HostingPackageID string
}

// SubmitDomainRequest holds the input for placing an order by name; the
// domain is quoted first.
type SubmitDomainRequest struct {
	CustomerID       string
	Domain           string
	TLD              string
	TermYears        int
	HostingPackageID string
}

// Service implements order intake and the admin review gate.
type Service struct {
	orders   Repository
	catalog  pricing.Repository
	quoter   Quoter
	invoices InvoiceIssuer
	tx       TxRunner
	notifier Notifier
	metrics  *metrics.Metrics
	currency string
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics enables workflow metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCurrency sets the currency assumed for quotes that carry none.
func WithCurrency(currency string) Option {
	return func(s *Service) { s.currency = currency }
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	orders Repository,
	catalog pricing.Repository,
	quoter Quoter,
	invoices InvoiceIssuer,
	tx TxRunner,
	notifier Notifier,
	opts ...Option,
) *Service {
	s := &Service{
		orders:   orders,
		catalog:  catalog,
		quoter:   quoter,
		invoices: invoices,
		tx:       tx,
		notifier: notifier,
		currency: "GBP",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the quote, freezes prices into a new order and persists it
// as PENDING_REVIEW. Nothing is stored when validation fails.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Order, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return nil, ErrCustomerRequired
	}
	if req.TermYears < 1 || req.TermYears > MaxTermYears {
		return nil, ErrInvalidTerm
	}
	if !req.Quote.Available {
		return nil, ErrDomainUnavailable
	}
	if req.Quote.Domain == "" || req.Quote.TLD == "" || !req.Quote.Price.IsPositive() {
		return nil, ErrInvalidQuote
	}

	currency := req.Quote.Currency
	if currency == "" {
		currency = s.currency
	}

	// Hosting is priced per year from the package's current monthly rate.
	hostingAnnual := decimal.Zero
	if req.HostingPackageID != "" {
		pkg, err := s.catalog.GetHostingPackage(ctx, req.HostingPackageID)
		if errors.Is(err, pricing.ErrPackageNotFound) {
			return nil, ErrHostingUnavailable
		}
		if err != nil {
			return nil, fmt.Errorf("get hosting package: %w", err)
		}
		if !pkg.Active {
			return nil, ErrHostingUnavailable
		}
		if pkg.Currency != currency {
			return nil, ErrCurrencyMismatch
		}
		hostingAnnual = pkg.AnnualPrice()
	}

	domainPrice := req.Quote.Price.Round(2)
	now := s.now()
	o := &Order{
		ID:               uuid.New().String(),
		CustomerID:       req.CustomerID,
		DomainName:       req.Quote.Domain,
		TLD:              req.Quote.TLD,
		TermYears:        req.TermYears,
		DomainPrice:      domainPrice,
		HostingPackageID: req.HostingPackageID,
		HostingPrice:     hostingAnnual,
		TotalEstimate:    Estimate(domainPrice, hostingAnnual, req.TermYears),
		Currency:         currency,
		Status:           StatusPendingReview,
		IdempotencyToken: uuid.New().String(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.metrics.IncTransition("NEW", string(StatusPendingReview))

	s.notifier.Dispatch(ctx, notify.Event{
		Type:       notify.EventOrderSubmitted,
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		At:         now,
	})

	return o, nil
}

// SubmitForDomain quotes the requested name and submits an order for it.
func (s *Service) SubmitForDomain(ctx context.Context, req SubmitDomainRequest) (*Order, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return nil, ErrCustomerRequired
	}
	if req.TermYears < 1 || req.TermYears > MaxTermYears {
		return nil, ErrInvalidTerm
	}

	q, err := s.quoter.Quote(ctx, req.Domain, req.TLD)
	if err != nil {
		return nil, fmt.Errorf("quote %s%s: %w", req.Domain, req.TLD, err)
	}

	return s.Submit(ctx, SubmitRequest{
		CustomerID:       req.CustomerID,
		Quote:            q,
		TermYears:        req.TermYears,
		HostingPackageID: req.HostingPackageID,
	})
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.Get(ctx, id)
}

// List returns orders matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", f.Status)}
	}
	return s.orders.List(ctx, f)
}

// History returns the committed transitions of an order, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]Transition, error) {
	if _, err := s.orders.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.orders.History(ctx, id)
}
