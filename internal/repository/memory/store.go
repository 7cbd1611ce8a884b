// Package memory is an in-process implementation of every repository, used
// by tests and by the api server when no database is configured.
//
// Transactions serialize on a single lock and restore a snapshot of the
// whole store on error.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/xenking/domainshop/internal/domain/auth"
	"github.com/xenking/domainshop/internal/domain/billing"
	"github.com/xenking/domainshop/internal/domain/order"
	"github.com/xenking/domainshop/internal/domain/pricing"
	"github.com/xenking/domainshop/internal/domain/provision"
)

type requestKey struct {
	key string
	typ provision.RequestType
}

type state struct {
	orders  map[string]order.Order
	history map[string][]order.Transition

	invoices       map[string]billing.Invoice
	invoiceByOrder map[string]string
	events         map[string]billing.PaymentEvent

	requests     map[string]provision.Request
	requestByKey map[requestKey]string
	domains      map[string]provision.Domain
	hosting      map[string]provision.HostingSubscription

	packages  map[string]pricing.HostingPackage
	tldPrices map[string]pricing.TLDPrice

	apiKeys   map[string]auth.APIKeyInfo
	customers map[string]auth.Customer
}

func newState() state {
	return state{
		orders:         map[string]order.Order{},
		history:        map[string][]order.Transition{},
		invoices:       map[string]billing.Invoice{},
		invoiceByOrder: map[string]string{},
		events:         map[string]billing.PaymentEvent{},
		requests:       map[string]provision.Request{},
		requestByKey:   map[requestKey]string{},
		domains:        map[string]provision.Domain{},
		hosting:        map[string]provision.HostingSubscription{},
		packages:       map[string]pricing.HostingPackage{},
		tldPrices:      map[string]pricing.TLDPrice{},
		apiKeys:        map[string]auth.APIKeyInfo{},
		customers:      map[string]auth.Customer{},
	}
}

// clone copies every table. Stored values are replaced on update, never
// mutated in place, so a shallow copy of each map is a full snapshot.
func (s state) clone() state {
	history := make(map[string][]order.Transition, len(s.history))
	for id, h := range s.history {
		history[id] = append([]order.Transition(nil), h...)
	}
	return state{
		orders:         maps.Clone(s.orders),
		history:        history,
		invoices:       maps.Clone(s.invoices),
		invoiceByOrder: maps.Clone(s.invoiceByOrder),
		events:         maps.Clone(s.events),
		requests:       maps.Clone(s.requests),
		requestByKey:   maps.Clone(s.requestByKey),
		domains:        maps.Clone(s.domains),
		hosting:        maps.Clone(s.hosting),
		packages:       maps.Clone(s.packages),
		tldPrices:      maps.Clone(s.tldPrices),
		apiKeys:        maps.Clone(s.apiKeys),
		customers:      maps.Clone(s.customers),
	}
}

type txKey struct{}

// Store holds all tables. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex
	st state
}

var _ order.TxRunner = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

// WithTx runs fn with exclusive access to the store. When fn returns an
// error every change it made is discarded. Nested calls join the outer
// transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// view runs fn against the tables, taking the lock unless ctx already holds
// it through WithTx.
func (s *Store) view(ctx context.Context, fn func(st *state) error) error {
	if !s.inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(&s.st)
}

// Orders returns the order repository.
func (s *Store) Orders() *OrderRepository { return &OrderRepository{s: s} }

// Billing returns the invoice and payment event repository.
func (s *Store) Billing() *BillingRepository { return &BillingRepository{s: s} }

// Provisioning returns the provisioning repository.
func (s *Store) Provisioning() *ProvisionRepository { return &ProvisionRepository{s: s} }

// Catalog returns the pricing repository.
func (s *Store) Catalog() *CatalogRepository { return &CatalogRepository{s: s} }

// Auth returns the API key and customer repository.
func (s *Store) Auth() *AuthRepository { return &AuthRepository{s: s} }
