// Package provision performs the irreversible part of an order: registering
// the domain and creating the hosting account after payment.
//
// Every external call is guarded by a provisioning request row. The row is
// claimed with a compare-and-swap before the call, so concurrent or repeated
// invocations for the same order cannot issue the same call twice.
package provision

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/domainshop/internal/domain/order"
)

// RequestType names the external side effect a request guards.
type RequestType string

const (
	RequestDomainRegistration RequestType = "domain_registration"
	RequestHostingAccount     RequestType = "hosting_account"
)

// RequestStatus is the lifecycle of a provisioning request.
type RequestStatus string

const (
	RequestQueued     RequestStatus = "queued"
	RequestProcessing RequestStatus = "processing"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
)

// Request is the audit and queue record of one external side effect.
// (IdempotencyKey, Type) is unique.
type Request struct {
	ID             string
	OrderID        string
	IdempotencyKey string
	Type           RequestType
	Status         RequestStatus
	Priority       int
	Attempts       int
	NextAttemptAt  time.Time
	LeaseUntil     *time.Time
	ProcessedAt    *time.Time
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DomainStatus is the lifecycle of a registered domain.
type DomainStatus string

const (
	DomainPending DomainStatus = "pending"
	DomainActive  DomainStatus = "active"
	DomainFailed  DomainStatus = "failed"
	DomainExpired DomainStatus = "expired"
)

// Domain is the durable record of a successful registration.
type Domain struct {
	ID           string
	OrderID      string
	CustomerID   string
	Name         string
	TLD          string
	Status       DomainStatus
	RegisteredAt time.Time
	ExpiresAt    time.Time
	PricePaid    decimal.Decimal
	Currency     string
	RegistrarRef string
}

// FQDN returns the full domain name.
func (d *Domain) FQDN() string {
	return d.Name + d.TLD
}

// HostingStatus is the lifecycle of a hosting subscription.
type HostingStatus string

const (
	HostingActive    HostingStatus = "active"
	HostingSuspended HostingStatus = "suspended"
	HostingCancelled HostingStatus = "cancelled"
)

// HostingSubscription is a provisioned hosting account.
type HostingSubscription struct {
	ID                string
	OrderID           string
	CustomerID        string
	DomainID          string
	PackageID         string
	Status            HostingStatus
	ProviderAccountID string
	ProviderUsername  string
	ProviderServer    string
	BillingCycle      string
	NextBillingAt     time.Time
	CreatedAt         time.Time
}

var (
	ErrRequestNotFound = errors.New("provisioning request not found")
	ErrDomainNotFound  = errors.New("domain not found")
	ErrHostingNotFound = errors.New("hosting subscription not found")

	// ErrAlreadyRecorded is returned when an order already has a Domain or
	// HostingSubscription.
	ErrAlreadyRecorded = errors.New("provisioning record already exists")

	// ErrInProgress is returned when another invoker holds the request or
	// its next attempt is not due yet.
	ErrInProgress = errors.New("provisioning in progress")
)

// Repository persists provisioning requests and their results.
type Repository interface {
	// EnqueueRequest stores r unless a request with the same idempotency key
	// and type exists; it reports whether r was stored.
	EnqueueRequest(ctx context.Context, r *Request) (bool, error)
	GetRequest(ctx context.Context, orderID string, t RequestType) (*Request, error)
	ListRequests(ctx context.Context, orderID string) ([]Request, error)
	// ClaimRequest moves a due queued request, or a processing request whose
	// lease expired, to processing and increments its attempts. It reports
	// false when the request was not claimable.
	ClaimRequest(ctx context.Context, id string, now, leaseUntil time.Time) (*Request, bool, error)
	CompleteRequest(ctx context.Context, id, notes string, at time.Time) error
	FailRequest(ctx context.Context, id, notes string, at time.Time) error
	RequeueRequest(ctx context.Context, id, notes string, next time.Time) error
	// CancelRequests fails every queued or processing request of an order
	// and returns how many it changed.
	CancelRequests(ctx context.Context, orderID, notes string, at time.Time) (int, error)
	// ListDueOrders returns ids of PAID orders with a claimable request.
	ListDueOrders(ctx context.Context, now time.Time, limit int) ([]string, error)

	CreateDomain(ctx context.Context, d *Domain) error
	GetDomainByOrder(ctx context.Context, orderID string) (*Domain, error)
	CreateHostingSubscription(ctx context.Context, h *HostingSubscription) error
	GetHostingByOrder(ctx context.Context, orderID string) (*HostingSubscription, error)
}

// Records is everything provisioning produced for an order.
type Records struct {
	Domain   *Domain
	Hosting  *HostingSubscription
	Requests []Request
}

// notes encodes a reason into a request's notes column.
func notes(r *order.Reason) string {
	return r.Code + ": " + r.Message
}

// reasonFromNotes decodes notes written by notes.
func reasonFromNotes(kind order.ReasonKind, s string) *order.Reason {
	code, msg, ok := strings.Cut(s, ": ")
	if !ok {
		code, msg = "unknown", s
	}
	return &order.Reason{Kind: kind, Code: code, Message: msg}
}
