package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the order lifecycle state. It only ever advances.
type Status string

const (
	StatusPendingReview   Status = "PENDING_REVIEW"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
	StatusPaid            Status = "PAID"
	StatusProvisioned     Status = "PROVISIONED"
	StatusProvisionFailed Status = "PROVISION_FAILED"
)

var transitions = map[Status][]Status{
	StatusPendingReview: {StatusApproved, StatusRejected},
	StatusApproved:      {StatusPaid},
	StatusPaid:          {StatusProvisioned, StatusProvisionFailed},
}

// CanTransitionTo reports whether next directly follows s in the lifecycle.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingReview, StatusApproved, StatusRejected,
		StatusPaid, StatusProvisioned, StatusProvisionFailed:
		return true
	}
	return false
}

// ReasonKind tags why an order carries a reason.
type ReasonKind string

const (
	ReasonRejection        ReasonKind = "rejection"
	ReasonProvisionFailure ReasonKind = "provision_failure"
	ReasonHostingFollowUp  ReasonKind = "hosting_follow_up"
)

// Reason is the customer/admin facing explanation attached to a rejected,
// failed or flagged order. Code is stable for tooling; Message is for humans.
type Reason struct {
	Kind    ReasonKind
	Code    string
	Message string
}

// Rejection builds the reason recorded by an admin rejection.
func Rejection(notes string) *Reason {
	return &Reason{Kind: ReasonRejection, Code: "admin_rejected", Message: notes}
}

// ProvisionFailure builds the reason recorded when provisioning halts.
func ProvisionFailure(code, message string) *Reason {
	return &Reason{Kind: ReasonProvisionFailure, Code: code, Message: message}
}

// HostingFollowUp builds the flag recorded when the domain was registered
// but the hosting account could not be created.
func HostingFollowUp(code, message string) *Reason {
	return &Reason{Kind: ReasonHostingFollowUp, Code: code, Message: message}
}

// Order is a customer's purchase intent for a domain, optionally bundled
// with hosting, with prices frozen at intake.
type Order struct {
	ID         string
	CustomerID string
	// DomainName is the label without the TLD, e.g. "example".
	DomainName string
	// TLD carries its leading dot, e.g. ".co.uk".
	TLD       string
	TermYears int
	// DomainPrice is the locked per-year registration price.
	DomainPrice decimal.Decimal
	// HostingPackageID is empty when no hosting was selected.
	HostingPackageID string
	// HostingPrice is the locked annual hosting price (monthly x 12).
	HostingPrice     decimal.Decimal
	TotalEstimate    decimal.Decimal
	Currency         string
	Status           Status
	Reason           *Reason
	IdempotencyToken string
	CreatedAt        time.Time
	ReviewedAt       *time.Time
	UpdatedAt        time.Time
}

// FQDN returns the full domain name, e.g. "example.co.uk".
func (o *Order) FQDN() string {
	return o.DomainName + o.TLD
}

// HasHosting reports whether a hosting package was selected.
func (o *Order) HasHosting() bool {
	return o.HostingPackageID != ""
}

// Estimate computes the order total: domain price x term plus annual
// hosting price x term, rounded to two decimal places.
func Estimate(domainPrice, hostingAnnual decimal.Decimal, termYears int) decimal.Decimal {
	term := decimal.NewFromInt(int64(termYears))
	return domainPrice.Mul(term).Add(hostingAnnual.Mul(term)).Round(2)
}

// Transition is one committed status change.
type Transition struct {
	OrderID string
	From    Status
	To      Status
	At      time.Time
}

// TransitionUpdate carries the fields written alongside a status change.
type TransitionUpdate struct {
	At           time.Time
	Reason       *Reason
	MarkReviewed bool
}

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	Status     Status
	CustomerID string
	Limit      int
}

// Repository persists orders. CompareAndSwapStatus is the only way status
// changes: it writes only when the stored status still equals from, and
// records the transition in the order history.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	CompareAndSwapStatus(ctx context.Context, id string, from, to Status, upd TransitionUpdate) (*Order, error)
	History(ctx context.Context, id string) ([]Transition, error)
}

// TxRunner runs fn in a transaction carried by ctx. Nested calls join the
// outer transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
