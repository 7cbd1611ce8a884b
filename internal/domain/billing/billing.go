// Package billing issues invoices for approved orders, opens checkout
// sessions and consumes payment processor events.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/domainshop/internal/domain/order"
)

// InvoiceStatus is the payment state of an invoice.
type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// Invoice is the single billing record of an approved order. Amount is
// copied from the order total at approval and never changes.
type Invoice struct {
	ID                string
	OrderID           string
	CustomerID        string
	Amount            decimal.Decimal
	Currency          string
	Status            InvoiceStatus
	DueAt             time.Time
	PaidAt            *time.Time
	CheckoutSessionID string
	CreatedAt         time.Time
}

// Outcome is the processor's verdict on a payment.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// PaymentEvent is one processor callback. EventID is unique per event and
// repeated on every redelivery.
type PaymentEvent struct {
	EventID    string
	InvoiceID  string
	Outcome    Outcome
	ReceivedAt time.Time
}

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrInvalidEvent    = errors.New("invalid payment event")

	// ErrInvoiceExists is returned when an order already has an invoice.
	ErrInvoiceExists = fmt.Errorf("invoice already exists for order: %w", order.ErrConflict)

	// ErrInvoiceNotPayable is returned when checkout is requested for a paid
	// or cancelled invoice.
	ErrInvoiceNotPayable = fmt.Errorf("invoice is not payable: %w", order.ErrConflict)
)

// Repository persists invoices and processed payment events.
type Repository interface {
	// CreateInvoice returns ErrInvoiceExists when the order already has one.
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	GetInvoiceByOrder(ctx context.Context, orderID string) (*Invoice, error)
	SetCheckoutSession(ctx context.Context, id, sessionID string) error
	// MarkPaid moves a pending invoice to paid. It reports false when the
	// invoice was not pending.
	MarkPaid(ctx context.Context, id string, at time.Time) (bool, error)
	// RecordEvent stores e and reports false when its EventID was already
	// recorded.
	RecordEvent(ctx context.Context, e PaymentEvent) (bool, error)
	EventProcessed(ctx context.Context, eventID string) (bool, error)
}

// ProvisionQueue accepts paid orders for provisioning. Enqueue runs inside
// the payment transaction.
type ProvisionQueue interface {
	Enqueue(ctx context.Context, o *order.Order) error
}
