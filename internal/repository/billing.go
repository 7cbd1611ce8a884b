package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/domainshop/internal/domain/billing"
)

const invoiceColumns = `id, order_id, customer_id, amount, currency, status,
	due_at, paid_at, checkout_session_id, created_at`

const createInvoiceSQL = `INSERT INTO invoices (` + invoiceColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const getInvoiceSQL = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

const getInvoiceByOrderSQL = `SELECT ` + invoiceColumns + ` FROM invoices WHERE order_id = $1`

const setCheckoutSessionSQL = `UPDATE invoices SET checkout_session_id = $2 WHERE id = $1`

const markInvoicePaidSQL = `UPDATE invoices SET status = 'paid', paid_at = $2
	WHERE id = $1 AND status = 'pending'`

const invoiceExistsSQL = `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`

const recordEventSQL = `INSERT INTO payment_events (event_id, invoice_id, outcome, received_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (event_id) DO NOTHING`

const eventProcessedSQL = `SELECT EXISTS (SELECT 1 FROM payment_events WHERE event_id = $1)`

var _ billing.Repository = (*BillingRepository)(nil)

// BillingRepository implements billing.Repository backed by PostgreSQL.
type BillingRepository struct {
	conn
}

// NewBillingRepository returns a BillingRepository that uses the given pool.
func NewBillingRepository(pool *pgxpool.Pool) *BillingRepository {
	return &BillingRepository{conn{pool: pool}}
}

// CreateInvoice inserts inv. The unique order_id index rejects a second
// invoice for the same order.
func (r *BillingRepository) CreateInvoice(ctx context.Context, inv *billing.Invoice) error {
	_, err := r.exec(ctx, createInvoiceSQL,
		inv.ID, inv.OrderID, inv.CustomerID, inv.Amount, inv.Currency, string(inv.Status),
		inv.DueAt.UTC(), utcPtr(inv.PaidAt), inv.CheckoutSessionID, inv.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrInvoiceExists
		}
		return fmt.Errorf("creating invoice for order %q: %w", inv.OrderID, err)
	}
	return nil
}

func (r *BillingRepository) GetInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	return r.getInvoice(ctx, getInvoiceSQL, id)
}

func (r *BillingRepository) GetInvoiceByOrder(ctx context.Context, orderID string) (*billing.Invoice, error) {
	return r.getInvoice(ctx, getInvoiceByOrderSQL, orderID)
}

func (r *BillingRepository) getInvoice(ctx context.Context, sql, arg string) (*billing.Invoice, error) {
	var (
		inv    billing.Invoice
		status string
	)
	err := r.queryRow(ctx, sql, arg).Scan(
		&inv.ID, &inv.OrderID, &inv.CustomerID, &inv.Amount, &inv.Currency, &status,
		&inv.DueAt, &inv.PaidAt, &inv.CheckoutSessionID, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("getting invoice %q: %w", arg, err)
	}
	inv.Status = billing.InvoiceStatus(status)
	return &inv, nil
}

func (r *BillingRepository) SetCheckoutSession(ctx context.Context, id, sessionID string) error {
	tag, err := r.exec(ctx, setCheckoutSessionSQL, id, sessionID)
	if err != nil {
		return fmt.Errorf("setting checkout session on invoice %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrInvoiceNotFound
	}
	return nil
}

// MarkPaid is a compare-and-swap from pending to paid.
func (r *BillingRepository) MarkPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.exec(ctx, markInvoicePaidSQL, id, at.UTC())
	if err != nil {
		return false, fmt.Errorf("marking invoice %q paid: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	exists, err := r.exists(ctx, invoiceExistsSQL, id)
	if err != nil {
		return false, fmt.Errorf("checking invoice %q: %w", id, err)
	}
	if !exists {
		return false, billing.ErrInvoiceNotFound
	}
	return false, nil
}

// RecordEvent inserts e unless its event id was already stored.
func (r *BillingRepository) RecordEvent(ctx context.Context, e billing.PaymentEvent) (bool, error) {
	tag, err := r.exec(ctx, recordEventSQL, e.EventID, e.InvoiceID, string(e.Outcome), e.ReceivedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("recording payment event %q: %w", e.EventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *BillingRepository) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := r.exists(ctx, eventProcessedSQL, eventID)
	if err != nil {
		return false, fmt.Errorf("checking payment event %q: %w", eventID, err)
	}
	return ok, nil
}
