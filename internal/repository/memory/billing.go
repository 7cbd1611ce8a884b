package memory

import (
	"context"
	"time"

	"github.com/xenking/domainshop/internal/domain/billing"
)

var _ billing.Repository = (*BillingRepository)(nil)

// BillingRepository implements billing.Repository.
type BillingRepository struct {
	s *Store
}

func (r *BillingRepository) CreateInvoice(ctx context.Context, inv *billing.Invoice) error {
	return r.s.view(ctx, func(st *state) error {
		if _, ok := st.invoiceByOrder[inv.OrderID]; ok {
			return billing.ErrInvoiceExists
		}
		st.invoices[inv.ID] = *inv
		st.invoiceByOrder[inv.OrderID] = inv.ID
		return nil
	})
}

func (r *BillingRepository) GetInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	var out *billing.Invoice
	err := r.s.view(ctx, func(st *state) error {
		inv, ok := st.invoices[id]
		if !ok {
			return billing.ErrInvoiceNotFound
		}
		out = &inv
		return nil
	})
	return out, err
}

func (r *BillingRepository) GetInvoiceByOrder(ctx context.Context, orderID string) (*billing.Invoice, error) {
	var out *billing.Invoice
	err := r.s.view(ctx, func(st *state) error {
		inv, ok := st.invoices[st.invoiceByOrder[orderID]]
		if !ok {
			return billing.ErrInvoiceNotFound
		}
		out = &inv
		return nil
	})
	return out, err
}

func (r *BillingRepository) SetCheckoutSession(ctx context.Context, id, sessionID string) error {
	return r.s.view(ctx, func(st *state) error {
		inv, ok := st.invoices[id]
		if !ok {
			return billing.ErrInvoiceNotFound
		}
		inv.CheckoutSessionID = sessionID
		st.invoices[id] = inv
		return nil
	})
}

func (r *BillingRepository) MarkPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	var paid bool
	err := r.s.view(ctx, func(st *state) error {
		inv, ok := st.invoices[id]
		if !ok {
			return billing.ErrInvoiceNotFound
		}
		if inv.Status != billing.InvoicePending {
			return nil
		}
		inv.Status = billing.InvoicePaid
		inv.PaidAt = &at
		st.invoices[id] = inv
		paid = true
		return nil
	})
	return paid, err
}

func (r *BillingRepository) RecordEvent(ctx context.Context, e billing.PaymentEvent) (bool, error) {
	var inserted bool
	err := r.s.view(ctx, func(st *state) error {
		if _, ok := st.events[e.EventID]; ok {
			return nil
		}
		st.events[e.EventID] = e
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *BillingRepository) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var ok bool
	err := r.s.view(ctx, func(st *state) error {
		_, ok = st.events[eventID]
		return nil
	})
	return ok, err
}
