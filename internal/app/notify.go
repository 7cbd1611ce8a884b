package app

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/domainshop/internal/domain/auth"
	"github.com/xenking/domainshop/internal/domain/billing"
	"github.com/xenking/domainshop/internal/domain/notify"
	"github.com/xenking/domainshop/internal/domain/order"
)

// orderSummaries feeds notification templates from the order and invoice
// repositories.
type orderSummaries struct {
	orders   order.Repository
	invoices billing.Repository
}

func (s orderSummaries) OrderSummary(ctx context.Context, orderID string) (notify.OrderSummary, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return notify.OrderSummary{}, err
	}

	sum := notify.OrderSummary{
		ID:        o.ID,
		Domain:    o.FQDN(),
		Status:    string(o.Status),
		TermYears: o.TermYears,
		Total:     o.TotalEstimate.StringFixed(2),
		Currency:  o.Currency,
	}
	if o.Reason != nil {
		sum.ReasonCode = o.Reason.Code
		sum.ReasonMessage = o.Reason.Message
	}

	inv, err := s.invoices.GetInvoiceByOrder(ctx, orderID)
	switch {
	case err == nil:
		sum.InvoiceID = inv.ID
	case !errors.Is(err, billing.ErrInvoiceNotFound):
		return notify.OrderSummary{}, errors.Wrap(err, "get invoice")
	}
	return sum, nil
}

// customerDirectory resolves recipient addresses from the customers table.
type customerDirectory struct {
	customers auth.CustomerRepository
}

func (d customerDirectory) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	c, err := d.customers.GetCustomer(ctx, customerID)
	if err != nil {
		return "", err
	}
	return c.Email, nil
}
