package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/domainshop/internal/domain/auth"
	"github.com/xenking/domainshop/internal/domain/billing"
	"github.com/xenking/domainshop/internal/domain/order"
	"github.com/xenking/domainshop/internal/repository/memory"
)

func TestOrderSummaries(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Orders().Create(ctx, &order.Order{
		ID:            "o-1",
		CustomerID:    "cust-1",
		DomainName:    "mysite",
		TLD:           ".co.uk",
		TermYears:     2,
		DomainPrice:   decimal.RequireFromString("8.99"),
		TotalEstimate: decimal.RequireFromString("17.98"),
		Currency:      "GBP",
		Status:        order.StatusApproved,
		Reason:        order.Rejection("n/a"),
		CreatedAt:     now,
	}))

	src := orderSummaries{orders: store.Orders(), invoices: store.Billing()}

	sum, err := src.OrderSummary(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "mysite.co.uk", sum.Domain)
	assert.Equal(t, "17.98", sum.Total)
	assert.Equal(t, "admin_rejected", sum.ReasonCode)
	assert.Empty(t, sum.InvoiceID)

	require.NoError(t, store.Billing().CreateInvoice(ctx, &billing.Invoice{
		ID: "inv-1", OrderID: "o-1", CustomerID: "cust-1", Amount: decimal.RequireFromString("17.98"),
		Currency: "GBP", Status: billing.InvoicePending, DueAt: now, CreatedAt: now,
	}))
	sum, err = src.OrderSummary(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", sum.InvoiceID)

	_, err = src.OrderSummary(ctx, "missing")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestCustomerDirectory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Auth().PutCustomer(ctx, auth.Customer{ID: "cust-1", Email: "jo@example.com"}))

	dir := customerDirectory{customers: store.Auth()}
	email, err := dir.CustomerEmail(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "jo@example.com", email)

	_, err = dir.CustomerEmail(ctx, "nobody")
	assert.ErrorIs(t, err, auth.ErrCustomerNotFound)
}
