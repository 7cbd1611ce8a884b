package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/domainshop/internal/domain/billing"
	"github.com/xenking/domainshop/internal/domain/order"
	"github.com/xenking/domainshop/internal/domain/provision"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newOrder(id string) *order.Order {
	return &order.Order{
		ID:         id,
		CustomerID: "cust-1",
		DomainName: "example",
		TLD:        ".com",
		TermYears:  1,
		Currency:   "GBP",
		Status:     order.StatusPendingReview,
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}
}

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Orders().Create(ctx, newOrder("o-1")))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.Orders().CompareAndSwapStatus(ctx, "o-1", order.StatusPendingReview, order.StatusApproved, order.TransitionUpdate{At: t0})
		require.NoError(t, err)
		require.NoError(t, s.Billing().CreateInvoice(ctx, &billing.Invoice{ID: "inv-1", OrderID: "o-1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	o, err := s.Orders().Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPendingReview, o.Status)

	_, err = s.Billing().GetInvoiceByOrder(ctx, "o-1")
	require.ErrorIs(t, err, billing.ErrInvoiceNotFound)

	h, err := s.Orders().History(ctx, "o-1")
	require.NoError(t, err)
	assert.Len(t, h, 1)
}

func TestStore_NestedTxJoinsOuter(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.WithTx(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			return s.Orders().Create(ctx, newOrder("o-1"))
		})
	})
	require.NoError(t, err)

	_, err = s.Orders().Get(ctx, "o-1")
	require.NoError(t, err)
}

func TestOrderRepository_CompareAndSwapStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	repo := s.Orders()
	require.NoError(t, repo.Create(ctx, newOrder("o-1")))

	_, err := repo.CompareAndSwapStatus(ctx, "missing", order.StatusPendingReview, order.StatusApproved, order.TransitionUpdate{})
	require.ErrorIs(t, err, order.ErrNotFound)

	o, err := repo.CompareAndSwapStatus(ctx, "o-1", order.StatusPendingReview, order.StatusRejected, order.TransitionUpdate{
		At:           t0.Add(time.Minute),
		Reason:       order.Rejection("not allowed"),
		MarkReviewed: true,
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusRejected, o.Status)
	require.NotNil(t, o.ReviewedAt)
	require.NotNil(t, o.Reason)
	assert.Equal(t, "not allowed", o.Reason.Message)

	_, err = repo.CompareAndSwapStatus(ctx, "o-1", order.StatusPendingReview, order.StatusApproved, order.TransitionUpdate{})
	require.ErrorIs(t, err, order.ErrStatusMismatch)
}

func TestOrderRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := New().Orders()

	for i, id := range []string{"a", "b", "c"} {
		o := newOrder(id)
		o.CreatedAt = t0.Add(time.Duration(i) * time.Minute)
		if id == "b" {
			o.Status = order.StatusApproved
		}
		require.NoError(t, repo.Create(ctx, o))
	}

	all, err := repo.List(ctx, order.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	pending, err := repo.List(ctx, order.Filter{Status: order.StatusPendingReview, Limit: 1})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c", pending[0].ID)
}

func paidOrder(t *testing.T, s *Store, id string) {
	t.Helper()
	o := newOrder(id)
	o.Status = order.StatusPaid
	require.NoError(t, s.Orders().Create(context.Background(), o))
}

func TestProvisionRepository_Claim(t *testing.T) {
	ctx := context.Background()
	store := New()
	paidOrder(t, store, "o-1")
	repo := store.Provisioning()

	req := &provision.Request{
		ID:             "r-1",
		OrderID:        "o-1",
		IdempotencyKey: "tok",
		Type:           provision.RequestDomainRegistration,
		Status:         provision.RequestQueued,
		NextAttemptAt:  t0,
	}
	ok, err := repo.EnqueueRequest(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)

	dup := *req
	dup.ID = "r-2"
	ok, err = repo.EnqueueRequest(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, ok, "same key and type must not be stored twice")

	_, ok, err = repo.ClaimRequest(ctx, "r-1", t0.Add(-time.Second), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "not due yet")

	claimed, ok, err := repo.ClaimRequest(ctx, "r-1", t0, t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, claimed.Attempts)
	assert.Equal(t, provision.RequestProcessing, claimed.Status)

	_, ok, err = repo.ClaimRequest(ctx, "r-1", t0.Add(30*time.Second), t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "lease still held")

	ids, err := repo.ListDueOrders(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"o-1"}, ids, "expired lease is due again")

	claimed, ok, err = repo.ClaimRequest(ctx, "r-1", t0.Add(time.Minute), t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, claimed.Attempts)

	require.NoError(t, repo.CompleteRequest(ctx, "r-1", "done", t0.Add(time.Minute)))
	ids, err = repo.ListDueOrders(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestProvisionRepository_CancelRequests(t *testing.T) {
	ctx := context.Background()
	store := New()
	paidOrder(t, store, "o-1")
	paidOrder(t, store, "o-2")
	repo := store.Provisioning()

	for _, r := range []provision.Request{
		{ID: "r-1", OrderID: "o-1", IdempotencyKey: "tok-1", Type: provision.RequestDomainRegistration, Status: provision.RequestFailed, NextAttemptAt: t0},
		{ID: "r-2", OrderID: "o-1", IdempotencyKey: "tok-1", Type: provision.RequestHostingAccount, Status: provision.RequestQueued, NextAttemptAt: t0},
		{ID: "r-3", OrderID: "o-2", IdempotencyKey: "tok-2", Type: provision.RequestDomainRegistration, Status: provision.RequestQueued, NextAttemptAt: t0},
	} {
		ok, err := repo.EnqueueRequest(ctx, &r)
		require.NoError(t, err)
		require.True(t, ok)
	}

	n, err := repo.CancelRequests(ctx, "o-1", "cancelled", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reqs, err := repo.ListRequests(ctx, "o-1")
	require.NoError(t, err)
	for _, r := range reqs {
		assert.Equal(t, provision.RequestFailed, r.Status, r.Type)
	}
	hosting, err := repo.GetRequest(ctx, "o-1", provision.RequestHostingAccount)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", hosting.Notes)
	require.NotNil(t, hosting.ProcessedAt)

	other, err := repo.GetRequest(ctx, "o-2", provision.RequestDomainRegistration)
	require.NoError(t, err)
	assert.Equal(t, provision.RequestQueued, other.Status, "other orders are untouched")
}

func TestProvisionRepository_DueOnlyForPaidOrders(t *testing.T) {
	ctx := context.Background()
	store := New()
	paidOrder(t, store, "o-paid")
	failed := newOrder("o-failed")
	failed.Status = order.StatusProvisionFailed
	require.NoError(t, store.Orders().Create(ctx, failed))
	repo := store.Provisioning()

	for _, r := range []provision.Request{
		{ID: "r-1", OrderID: "o-failed", IdempotencyKey: "tok-f", Type: provision.RequestHostingAccount, Status: provision.RequestQueued, Priority: 5, NextAttemptAt: t0.Add(-time.Hour)},
		{ID: "r-2", OrderID: "o-paid", IdempotencyKey: "tok-p", Type: provision.RequestHostingAccount, Status: provision.RequestQueued, Priority: 5, NextAttemptAt: t0},
		{ID: "r-3", OrderID: "o-missing", IdempotencyKey: "tok-m", Type: provision.RequestDomainRegistration, Status: provision.RequestQueued, Priority: 10, NextAttemptAt: t0},
	} {
		_, err := repo.EnqueueRequest(ctx, &r)
		require.NoError(t, err)
	}

	ids, err := repo.ListDueOrders(ctx, t0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"o-paid"}, ids)
}
