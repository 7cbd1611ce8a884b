package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/xenking/domainshop/internal/domain/notify"
)

// ApproveResult is the outcome of a successful approval.
type ApproveResult struct {
	Order     *Order
	InvoiceID string
}

// Approve moves a PENDING_REVIEW order to APPROVED and issues its invoice in
// the same transaction. A second approval, concurrent or not, fails with a
// conflict and creates nothing.
func (s *Service) Approve(ctx context.Context, id string) (*ApproveResult, error) {
	var res ApproveResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := CompareAndSwap(ctx, s.orders, id, StatusPendingReview, StatusApproved, TransitionUpdate{
			At:           s.now(),
			MarkReviewed: true,
		})
		if err != nil {
			return err
		}

		invoiceID, err := s.invoices.IssueInvoice(ctx, o)
		if err != nil {
			return fmt.Errorf("issue invoice: %w", err)
		}

		res = ApproveResult{Order: o, InvoiceID: invoiceID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition(string(StatusPendingReview), string(StatusApproved))

	s.notifier.Dispatch(ctx, notify.Event{
		Type:       notify.EventOrderApproved,
		OrderID:    res.Order.ID,
		CustomerID: res.Order.CustomerID,
		At:         s.now(),
		Data:       map[string]string{"invoiceId": res.InvoiceID},
	})

	return &res, nil
}

// Reject moves a PENDING_REVIEW order to REJECTED with the admin's notes as
// the customer-facing reason. Notes are required; no invoice is created.
func (s *Service) Reject(ctx context.Context, id, notes string) (*Order, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, ErrNotesRequired
	}

	var o *Order
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = CompareAndSwap(ctx, s.orders, id, StatusPendingReview, StatusRejected, TransitionUpdate{
			At:           s.now(),
			Reason:       Rejection(notes),
			MarkReviewed: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition(string(StatusPendingReview), string(StatusRejected))

	s.notifier.Dispatch(ctx, notify.Event{
		Type:       notify.EventOrderRejected,
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		At:         s.now(),
	})

	return o, nil
}
