package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

// CompareAndSwap moves order id from one status to the next. When the stored
// status is no longer from, it returns a *ConflictError carrying the actual
// status, or ErrNotFound when the order does not exist.
func CompareAndSwap(ctx context.Context, orders Repository, id string, from, to Status, upd TransitionUpdate) (*Order, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	o, err := orders.CompareAndSwapStatus(ctx, id, from, to, upd)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, ErrStatusMismatch) {
		return nil, fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}

	cur, gerr := orders.Get(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	return nil, &ConflictError{OrderID: id, Expected: from, Actual: cur.Status}
}
