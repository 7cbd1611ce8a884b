package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/xenking/domainshop/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository.
type OrderRepository struct {
	s *Store
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return r.s.view(ctx, func(st *state) error {
		if _, ok := st.orders[o.ID]; ok {
			return fmt.Errorf("order %s already exists", o.ID)
		}
		st.orders[o.ID] = *o
		st.history[o.ID] = []order.Transition{{OrderID: o.ID, To: o.Status, At: o.CreatedAt}}
		return nil
	})
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var out *order.Order
	err := r.s.view(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		out = &o
		return nil
	})
	return out, err
}

func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	var out []order.Order
	err := r.s.view(ctx, func(st *state) error {
		for _, o := range st.orders {
			if f.Status != "" && o.Status != f.Status {
				continue
			}
			if f.CustomerID != "" && o.CustomerID != f.CustomerID {
				continue
			}
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *OrderRepository) CompareAndSwapStatus(
	ctx context.Context,
	id string,
	from, to order.Status,
	upd order.TransitionUpdate,
) (*order.Order, error) {
	var out *order.Order
	err := r.s.view(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		if o.Status != from {
			return order.ErrStatusMismatch
		}

		o.Status = to
		o.UpdatedAt = upd.At
		if upd.Reason != nil {
			reason := *upd.Reason
			o.Reason = &reason
		}
		if upd.MarkReviewed {
			at := upd.At
			o.ReviewedAt = &at
		}
		st.orders[id] = o
		st.history[id] = append(st.history[id], order.Transition{OrderID: id, From: from, To: to, At: upd.At})

		out = &o
		return nil
	})
	return out, err
}

func (r *OrderRepository) History(ctx context.Context, id string) ([]order.Transition, error) {
	var out []order.Transition
	err := r.s.view(ctx, func(st *state) error {
		out = append(out, st.history[id]...)
		return nil
	})
	return out, err
}
