package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xenking/domainshop/internal/domain/order"
	"github.com/xenking/domainshop/internal/domain/provision"
)

var _ provision.Repository = (*ProvisionRepository)(nil)

// ProvisionRepository implements provision.Repository.
type ProvisionRepository struct {
	s *Store
}

func claimable(r provision.Request, now time.Time) bool {
	switch r.Status {
	case provision.RequestQueued:
		return !r.NextAttemptAt.After(now)
	case provision.RequestProcessing:
		return r.LeaseUntil != nil && !r.LeaseUntil.After(now)
	}
	return false
}

func (r *ProvisionRepository) EnqueueRequest(ctx context.Context, req *provision.Request) (bool, error) {
	var inserted bool
	err := r.s.view(ctx, func(st *state) error {
		k := requestKey{key: req.IdempotencyKey, typ: req.Type}
		if _, ok := st.requestByKey[k]; ok {
			return nil
		}
		st.requests[req.ID] = *req
		st.requestByKey[k] = req.ID
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *ProvisionRepository) GetRequest(ctx context.Context, orderID string, t provision.RequestType) (*provision.Request, error) {
	var out *provision.Request
	err := r.s.view(ctx, func(st *state) error {
		for _, req := range st.requests {
			if req.OrderID == orderID && req.Type == t {
				out = &req
				return nil
			}
		}
		return provision.ErrRequestNotFound
	})
	return out, err
}

func (r *ProvisionRepository) ListRequests(ctx context.Context, orderID string) ([]provision.Request, error) {
	var out []provision.Request
	err := r.s.view(ctx, func(st *state) error {
		for _, req := range st.requests {
			if req.OrderID == orderID {
				out = append(out, req)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, err
}

func (r *ProvisionRepository) ClaimRequest(ctx context.Context, id string, now, leaseUntil time.Time) (*provision.Request, bool, error) {
	var out *provision.Request
	err := r.s.view(ctx, func(st *state) error {
		req, ok := st.requests[id]
		if !ok {
			return provision.ErrRequestNotFound
		}
		if !claimable(req, now) {
			return nil
		}
		req.Status = provision.RequestProcessing
		req.Attempts++
		req.LeaseUntil = &leaseUntil
		req.UpdatedAt = now
		st.requests[id] = req
		out = &req
		return nil
	})
	return out, out != nil, err
}

func (r *ProvisionRepository) finish(ctx context.Context, id string, status provision.RequestStatus, notes string, at time.Time) error {
	return r.s.view(ctx, func(st *state) error {
		req, ok := st.requests[id]
		if !ok {
			return provision.ErrRequestNotFound
		}
		req.Status = status
		req.Notes = notes
		req.LeaseUntil = nil
		req.ProcessedAt = &at
		req.UpdatedAt = at
		st.requests[id] = req
		return nil
	})
}

func (r *ProvisionRepository) CompleteRequest(ctx context.Context, id, notes string, at time.Time) error {
	return r.finish(ctx, id, provision.RequestCompleted, notes, at)
}

func (r *ProvisionRepository) FailRequest(ctx context.Context, id, notes string, at time.Time) error {
	return r.finish(ctx, id, provision.RequestFailed, notes, at)
}

func (r *ProvisionRepository) RequeueRequest(ctx context.Context, id, notes string, next time.Time) error {
	return r.s.view(ctx, func(st *state) error {
		req, ok := st.requests[id]
		if !ok {
			return provision.ErrRequestNotFound
		}
		req.Status = provision.RequestQueued
		req.Notes = notes
		req.LeaseUntil = nil
		req.NextAttemptAt = next
		st.requests[id] = req
		return nil
	})
}

func (r *ProvisionRepository) CancelRequests(ctx context.Context, orderID, notes string, at time.Time) (int, error) {
	var n int
	err := r.s.view(ctx, func(st *state) error {
		for id, req := range st.requests {
			if req.OrderID != orderID {
				continue
			}
			if req.Status != provision.RequestQueued && req.Status != provision.RequestProcessing {
				continue
			}
			req.Status = provision.RequestFailed
			req.Notes = notes
			req.LeaseUntil = nil
			req.ProcessedAt = &at
			req.UpdatedAt = at
			st.requests[id] = req
			n++
		}
		return nil
	})
	return n, err
}

func (r *ProvisionRepository) ListDueOrders(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var due []provision.Request
	err := r.s.view(ctx, func(st *state) error {
		for _, req := range st.requests {
			if st.orders[req.OrderID].Status != order.StatusPaid {
				continue
			}
			if claimable(req, now) {
				due = append(due, req)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})

	seen := make(map[string]struct{}, len(due))
	var ids []string
	for _, req := range due {
		if _, ok := seen[req.OrderID]; ok {
			continue
		}
		seen[req.OrderID] = struct{}{}
		ids = append(ids, req.OrderID)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (r *ProvisionRepository) CreateDomain(ctx context.Context, d *provision.Domain) error {
	return r.s.view(ctx, func(st *state) error {
		if _, ok := st.domains[d.OrderID]; ok {
			return provision.ErrAlreadyRecorded
		}
		st.domains[d.OrderID] = *d
		return nil
	})
}

func (r *ProvisionRepository) GetDomainByOrder(ctx context.Context, orderID string) (*provision.Domain, error) {
	var out *provision.Domain
	err := r.s.view(ctx, func(st *state) error {
		d, ok := st.domains[orderID]
		if !ok {
			return provision.ErrDomainNotFound
		}
		out = &d
		return nil
	})
	return out, err
}

func (r *ProvisionRepository) CreateHostingSubscription(ctx context.Context, h *provision.HostingSubscription) error {
	return r.s.view(ctx, func(st *state) error {
		if _, ok := st.hosting[h.OrderID]; ok {
			return provision.ErrAlreadyRecorded
		}
		st.hosting[h.OrderID] = *h
		return nil
	})
}

func (r *ProvisionRepository) GetHostingByOrder(ctx context.Context, orderID string) (*provision.HostingSubscription, error) {
	var out *provision.HostingSubscription
	err := r.s.view(ctx, func(st *state) error {
		h, ok := st.hosting[orderID]
		if !ok {
			return provision.ErrHostingNotFound
		}
		out = &h
		return nil
	})
	return out, err
}
