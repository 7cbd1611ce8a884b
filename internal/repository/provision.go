package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/domainshop/internal/domain/provision"
)

const requestColumns = `id, order_id, idempotency_key, request_type, status, priority,
	attempts, next_attempt_at, lease_until, processed_at, notes, created_at, updated_at`

const enqueueRequestSQL = `INSERT INTO provisioning_requests (` + requestColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (idempotency_key, request_type) DO NOTHING`

const getRequestSQL = `SELECT ` + requestColumns + ` FROM provisioning_requests
	WHERE order_id = $1 AND request_type = $2`

const listRequestsSQL = `SELECT ` + requestColumns + ` FROM provisioning_requests
	WHERE order_id = $1 ORDER BY priority DESC, created_at`

// claimableCond matches a due queued request or one whose lease expired.
const claimableCond = `((status = 'queued' AND next_attempt_at <= $2)
	OR (status = 'processing' AND lease_until <= $2))`

const claimRequestSQL = `UPDATE provisioning_requests SET
		status = 'processing',
		attempts = attempts + 1,
		lease_until = $3,
		updated_at = $2
	WHERE id = $1 AND ` + claimableCond + `
	RETURNING ` + requestColumns

const requestExistsSQL = `SELECT EXISTS (SELECT 1 FROM provisioning_requests WHERE id = $1)`

const finishRequestSQL = `UPDATE provisioning_requests SET
		status = $2, notes = $3, processed_at = $4, lease_until = NULL, updated_at = $4
	WHERE id = $1`

const requeueRequestSQL = `UPDATE provisioning_requests SET
		status = 'queued', notes = $2, next_attempt_at = $3, lease_until = NULL, updated_at = now()
	WHERE id = $1`

const cancelRequestsSQL = `UPDATE provisioning_requests SET
		status = 'failed', notes = $2, processed_at = $3, lease_until = NULL, updated_at = $3
	WHERE order_id = $1 AND status IN ('queued', 'processing')`

const listDueOrdersSQL = `SELECT r.order_id FROM provisioning_requests r
	JOIN orders o ON o.id = r.order_id AND o.status = 'PAID'
	WHERE (r.status = 'queued' AND r.next_attempt_at <= $1)
		OR (r.status = 'processing' AND r.lease_until <= $1)
	GROUP BY r.order_id
	ORDER BY MAX(r.priority) DESC, MIN(r.next_attempt_at)
	LIMIT $2`

const domainColumns = `id, order_id, customer_id, name, tld, status, registered_at,
	expires_at, price_paid, currency, registrar_ref`

const createDomainSQL = `INSERT INTO domains (` + domainColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const getDomainByOrderSQL = `SELECT ` + domainColumns + ` FROM domains WHERE order_id = $1`

const hostingColumns = `id, order_id, customer_id, domain_id, package_id, status,
	provider_account_id, provider_username, provider_server, billing_cycle,
	next_billing_at, created_at`

const createHostingSQL = `INSERT INTO hosting_subscriptions (` + hostingColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

const getHostingByOrderSQL = `SELECT ` + hostingColumns + ` FROM hosting_subscriptions WHERE order_id = $1`

var _ provision.Repository = (*ProvisionRepository)(nil)

// ProvisionRepository implements provision.Repository backed by PostgreSQL.
type ProvisionRepository struct {
	conn
}

// NewProvisionRepository returns a ProvisionRepository that uses the given pool.
func NewProvisionRepository(pool *pgxpool.Pool) *ProvisionRepository {
	return &ProvisionRepository{conn{pool: pool}}
}

func (r *ProvisionRepository) EnqueueRequest(ctx context.Context, req *provision.Request) (bool, error) {
	tag, err := r.exec(ctx, enqueueRequestSQL,
		req.ID, req.OrderID, req.IdempotencyKey, string(req.Type), string(req.Status), req.Priority,
		req.Attempts, req.NextAttemptAt.UTC(), utcPtr(req.LeaseUntil), utcPtr(req.ProcessedAt), req.Notes,
		req.CreatedAt.UTC(), req.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("enqueueing %s for order %q: %w", req.Type, req.OrderID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ProvisionRepository) GetRequest(ctx context.Context, orderID string, t provision.RequestType) (*provision.Request, error) {
	req, err := scanRequest(r.queryRow(ctx, getRequestSQL, orderID, string(t)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, provision.ErrRequestNotFound
		}
		return nil, fmt.Errorf("getting %s request for order %q: %w", t, orderID, err)
	}
	return req, nil
}

func (r *ProvisionRepository) ListRequests(ctx context.Context, orderID string) ([]provision.Request, error) {
	rows, err := r.query(ctx, listRequestsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing requests for order %q: %w", orderID, err)
	}
	defer rows.Close()

	var out []provision.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// ClaimRequest takes the lease on a claimable request in a single
// conditional update, so two invokers cannot both win it.
func (r *ProvisionRepository) ClaimRequest(ctx context.Context, id string, now, leaseUntil time.Time) (*provision.Request, bool, error) {
	req, err := scanRequest(r.queryRow(ctx, claimRequestSQL, id, now.UTC(), leaseUntil.UTC()))
	if err == nil {
		return req, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("claiming request %q: %w", id, err)
	}

	exists, err := r.exists(ctx, requestExistsSQL, id)
	if err != nil {
		return nil, false, fmt.Errorf("checking request %q: %w", id, err)
	}
	if !exists {
		return nil, false, provision.ErrRequestNotFound
	}
	return nil, false, nil
}

func (r *ProvisionRepository) CompleteRequest(ctx context.Context, id, notes string, at time.Time) error {
	return r.finish(ctx, id, provision.RequestCompleted, notes, at)
}

func (r *ProvisionRepository) FailRequest(ctx context.Context, id, notes string, at time.Time) error {
	return r.finish(ctx, id, provision.RequestFailed, notes, at)
}

func (r *ProvisionRepository) finish(ctx context.Context, id string, status provision.RequestStatus, notes string, at time.Time) error {
	tag, err := r.exec(ctx, finishRequestSQL, id, string(status), notes, at.UTC())
	if err != nil {
		return fmt.Errorf("finishing request %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return provision.ErrRequestNotFound
	}
	return nil
}

func (r *ProvisionRepository) CancelRequests(ctx context.Context, orderID, notes string, at time.Time) (int, error) {
	tag, err := r.exec(ctx, cancelRequestsSQL, orderID, notes, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("cancelling requests of order %q: %w", orderID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *ProvisionRepository) RequeueRequest(ctx context.Context, id, notes string, next time.Time) error {
	tag, err := r.exec(ctx, requeueRequestSQL, id, notes, next.UTC())
	if err != nil {
		return fmt.Errorf("requeueing request %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return provision.ErrRequestNotFound
	}
	return nil
}

func (r *ProvisionRepository) ListDueOrders(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.query(ctx, listDueOrdersSQL, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing due orders: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning due orders: %w", err)
	}
	return ids, nil
}

func (r *ProvisionRepository) CreateDomain(ctx context.Context, d *provision.Domain) error {
	_, err := r.exec(ctx, createDomainSQL,
		d.ID, d.OrderID, d.CustomerID, d.Name, d.TLD, string(d.Status), d.RegisteredAt.UTC(),
		d.ExpiresAt.UTC(), d.PricePaid, d.Currency, d.RegistrarRef,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return provision.ErrAlreadyRecorded
		}
		return fmt.Errorf("creating domain for order %q: %w", d.OrderID, err)
	}
	return nil
}

func (r *ProvisionRepository) GetDomainByOrder(ctx context.Context, orderID string) (*provision.Domain, error) {
	var (
		d      provision.Domain
		status string
	)
	err := r.queryRow(ctx, getDomainByOrderSQL, orderID).Scan(
		&d.ID, &d.OrderID, &d.CustomerID, &d.Name, &d.TLD, &status, &d.RegisteredAt,
		&d.ExpiresAt, &d.PricePaid, &d.Currency, &d.RegistrarRef,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, provision.ErrDomainNotFound
		}
		return nil, fmt.Errorf("getting domain for order %q: %w", orderID, err)
	}
	d.Status = provision.DomainStatus(status)
	return &d, nil
}

func (r *ProvisionRepository) CreateHostingSubscription(ctx context.Context, h *provision.HostingSubscription) error {
	_, err := r.exec(ctx, createHostingSQL,
		h.ID, h.OrderID, h.CustomerID, nullString(h.DomainID), h.PackageID, string(h.Status),
		h.ProviderAccountID, h.ProviderUsername, h.ProviderServer, h.BillingCycle,
		h.NextBillingAt.UTC(), h.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return provision.ErrAlreadyRecorded
		}
		return fmt.Errorf("creating hosting subscription for order %q: %w", h.OrderID, err)
	}
	return nil
}

func (r *ProvisionRepository) GetHostingByOrder(ctx context.Context, orderID string) (*provision.HostingSubscription, error) {
	var (
		h        provision.HostingSubscription
		domainID *string
		status   string
	)
	err := r.queryRow(ctx, getHostingByOrderSQL, orderID).Scan(
		&h.ID, &h.OrderID, &h.CustomerID, &domainID, &h.PackageID, &status,
		&h.ProviderAccountID, &h.ProviderUsername, &h.ProviderServer, &h.BillingCycle,
		&h.NextBillingAt, &h.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, provision.ErrHostingNotFound
		}
		return nil, fmt.Errorf("getting hosting for order %q: %w", orderID, err)
	}
	h.DomainID = derefString(domainID)
	h.Status = provision.HostingStatus(status)
	return &h, nil
}

func scanRequest(row pgx.Row) (*provision.Request, error) {
	var (
		req         provision.Request
		typ, status string
	)
	err := row.Scan(
		&req.ID, &req.OrderID, &req.IdempotencyKey, &typ, &status, &req.Priority,
		&req.Attempts, &req.NextAttemptAt, &req.LeaseUntil, &req.ProcessedAt, &req.Notes,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Type = provision.RequestType(typ)
	req.Status = provision.RequestStatus(status)
	return &req, nil
}
