package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/domainshop/internal/domain/order"
)

const orderColumns = `id, customer_id, domain_name, tld, term_years, domain_price,
	hosting_package_id, hosting_price, total_estimate, currency, status,
	reason_kind, reason_code, reason_message, idempotency_token,
	created_at, reviewed_at, updated_at`

const createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

const insertHistorySQL = `INSERT INTO order_status_history (order_id, from_status, to_status, at)
	VALUES ($1, $2, $3, $4)`

const getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

const listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE ($1 = '' OR status = $1) AND ($2 = '' OR customer_id = $2)
	ORDER BY created_at DESC, id DESC
	LIMIT $3`

const casOrderStatusSQL = `UPDATE orders SET
		status = $3,
		updated_at = $4,
		reason_kind = COALESCE($5, reason_kind),
		reason_code = COALESCE($6, reason_code),
		reason_message = COALESCE($7, reason_message),
		reviewed_at = CASE WHEN $8 THEN $4 ELSE reviewed_at END
	WHERE id = $1 AND status = $2
	RETURNING ` + orderColumns

const orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

const orderHistorySQL = `SELECT order_id, COALESCE(from_status, ''), to_status, at
	FROM order_status_history WHERE order_id = $1 ORDER BY id`

// defaultListLimit caps List when the filter sets no limit.
const defaultListLimit = 100

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	conn
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{conn{pool: pool}}
}

// Create persists a new order and its first history row.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	kind, code, msg := reasonColumns(o.Reason)
	return withTx(ctx, r.pool, func(ctx context.Context) error {
		_, err := r.exec(ctx, createOrderSQL,
			o.ID, o.CustomerID, o.DomainName, o.TLD, o.TermYears, o.DomainPrice,
			nullString(o.HostingPackageID), o.HostingPrice, o.TotalEstimate, o.Currency, string(o.Status),
			kind, code, msg, o.IdempotencyToken,
			o.CreatedAt.UTC(), utcPtr(o.ReviewedAt), o.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("creating order %q: %w", o.ID, err)
		}

		if _, err := r.exec(ctx, insertHistorySQL, o.ID, nil, string(o.Status), o.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("recording order %q history: %w", o.ID, err)
		}
		return nil
	})
}

// Get returns an order by id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(r.queryRow(ctx, getOrderSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return o, nil
}

// List returns orders matching f, newest first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.query(ctx, listOrdersSQL, string(f.Status), f.CustomerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// CompareAndSwapStatus moves the order from one status to another and
// records the transition, both in one transaction.
func (r *OrderRepository) CompareAndSwapStatus(
	ctx context.Context,
	id string,
	from, to order.Status,
	upd order.TransitionUpdate,
) (*order.Order, error) {
	kind, code, msg := reasonColumns(upd.Reason)
	at := upd.At.UTC()

	var out *order.Order
	err := withTx(ctx, r.pool, func(ctx context.Context) error {
		o, err := scanOrder(r.queryRow(ctx, casOrderStatusSQL,
			id, string(from), string(to), at, kind, code, msg, upd.MarkReviewed,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			exists, eerr := r.exists(ctx, orderExistsSQL, id)
			if eerr != nil {
				return fmt.Errorf("checking order %q: %w", id, eerr)
			}
			if !exists {
				return order.ErrNotFound
			}
			return order.ErrStatusMismatch
		}
		if err != nil {
			return fmt.Errorf("updating order %q status: %w", id, err)
		}

		if _, err := r.exec(ctx, insertHistorySQL, id, string(from), string(to), at); err != nil {
			return fmt.Errorf("recording order %q history: %w", id, err)
		}
		out = o
		return nil
	})
	return out, err
}

// History returns the committed transitions of an order, oldest first.
func (r *OrderRepository) History(ctx context.Context, id string) ([]order.Transition, error) {
	rows, err := r.query(ctx, orderHistorySQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing order %q history: %w", id, err)
	}
	defer rows.Close()

	var out []order.Transition
	for rows.Next() {
		var (
			t        order.Transition
			from, to string
		)
		if err := rows.Scan(&t.OrderID, &from, &to, &t.At); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		t.From, t.To = order.Status(from), order.Status(to)
		out = append(out, t)
	}
	return out, rows.Err()
}

func reasonColumns(r *order.Reason) (kind, code, msg *string) {
	if r == nil {
		return nil, nil, nil
	}
	k := string(r.Kind)
	return &k, &r.Code, &r.Message
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o               order.Order
		status          string
		hostingID       *string
		kind, code, msg *string
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.DomainName, &o.TLD, &o.TermYears, &o.DomainPrice,
		&hostingID, &o.HostingPrice, &o.TotalEstimate, &o.Currency, &status,
		&kind, &code, &msg, &o.IdempotencyToken,
		&o.CreatedAt, &o.ReviewedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = order.Status(status)
	o.HostingPackageID = derefString(hostingID)
	if kind != nil {
		o.Reason = &order.Reason{Kind: order.ReasonKind(*kind), Code: derefString(code), Message: derefString(msg)}
	}
	return &o, nil
}
