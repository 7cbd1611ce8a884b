package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/domainshop/internal/domain/auth"
)

const getAPIKeyByHashSQL = `SELECT id, key_hash, name, scopes, COALESCE(customer_id, '')
	FROM api_keys WHERE key_hash = $1 AND active = TRUE`

const upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes, customer_id)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		key_hash = EXCLUDED.key_hash,
		name = EXCLUDED.name,
		scopes = EXCLUDED.scopes,
		customer_id = EXCLUDED.customer_id,
		active = TRUE`

const getCustomerSQL = `SELECT id, email, name FROM customers WHERE id = $1`

const upsertCustomerSQL = `INSERT INTO customers (id, email, name) VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name`

var (
	_ auth.Repository         = (*APIKeyRepository)(nil)
	_ auth.CustomerRepository = (*CustomerRepository)(nil)
)

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	conn
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{conn{pool: pool}}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var info auth.APIKeyInfo
	err := r.queryRow(ctx, getAPIKeyByHashSQL, hash).Scan(
		&info.ID, &info.KeyHash, &info.Name, &info.Scopes, &info.CustomerID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &info, nil
}

// Upsert stores k, re-activating it when it exists.
func (r *APIKeyRepository) Upsert(ctx context.Context, k auth.APIKeyInfo) error {
	_, err := r.exec(ctx, upsertAPIKeySQL, k.ID, k.KeyHash, k.Name, k.Scopes, nullString(k.CustomerID))
	if err != nil {
		return fmt.Errorf("upserting api key %q: %w", k.ID, err)
	}
	return nil
}

// CustomerRepository resolves customers backed by PostgreSQL.
type CustomerRepository struct {
	conn
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{conn{pool: pool}}
}

func (r *CustomerRepository) GetCustomer(ctx context.Context, id string) (*auth.Customer, error) {
	var c auth.Customer
	err := r.queryRow(ctx, getCustomerSQL, id).Scan(&c.ID, &c.Email, &c.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("getting customer %q: %w", id, err)
	}
	return &c, nil
}

// Upsert inserts or replaces a customer.
func (r *CustomerRepository) Upsert(ctx context.Context, c auth.Customer) error {
	if _, err := r.exec(ctx, upsertCustomerSQL, c.ID, c.Email, c.Name); err != nil {
		return fmt.Errorf("upserting customer %q: %w", c.ID, err)
	}
	return nil
}
