// Package repository implements the domain repositories on PostgreSQL.
package repository

import (
	"context"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/domainshop/db"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, db.Schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Repositories bundles every repository sharing one pool.
type Repositories struct {
	Tx           *TxRunner
	Orders       *OrderRepository
	Billing      *BillingRepository
	Provisioning *ProvisionRepository
	Catalog      *CatalogRepository
	APIKeys      *APIKeyRepository
	Customers    *CustomerRepository
}

// New returns all repositories backed by pool.
func New(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Tx:           NewTxRunner(pool),
		Orders:       NewOrderRepository(pool),
		Billing:      NewBillingRepository(pool),
		Provisioning: NewProvisionRepository(pool),
		Catalog:      NewCatalogRepository(pool),
		APIKeys:      NewAPIKeyRepository(pool),
		Customers:    NewCustomerRepository(pool),
	}
}
