package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/domainshop/internal/domain/pricing"
)

const getHostingPackageSQL = `SELECT id, name, monthly_price, currency, provider_plan, active
	FROM hosting_packages WHERE id = $1`

const listHostingPackagesSQL = `SELECT id, name, monthly_price, currency, provider_plan, active
	FROM hosting_packages WHERE active ORDER BY monthly_price, id`

const getTLDPriceSQL = `SELECT tld, register_price, renew_price, currency, updated_at
	FROM tld_prices WHERE tld = $1`

const listTLDPricesSQL = `SELECT tld, register_price, renew_price, currency, updated_at
	FROM tld_prices ORDER BY tld`

const upsertTLDPriceSQL = `INSERT INTO tld_prices (tld, register_price, renew_price, currency, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (tld) DO UPDATE SET
		register_price = EXCLUDED.register_price,
		renew_price = EXCLUDED.renew_price,
		currency = EXCLUDED.currency,
		updated_at = EXCLUDED.updated_at`

const upsertHostingPackageSQL = `INSERT INTO hosting_packages (id, name, monthly_price, currency, provider_plan, active)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		monthly_price = EXCLUDED.monthly_price,
		currency = EXCLUDED.currency,
		provider_plan = EXCLUDED.provider_plan,
		active = EXCLUDED.active`

var _ pricing.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements pricing.Repository backed by PostgreSQL.
type CatalogRepository struct {
	conn
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{conn{pool: pool}}
}

func (r *CatalogRepository) GetHostingPackage(ctx context.Context, id string) (*pricing.HostingPackage, error) {
	var p pricing.HostingPackage
	err := r.queryRow(ctx, getHostingPackageSQL, id).Scan(
		&p.ID, &p.Name, &p.MonthlyPrice, &p.Currency, &p.ProviderPlan, &p.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pricing.ErrPackageNotFound
		}
		return nil, fmt.Errorf("getting hosting package %q: %w", id, err)
	}
	return &p, nil
}

func (r *CatalogRepository) ListHostingPackages(ctx context.Context) ([]pricing.HostingPackage, error) {
	rows, err := r.query(ctx, listHostingPackagesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing hosting packages: %w", err)
	}
	defer rows.Close()

	var out []pricing.HostingPackage
	for rows.Next() {
		var p pricing.HostingPackage
		if err := rows.Scan(&p.ID, &p.Name, &p.MonthlyPrice, &p.Currency, &p.ProviderPlan, &p.Active); err != nil {
			return nil, fmt.Errorf("scanning hosting package: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertHostingPackage inserts or replaces a hosting package.
func (r *CatalogRepository) UpsertHostingPackage(ctx context.Context, p pricing.HostingPackage) error {
	_, err := r.exec(ctx, upsertHostingPackageSQL, p.ID, p.Name, p.MonthlyPrice, p.Currency, p.ProviderPlan, p.Active)
	if err != nil {
		return fmt.Errorf("upserting hosting package %q: %w", p.ID, err)
	}
	return nil
}

func (r *CatalogRepository) GetTLDPrice(ctx context.Context, tld string) (*pricing.TLDPrice, error) {
	var p pricing.TLDPrice
	err := r.queryRow(ctx, getTLDPriceSQL, pricing.NormalizeTLD(tld)).Scan(
		&p.TLD, &p.Register, &p.Renew, &p.Currency, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pricing.ErrTLDNotFound
		}
		return nil, fmt.Errorf("getting price for %q: %w", tld, err)
	}
	return &p, nil
}

func (r *CatalogRepository) ListTLDPrices(ctx context.Context) ([]pricing.TLDPrice, error) {
	rows, err := r.query(ctx, listTLDPricesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing tld prices: %w", err)
	}
	defer rows.Close()

	var out []pricing.TLDPrice
	for rows.Next() {
		var p pricing.TLDPrice
		if err := rows.Scan(&p.TLD, &p.Register, &p.Renew, &p.Currency, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning tld price: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *CatalogRepository) UpsertTLDPrice(ctx context.Context, p pricing.TLDPrice) error {
	tld := pricing.NormalizeTLD(p.TLD)
	_, err := r.exec(ctx, upsertTLDPriceSQL, tld, p.Register, p.Renew, p.Currency, p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting price for %q: %w", tld, err)
	}
	return nil
}
