package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/domainshop/internal/domain/auth"
	"github.com/xenking/domainshop/internal/domain/billing"
	"github.com/xenking/domainshop/internal/domain/order"
	"github.com/xenking/domainshop/internal/domain/pricing"
	"github.com/xenking/domainshop/internal/domain/provision"
	"github.com/xenking/domainshop/internal/handler"
	"github.com/xenking/domainshop/internal/repository"
	"github.com/xenking/domainshop/internal/repository/memory"
	"github.com/xenking/domainshop/internal/seed"
)

// stores is the persistence layer the services run on.
type stores struct {
	tx           order.TxRunner
	orders       order.Repository
	billing      billing.Repository
	provisioning provision.Repository
	catalog      pricing.Repository
	apikeys      auth.Repository
	customers    auth.CustomerRepository

	// ping is nil for the memory backend.
	ping  func(ctx context.Context) error
	close func()
}

func openStores(ctx context.Context, lg *zap.Logger, cfg *Config) (*stores, error) {
	switch cfg.Storage {
	case StorageMemory:
		return openMemory(ctx, lg, cfg)
	default:
		return openPostgres(ctx, cfg)
	}
}

func openPostgres(ctx context.Context, cfg *Config) (*stores, error) {
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}

	repos := repository.New(pool)
	return &stores{
		tx:           repos.Tx,
		orders:       repos.Orders,
		billing:      repos.Billing,
		provisioning: repos.Provisioning,
		catalog:      repos.Catalog,
		apikeys:      repos.APIKeys,
		customers:    repos.Customers,
		ping:         pool.Ping,
		close:        pool.Close,
	}, nil
}

// openMemory builds a process-local store with the starter catalog and the
// configured development keys.
func openMemory(ctx context.Context, lg *zap.Logger, cfg *Config) (*stores, error) {
	store := memory.New()
	data := seed.Catalog(time.Now()).Merge(devKeys(cfg))
	if err := seed.Apply(ctx, seed.Target{
		Package:  store.Catalog().PutHostingPackage,
		TLDPrice: store.Catalog().UpsertTLDPrice,
		Customer: store.Auth().PutCustomer,
		APIKey:   store.Auth().PutAPIKey,
	}, data); err != nil {
		return nil, errors.Wrap(err, "seed memory store")
	}
	lg.Warn("Using memory storage, state is lost on restart",
		zap.Int("api_keys", len(data.APIKeys)),
	)

	return &stores{
		tx:           store,
		orders:       store.Orders(),
		billing:      store.Billing(),
		provisioning: store.Provisioning(),
		catalog:      store.Catalog(),
		apikeys:      store.Auth(),
		customers:    store.Auth(),
		close:        func() {},
	}, nil
}

func devKeys(cfg *Config) seed.Data {
	pepper := []byte(cfg.APIKeyPepper)
	var d seed.Data
	if cfg.Dev.AdminKey != "" {
		d.APIKeys = append(d.APIKeys, auth.APIKeyInfo{
			ID:      "dev-admin",
			KeyHash: handler.HashKey(pepper, cfg.Dev.AdminKey),
			Name:    "Development admin",
			Scopes:  []string{auth.ScopeAdmin},
		})
	}
	if cfg.Dev.CustomerKey != "" {
		d.Customers = append(d.Customers, auth.Customer{
			ID:    "dev-customer",
			Email: cfg.Dev.CustomerEmail,
			Name:  "Development customer",
		})
		d.APIKeys = append(d.APIKeys, auth.APIKeyInfo{
			ID:         "dev-customer",
			KeyHash:    handler.HashKey(pepper, cfg.Dev.CustomerKey),
			Name:       "Development customer",
			Scopes:     []string{auth.ScopeOrders},
			CustomerID: "dev-customer",
		})
	}
	return d
}
