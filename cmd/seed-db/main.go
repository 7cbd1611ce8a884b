// Command seed-db loads the starter catalog, a demo customer and API keys.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/domainshop/internal/domain/auth"
	"github.com/xenking/domainshop/internal/handler"
	"github.com/xenking/domainshop/internal/repository"
	"github.com/xenking/domainshop/internal/seed"
)

type options struct {
	databaseURL   string
	pepper        string
	adminKey      string
	customerKey   string
	customerID    string
	customerEmail string
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or DOMAINSHOP_API_KEY_PEPPER env)")
	flag.StringVar(&opts.adminKey, "admin-key", "", "admin API key to seed (or DOMAINSHOP_SEED_ADMIN_KEY env)")
	flag.StringVar(&opts.customerKey, "customer-key", "", "customer API key to seed (or DOMAINSHOP_SEED_CUSTOMER_KEY env)")
	flag.StringVar(&opts.customerID, "customer-id", "demo-customer", "id of the seeded customer")
	flag.StringVar(&opts.customerEmail, "customer-email", "customer@example.com", "email of the seeded customer")
	flag.Parse()

	envDefault(&opts.databaseURL, "DATABASE_URL")
	envDefault(&opts.pepper, "DOMAINSHOP_API_KEY_PEPPER")
	envDefault(&opts.adminKey, "DOMAINSHOP_SEED_ADMIN_KEY")
	envDefault(&opts.customerKey, "DOMAINSHOP_SEED_CUSTOMER_KEY")

	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if (opts.adminKey != "" || opts.customerKey != "") && opts.pepper == "" {
		slog.Error("API key pepper is required to seed keys: set --api-key-pepper or DOMAINSHOP_API_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func envDefault(v *string, key string) {
	if *v == "" {
		*v = os.Getenv(key)
	}
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	data := seed.Catalog(time.Now().UTC()).Merge(keys(opts))
	repos := repository.New(pool)

	err = repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		return seed.Apply(ctx, seed.Target{
			Package:  repos.Catalog.UpsertHostingPackage,
			TLDPrice: repos.Catalog.UpsertTLDPrice,
			Customer: repos.Customers.Upsert,
			APIKey:   repos.APIKeys.Upsert,
		}, data)
	})
	if err != nil {
		return err
	}

	slog.Info("seeded",
		slog.Int("packages", len(data.Packages)),
		slog.Int("tld_prices", len(data.TLDPrices)),
		slog.Int("customers", len(data.Customers)),
		slog.Int("api_keys", len(data.APIKeys)),
	)
	return nil
}

func keys(opts options) seed.Data {
	pepper := []byte(opts.pepper)
	var d seed.Data
	if opts.adminKey != "" {
		d.APIKeys = append(d.APIKeys, auth.APIKeyInfo{
			ID:      "admin",
			KeyHash: handler.HashKey(pepper, opts.adminKey),
			Name:    "Seeded admin key",
			Scopes:  []string{auth.ScopeAdmin},
		})
	}
	if opts.customerKey != "" {
		d.Customers = append(d.Customers, auth.Customer{
			ID:    opts.customerID,
			Email: opts.customerEmail,
			Name:  "Demo customer",
		})
		d.APIKeys = append(d.APIKeys, auth.APIKeyInfo{
			ID:         opts.customerID,
			KeyHash:    handler.HashKey(pepper, opts.customerKey),
			Name:       "Seeded customer key",
			Scopes:     []string{auth.ScopeOrders},
			CustomerID: opts.customerID,
		})
	}
	return d
}
