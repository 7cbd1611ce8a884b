// Command price-ingest loads registrar TLD price sheets into the price list.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/domainshop/internal/pricelist"
	"github.com/xenking/domainshop/internal/repository"
)

func main() {
	var (
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and validate sheets without writing")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: price-ingest [flags] sheet.csv[.gz]...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, flag.Args(), dryRun); err != nil {
		slog.Error("price ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("price ingest completed successfully")
}

func run(ctx context.Context, databaseURL string, paths []string, dryRun bool) error {
	slog.Info("reading price sheets", slog.Int("files", len(paths)))

	sheets, err := pricelist.ReadFiles(ctx, paths, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "read sheets")
	}
	for _, s := range sheets {
		slog.Info("sheet parsed", slog.String("path", s.Path), slog.Int("rows", len(s.Prices)))
	}

	prices, replaced := pricelist.Merge(sheets)
	slog.Info("sheets merged", slog.Int("tlds", len(prices)), slog.Int("replaced", replaced))

	if dryRun {
		for _, p := range prices {
			slog.Info("price",
				slog.String("tld", p.TLD),
				slog.String("register", p.Register.StringFixed(2)),
				slog.String("renew", p.Renew.StringFixed(2)),
				slog.String("currency", p.Currency),
			)
		}
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repos := repository.New(pool)
	// All rows commit together.
	return repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		for i, p := range prices {
			if err := repos.Catalog.UpsertTLDPrice(ctx, p); err != nil {
				return errors.Wrapf(err, "upsert %s", p.TLD)
			}
			if (i+1)%100 == 0 || i+1 == len(prices) {
				slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(prices)))
			}
		}
		return nil
	})
}
