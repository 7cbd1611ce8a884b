package provision

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Worker drives provisioning off the request path. It polls for due
// requests and can be woken early when a payment commits.
type Worker struct {
	p    *Provisioner
	repo Repository
	cfg  Config
	wake chan struct{}
}

// NewWorker creates a Worker for p.
func NewWorker(p *Provisioner) *Worker {
	return &Worker{
		p:    p,
		repo: p.repo,
		cfg:  p.cfg,
		wake: make(chan struct{}, 1),
	}
}

// Notify wakes the worker. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run processes due requests until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	lg.Info("Provisioning worker started", zap.Duration("poll_interval", w.cfg.PollInterval))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			lg.Error("Provisioning pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			lg.Info("Provisioning worker stopped")
			return nil
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// RunOnce provisions one batch of due orders and returns after all of them
// were attempted. Per-order failures are logged, not returned.
func (w *Worker) RunOnce(ctx context.Context) error {
	ids, err := w.repo.ListDueOrders(ctx, w.p.now(), w.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "list due orders")
	}

	lg := zctx.From(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := w.p.Provision(gctx, id)
			switch {
			case err == nil:
			case errors.Is(err, ErrInProgress):
				lg.Debug("Provisioning skipped", zap.String("order_id", id), zap.Error(err))
			default:
				lg.Warn("Provisioning attempt failed", zap.String("order_id", id), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}
