// Command api-server runs the order workflow API and the provisioning worker.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	domainshop "github.com/xenking/domainshop/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := domainshop.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "api-server")
		}
		return domainshop.Run(ctx, lg, m, cfg)
	})
}
