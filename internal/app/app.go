package app

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/domainshop/internal/cache"
	"github.com/xenking/domainshop/internal/domain/availability"
	"github.com/xenking/domainshop/internal/domain/billing"
	"github.com/xenking/domainshop/internal/domain/notify"
	"github.com/xenking/domainshop/internal/domain/order"
	"github.com/xenking/domainshop/internal/domain/provision"
	"github.com/xenking/domainshop/internal/events"
	"github.com/xenking/domainshop/internal/handler"
	"github.com/xenking/domainshop/internal/hosting"
	"github.com/xenking/domainshop/internal/metrics"
	"github.com/xenking/domainshop/internal/payment"
	"github.com/xenking/domainshop/internal/registrar"
	"github.com/xenking/domainshop/pkg/health"
	"github.com/xenking/domainshop/pkg/httpmiddleware"
)

// service is the fully wired application.
type service struct {
	handler http.Handler
	worker  *provision.Worker
	health  *health.Health
	closers []func()
}

// Close releases connections in reverse order of creation.
func (s *service) Close() {
	for _, c := range slices.Backward(s.closers) {
		c()
	}
}

// Run creates all dependencies, starts the HTTP server and the provisioning
// worker, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
		zap.String("oracle", cfg.Oracle.Kind),
	)

	svc, err := build(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.worker.Run(gCtx)
	})
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gCtx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.health.Stop()
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// build connects storage and brokers and wires every component. On error
// everything opened so far is closed.
func build(ctx context.Context, lg *zap.Logger, tel httpmiddleware.Telemetry, cfg *Config) (_ *service, rerr error) {
	svc := &service{health: health.New()}
	defer func() {
		if rerr != nil {
			svc.Close()
		}
	}()

	st, err := openStores(ctx, lg, cfg)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, st.close)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mx := metrics.New(reg)

	if st.ping != nil {
		svc.health.AddReadinessCheck("postgres", 5*time.Second, st.ping)
	}
	svc.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	svc.health.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Outbound provider calls.
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithTracerProvider(tel.TracerProvider()),
			otelhttp.WithMeterProvider(tel.MeterProvider()),
		),
	}
	registrarClient := registrar.New(cfg.Registrar, httpClient, mx)
	hostingClient := hosting.New(cfg.Hosting, httpClient, mx)
	paymentClient := payment.New(cfg.Payment, httpClient, mx)
	if cfg.Registrar.BaseURL == "" {
		lg.Warn("Registrar base URL is empty, provisioning will fail")
	}

	// Availability: search may answer from cached quotes, provisioning
	// always re-quotes live.
	live, err := newOracle(cfg, st, registrarClient)
	if err != nil {
		return nil, err
	}
	searchOracle := live
	var limiter httpmiddleware.Limiter

	rdb, err := cache.Connect(ctx, cfg.Cache)
	if err != nil {
		return nil, errors.Wrap(err, "connect redis")
	}
	if rdb != nil {
		svc.closers = append(svc.closers, func() { _ = rdb.Close() })
		searchOracle = availability.NewCachedOracle(live, cache.NewQuoteCache(rdb), cfg.Cache.TTL)
		limiter = httpmiddleware.NewRedisLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
		svc.health.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		lg.Info("Redis enabled", zap.Duration("quote_ttl", cfg.Cache.TTL))
	}
	search := availability.NewService(searchOracle, cfg.Availability, mx)

	// Notifications, optionally mirrored to Kafka.
	var sink notify.Sink
	if len(cfg.Events.Brokers) > 0 {
		pub, err := events.NewPublisher(cfg.Events)
		if err != nil {
			return nil, errors.Wrap(err, "create event publisher")
		}
		svc.closers = append(svc.closers, pub.Close)
		if err := pub.EnsureTopic(ctx, cfg.Events.Partitions, cfg.Events.ReplicationFactor); err != nil {
			return nil, errors.Wrap(err, "ensure event topic")
		}
		svc.health.AddReadinessCheck("kafka", 2*time.Second, pub.Ping)
		sink = pub
		lg.Info("Event publishing enabled", zap.String("topic", cfg.Events.Topic))
	}
	var sender notify.Sender = notify.LogSender{}
	if cfg.SMTP.Host != "" {
		sender = notify.NewSMTPSender(cfg.SMTP)
	}
	dispatcher := notify.NewDispatcher(cfg.Notify, sender,
		customerDirectory{customers: st.customers},
		orderSummaries{orders: st.orders, invoices: st.billing},
		sink, mx,
	)
	notifications := notify.NewQueue(cfg.Notify.Queue, dispatcher, mx)
	svc.closers = append(svc.closers, notifications.Close)

	// Workflow.
	provisioner := provision.NewProvisioner(cfg.Provisioning,
		st.provisioning, st.orders, st.catalog, live,
		registrarClient, hostingClient, st.tx, notifications, mx,
	)
	svc.worker = provision.NewWorker(provisioner)
	coordinator := billing.NewCoordinator(cfg.Billing,
		st.billing, st.orders, provisioner, paymentClient, st.tx, notifications, mx,
		svc.worker.Notify,
	)
	orderService := order.NewService(st.orders, st.catalog, search, coordinator, st.tx, notifications,
		order.WithMetrics(mx),
		order.WithCurrency(cfg.Currency),
	)

	// HTTP surface.
	h := handler.NewHandler(
		handler.HandlerConfig{
			WebhookSecret:    cfg.Webhook.Secret,
			WebhookTolerance: cfg.Webhook.Tolerance,
		},
		search, st.catalog, orderService, coordinator, provisioner,
	)
	securityHandler := handler.NewSecurityHandler(st.apikeys, []byte(cfg.APIKeyPepper))

	mux := chi.NewRouter()
	mux.Get("/livez", svc.health.LiveEndpoint)
	mux.Get("/readyz", svc.health.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Mount("/", h.Routes(securityHandler))

	svc.handler = httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, payment.SignatureHeader, httpmiddleware.RequestIDHeader},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.KeyByHeader(handler.APIKeyHeader),
			Limiter: limiter,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("domainshop-api", tel),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
	return svc, nil
}

// newOracle returns the live availability oracle selected by cfg.
func newOracle(cfg *Config, st *stores, client *registrar.Client) (availability.Oracle, error) {
	switch cfg.Oracle.Kind {
	case OracleRegistrar:
		return availability.NewRegistrarOracle(client), nil
	case OracleWhois:
		return availability.NewWhoisOracle(st.catalog, cfg.Oracle.WhoisTimeout), nil
	case OracleFake:
		return availability.DefaultFakeOracle(), nil
	default:
		return nil, errors.Errorf("unknown availability oracle %q", cfg.Oracle.Kind)
	}
}
