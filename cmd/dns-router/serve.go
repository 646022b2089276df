package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dns-router/pkg/api"
	"dns-router/pkg/config"
	"dns-router/pkg/dns"
	"dns-router/pkg/forwarder"
	"dns-router/pkg/logging"
	"dns-router/pkg/notify"
	"dns-router/pkg/ratelimit"
	"dns-router/pkg/resolver"
	"dns-router/pkg/route"
	"dns-router/pkg/storage"
	"dns-router/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 5 * time.Second
	cleanupInterval = time.Hour
)

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetGlobal(logger)
	defer func() { _ = logger.Close() }()

	logger.Info("DNS router starting",
		"version", version,
		"build_time", buildTime,
	)

	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := telem.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	storeCfg := storage.ConfigFrom(cfg.Storage)
	store, err := storage.New(&storeCfg, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize event log: %w", err)
	}

	emitter := notify.NewEmitter(logger.Component("notify"), metrics)
	emitter.Subscribe(notify.NewLogListener(logger.Component("routing")))
	emitter.Subscribe(telemetry.NewMetricsListener(metrics))
	if storeCfg.Enabled {
		emitter.Subscribe(storage.NewRecorder(store, logger.Component("storage").Logger))
	}

	handler := dns.NewHandler()
	handler.SetLogger(logger.Component("dns"))
	handler.SetMetrics(metrics)
	handler.SetTracer(telem.TracerProvider().Tracer("dns-router/dns"))
	handler.SetNotifier(emitter)
	handler.SetForwarder(forwarder.New(cfg.Upstream.Address, cfg.Upstream.Timeout, logger.Component("forwarder")))
	handler.SetTargetResolver(newTargetResolver(cfg.Resolver, logger.Component("resolver")))
	handler.AnswerTTL = cfg.AnswerTTL

	if limiter := ratelimit.NewManager(&cfg.RateLimit, logger.Component("ratelimit")); limiter != nil {
		handler.SetRateLimiter(limiter)
		defer limiter.Stop()
		logger.Info("Per-client rate limiting enabled",
			"requests_per_second", cfg.RateLimit.RequestsPerSecond,
			"burst", cfg.RateLimit.Burst,
		)
	}

	routes, err := route.FromConfig(cfg.Routes)
	if err != nil {
		return fmt.Errorf("invalid routes: %w", err)
	}
	handler.Routes.Replace(routes)
	logger.Info("Routes loaded", "routes", len(routes))

	server := dns.NewServer(cfg.Server.ListenAddress, handler, logger.Component("server"))
	if err := server.Listen(""); err != nil {
		return err
	}

	watcher, err := config.NewWatcher(configPath, logger.Component("config").Logger)
	if err != nil {
		logger.Warn("Config hot reload disabled", "error", err)
	} else {
		watcher.OnChange(func(c *config.Config) {
			if err := server.ReloadRoutes(c.Routes); err != nil {
				logger.Error("Failed to apply reloaded routes, keeping previous", "error", err)
			}
		})
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx)
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Start(gctx)
		})
	}
	if storeCfg.Enabled {
		g.Go(func() error {
			return storage.RunCleanup(gctx, store, storeCfg.Retention(), cleanupInterval, logger.Component("storage").Logger)
		})
	}

	if cfg.API.Enabled {
		apiServer := api.New(&api.Config{
			ListenAddress: cfg.API.ListenAddress,
			Auth:          cfg.API,
			Storage:       store,
			Routes:        server.Routes(),
			Reload: func(context.Context) (int, error) {
				c, err := config.Load(configPath)
				if err != nil {
					return 0, err
				}
				if err := server.ReloadRoutes(c.Routes); err != nil {
					return 0, err
				}
				return server.Routes().Len(), nil
			},
			Logger:  logger.Component("api").Logger,
			Version: version,
		})
		g.Go(func() error {
			return apiServer.Start(gctx)
		})
	}

	logger.Info("DNS router is running",
		"address", server.Addr().String(),
		"upstream", cfg.Upstream.Address,
	)

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("DNS router error", "error", runErr)
	} else {
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("event log close: %w", err))
	}
	if err := telem.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	for _, err := range errs {
		logger.Error("Error during shutdown", "error", err)
	}

	logger.Info("DNS router stopped")
	return errors.Join(append([]error{runErr}, errs...)...)
}

func newTargetResolver(cfg config.ResolverConfig, logger *logging.Logger) *resolver.Resolver {
	if cfg.Strict {
		return resolver.NewStrict(cfg.Upstreams, cfg.Timeout, logger)
	}
	return resolver.New(cfg.Upstreams, cfg.Timeout, logger)
}
