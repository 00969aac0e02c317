package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wuchris-ch/notification-app/internal/analytics"
	"github.com/wuchris-ch/notification-app/internal/api"
	"github.com/wuchris-ch/notification-app/internal/circuitbreaker"
	"github.com/wuchris-ch/notification-app/internal/config"
	"github.com/wuchris-ch/notification-app/internal/cron"
	"github.com/wuchris-ch/notification-app/internal/dispatcher"
	"github.com/wuchris-ch/notification-app/internal/domain"
	"github.com/wuchris-ch/notification-app/internal/gateway"
	"github.com/wuchris-ch/notification-app/internal/leaderelection"
	"github.com/wuchris-ch/notification-app/internal/metrics"
	"github.com/wuchris-ch/notification-app/internal/observ"
	"github.com/wuchris-ch/notification-app/internal/reconciler"
	"github.com/wuchris-ch/notification-app/internal/registry"
	"github.com/wuchris-ch/notification-app/internal/store/postgres"
	"github.com/wuchris-ch/notification-app/internal/store/sqlite"
	"github.com/wuchris-ch/notification-app/internal/transport/channel"
)

// appStore is what every component needs from the selected backend.
type appStore interface {
	reconciler.Store
	dispatcher.Store
	api.Store
	Close() error
}

// openStore opens the backend DATABASE_URL selects. db is non-nil only for
// postgres; leader election needs it.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (appStore, *sql.DB, error) {
	switch cfg.Backend() {
	case config.BackendSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath())
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.Info("store opened", zap.String("backend", config.BackendSQLite), zap.String("path", cfg.SQLitePath()))
		return st, nil, nil

	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)

		pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}

		if cfg.DBAutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("schema applied")
		}

		logger.Info("store opened",
			zap.String("backend", config.BackendPostgres),
			zap.Int("max_open", cfg.DBMaxOpenConns),
			zap.Int("max_idle", cfg.DBMaxIdleConns))
		return postgres.New(db), db, nil
	}
	return nil, nil, fmt.Errorf("unsupported DATABASE_URL scheme")
}

// buildGateway routes destinations by kind and, when enabled, wraps the
// router in a per-destination circuit breaker.
func buildGateway(ctx context.Context, cfg config.Config, logger *zap.Logger) (dispatcher.Gateway, error) {
	ntfy := gateway.NewNtfy(cfg.NtfyBaseURL).
		WithToken(cfg.NtfyToken).
		WithRateLimit(cfg.NtfyRatePerSec).
		WithTimeout(cfg.SendTimeout)

	router := gateway.NewRouter().
		Handle(domain.DestinationNtfyTopic, ntfy).
		Handle(domain.DestinationURL, ntfy)

	if cfg.SNSEnabled {
		sns, err := gateway.NewSNS(ctx, gateway.SNSConfig{
			Region:   cfg.AWSRegion,
			Endpoint: cfg.SNSEndpoint,
			Timeout:  cfg.SendTimeout,
		})
		if err != nil {
			return nil, err
		}
		router.Handle(domain.DestinationSNS, sns)
		logger.Info("sns enabled", zap.String("region", cfg.AWSRegion))
	}

	if cfg.CircuitBreakerThreshold > 0 {
		breaker := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		return gateway.NewProtected(router, breaker, logger), nil
	}
	return router, nil
}

// leaderDuties runs the reconciler while this instance holds the lock and
// clears every trigger when it loses it.
type leaderDuties struct {
	reconciler *reconciler.Reconciler
	registry   *registry.Registry
	logger     *zap.Logger
}

func (d *leaderDuties) Lead(ctx context.Context) {
	d.reconciler.Run(ctx)
}

func (d *leaderDuties) Resign() {
	n := d.registry.RemoveAll()
	d.logger.Info("triggers cleared", zap.Int("count", n))
}

// stopFiring runs the first shutdown phases: stop reconciling, retire every
// trigger, then drain the dispatcher. Firings already on the bus are delivered
// even though their triggers are gone.
func stopFiring(
	logger *zap.Logger,
	disp *dispatcher.Dispatcher,
	reg *registry.Registry,
	cancelScheduling context.CancelFunc,
	schedulingWg *sync.WaitGroup,
	cancelDispatcher context.CancelFunc,
	dispatcherWg *sync.WaitGroup,
	stopTimeout time.Duration,
) {
	disp.BeginDrain()

	// Phase 1: stop reconciling (no new triggers registered)
	cancelScheduling()
	schedulingWg.Wait()
	logger.Info("reconciler stopped")

	// Phase 2: retire every trigger and wait for in-flight callbacks
	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	if err := reg.Stop(stopCtx); err != nil {
		logger.Warn("registry stop timed out", zap.Error(err))
	}
	cancelStop()
	logger.Info("registry stopped")

	// Phase 3: stop dispatcher (drains buffered firings before returning)
	cancelDispatcher()
	dispatcherWg.Wait()
	logger.Info("dispatcher stopped")
}

func runServe() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return exitRuntimeError
	}
	defer func() { _ = logger.Sync() }()

	logConfigWarnings(logger, cfg)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	store, db, err := openStore(startCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return exitRuntimeError
	}
	defer store.Close()

	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, logger)
		logger.Info("metrics enabled", zap.String("path", cfg.MetricsPath))
	}

	gw, err := buildGateway(startCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to build gateway", zap.Error(err))
		return exitRuntimeError
	}

	reg := registry.New(cron.NewParser()).
		WithLogger(logger).
		WithMetrics(sink)

	bus := channel.NewEventBus(cfg.EventBusBufferSize,
		channel.WithEmitTimeout(cfg.EventBusEmitTimeout),
		channel.WithMetrics(sink))

	disp := dispatcher.New(store, gw).
		WithActiveChecker(reg).
		WithLogger(logger).
		WithMetrics(sink).
		WithStoreTimeout(cfg.StoreTimeout).
		WithSendTimeout(cfg.SendTimeout).
		WithConcurrency(cfg.FanoutConcurrency).
		WithDrainTimeout(cfg.DispatcherDrainTimeout)

	rec := reconciler.New(
		reconciler.Config{
			Interval:        cfg.ReconcileInterval,
			StoreTimeout:    cfg.StoreTimeout,
			DefaultTimezone: cfg.DefaultTimezone,
		},
		store,
		reg,
		bus,
	).WithLogger(logger).WithMetrics(sink)

	apiHandler := api.NewHandler(store, reg).WithLogger(logger)
	if cfg.MetricsEnabled {
		apiHandler = apiHandler.WithMetricsHandler(cfg.MetricsPath, promhttp.Handler())
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		asink := analytics.NewRedisSink(redisClient, domain.AnalyticsConfig{
			Window:    cfg.AnalyticsWindow,
			Retention: cfg.AnalyticsRetention,
		}).WithLogger(logger)
		disp = disp.WithAnalytics(asink)
		apiHandler = apiHandler.WithHealthChecker("redis", asink.Ping)
		logger.Info("analytics enabled", zap.String("redis", cfg.RedisAddr))
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	// Separate contexts so scheduling stops before the dispatcher drains.
	schedulingCtx, cancelScheduling := context.WithCancel(context.Background())
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())

	var schedulingWg sync.WaitGroup
	var dispatcherWg sync.WaitGroup

	for i := 0; i < cfg.DispatcherWorkers; i++ {
		dispatcherWg.Add(1)
		go func() {
			defer dispatcherWg.Done()
			disp.Run(dispatcherCtx, bus.Channel())
		}()
	}

	schedulingWg.Add(1)
	if cfg.LeaderElectionEnabled {
		elector := leaderelection.New(
			leaderelection.NewPGLocker(db, cfg.LeaderLockKey),
			&leaderDuties{reconciler: rec, registry: reg, logger: logger},
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
		).WithLogger(logger).WithMetrics(sink)
		go func() {
			defer schedulingWg.Done()
			elector.Run(schedulingCtx)
		}()
	} else {
		go func() {
			defer schedulingWg.Done()
			rec.Run(schedulingCtx)
		}()
	}

	if cfg.ListenEnabled {
		listener := postgres.NewListener(cfg.DatabaseURL, cfg.ListenChannel, rec).WithLogger(logger)
		schedulingWg.Add(1)
		go func() {
			defer schedulingWg.Done()
			_ = listener.Run(schedulingCtx)
		}()
	}

	logger.Info("started",
		zap.String("version", version),
		zap.String("backend", cfg.Backend()),
		zap.Duration("reconcile_interval", cfg.ReconcileInterval),
		zap.Int("workers", cfg.DispatcherWorkers),
		zap.Bool("leader_election", cfg.LeaderElectionEnabled))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	logger.Info("shutting down", zap.String("signal", received.String()))

	stopFiring(logger, disp, reg, cancelScheduling, &schedulingWg, cancelDispatcher, &dispatcherWg, cfg.DispatcherDrainTimeout)

	// Phase 4: stop HTTP server with graceful shutdown
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	logger.Info("http server stopped")

	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("stopped")
	return exitSuccess
}
