package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	storesyncapp "github.com/storesync/backend/internal/application/storesync"
	"github.com/storesync/backend/internal/infrastructure/cache"
	"github.com/storesync/backend/internal/infrastructure/config"
	"github.com/storesync/backend/internal/infrastructure/ecommerce"
	"github.com/storesync/backend/internal/infrastructure/logger"
	"github.com/storesync/backend/internal/infrastructure/persistence"
	"github.com/storesync/backend/internal/infrastructure/scheduler"
	"github.com/storesync/backend/internal/infrastructure/storage"
	"github.com/storesync/backend/internal/infrastructure/telemetry"
	"github.com/storesync/backend/internal/interfaces/http/handler"
	"github.com/storesync/backend/internal/interfaces/http/middleware"
	"github.com/storesync/backend/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}, cfg.Telemetry.ServiceName)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	// Telemetry: traces, metrics, and optionally logs shipped to the collector
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	if level, err := logger.ParseLevel(cfg.Log.Level); err == nil {
		log = lp.Bridge(log, level)
	}

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Profiling.Enabled,
		ServerAddress:     cfg.Profiling.ServerAddress,
		ApplicationName:   cfg.Profiling.ApplicationName,
		BasicAuthUser:     cfg.Profiling.BasicAuthUser,
		BasicAuthPassword: cfg.Profiling.BasicAuthPassword,
		ProfileTypes:      cfg.Profiling.ProfileTypes,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.IsEnabled() && cfg.Profiling.SpanProfiles {
		tp.EnableSpanProfiles()
	}

	log.Info("Starting store sync service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, log, logger.MapGormLogLevel(cfg.Log.Level))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	dbInstrumentation, err := telemetry.InstrumentDB(db.DB, mp.Meter("storesync/db"), telemetry.DBConfig{
		Tracing:   cfg.Telemetry.DBTraceEnabled,
		SlowQuery: cfg.Telemetry.SlowQuery,
	}, log)
	if err != nil {
		log.Fatal("Failed to instrument database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Repositories
	cipher, err := persistence.NewTokenCipher(cfg.Security.TokenEncryptionKey)
	if err != nil {
		log.Fatal("Failed to initialize token cipher", zap.Error(err))
	}
	storeRepo := persistence.NewGormStoreRepository(db.DB, cipher)
	runRepo := persistence.NewGormSyncRunRepository(db.DB)
	gateway := persistence.NewGormRecordGateway(db.DB)

	// Store API client; outbound calls join the caller's trace
	api, err := ecommerce.NewShopifyClient(
		ecommerce.ShopifyConfigFrom(cfg.Shopify),
		&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		log,
	)
	if err != nil {
		log.Fatal("Failed to initialize store API client", zap.Error(err))
	}

	// Active job registry and webhook delivery store
	registryFactory := cache.NewJobRegistryFactory(cfg.Sync, cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	)
	registry, closeRegistry, err := registryFactory.Create()
	if err != nil {
		log.Fatal("Failed to create sync job registry", zap.Error(err))
	}
	deliveries, closeDeliveries := registryFactory.DeliveryStore()

	// Application services
	syncMetrics, err := telemetry.NewSyncMetrics(mp.Meter("storesync"))
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}
	syncService := storesyncapp.NewSyncService(storesyncapp.Dependencies{
		Stores:     storeRepo,
		Records:    gateway,
		Statistics: gateway,
		Runs:       runRepo,
		Registry:   registry,
		API:        api,
		Deliveries: deliveries,
	}, storesyncapp.Config{
		PageSize:     cfg.Sync.PageSize,
		WorkerBudget: cfg.Sync.WorkerBudget,
	}, log)
	syncService.SetMetrics(syncMetrics)
	storeService := storesyncapp.NewStoreService(storeRepo, api, registry, log)

	// Scheduler; built even when disabled so health and manual task runs work
	sched, err := scheduler.NewSyncScheduler(schedulerConfig(cfg.Scheduler), scheduler.Dependencies{
		Syncs:    syncService,
		Stores:   storeRepo,
		Runs:     runRepo,
		Registry: registry,
		Database: db,
	}, log)
	if err != nil {
		log.Fatal("Failed to create scheduler", zap.Error(err))
	}
	sched.SetMetrics(syncMetrics)
	syncService.OnJobFinished(sched.HandleJobFinished)
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
	} else {
		log.Info("Scheduler disabled; stores sync only on demand")
	}

	// Run report archive
	var syncOpts []handler.SyncOption
	if cfg.Archive.Enabled {
		objects, err := storage.NewS3ObjectStorage(&cfg.Archive, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create archive storage", zap.Error(err))
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			log.Fatal("Failed to prepare archive bucket", zap.String("bucket", objects.Bucket()), zap.Error(err))
		}
		archive := storage.NewRunArchive(objects, cfg.Archive.Prefix, log)
		syncService.OnJobFinished(archive.HandleJobFinished)
		syncOpts = append(syncOpts, handler.WithRunReports(archive))
		log.Info("Archiving sync run reports", zap.String("bucket", objects.Bucket()), zap.String("prefix", cfg.Archive.Prefix))
	}

	// HTTP
	var webhookOpts []handler.WebhookOption
	if cfg.Shopify.WebhookSecret != "" {
		webhookOpts = append(webhookOpts, handler.WithWebhookSecret(cfg.Shopify.WebhookSecret))
	} else {
		log.Warn("Webhook secret not configured; webhook signatures are not verified")
	}
	engine, err := router.New(router.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Logger:      log,
		Meter:       mp.Meter("storesync/http"),
		Tenant: middleware.TenantConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			Issuer:    cfg.Auth.Issuer,
			Logger:    log,
		},
		CORSOrigins:    cfg.HTTP.CORSAllowOrigins,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		WebhookRate:    cfg.HTTP.WebhookRate,
		WebhookBurst:   cfg.HTTP.WebhookBurst,
	}, router.Handlers{
		Stores:    handler.NewStoreHandler(storeService),
		Syncs:     handler.NewSyncHandler(syncService, syncOpts...),
		Webhooks:  handler.NewWebhookHandler(syncService, webhookOpts...),
		Scheduler: handler.NewSchedulerHandler(sched),
	})
	if err != nil {
		log.Fatal("Failed to build router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop intake first, then drain running jobs before releasing backends.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn("Scheduler did not stop cleanly", zap.Error(err))
	}
	if err := syncService.Shutdown(shutdownCtx); err != nil {
		log.Warn("Sync jobs did not finish before shutdown", zap.Error(err))
	}
	if err := closeDeliveries(); err != nil {
		log.Warn("Error closing webhook delivery store", zap.Error(err))
	}
	if err := closeRegistry(); err != nil {
		log.Warn("Error closing sync job registry", zap.Error(err))
	}
	if err := dbInstrumentation.Stop(); err != nil {
		log.Warn("Error stopping database instrumentation", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Warn("Error stopping profiler", zap.Error(err))
	}
	for name, shutdown := range map[string]func(context.Context) error{
		"tracer": tp.Shutdown,
		"meter":  mp.Shutdown,
		"logger": lp.Shutdown,
	} {
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn("Error shutting down telemetry provider", zap.String("provider", name), zap.Error(err))
		}
	}

	log.Info("Server exited gracefully")
}

// schedulerConfig overlays configured values on the scheduler defaults
func schedulerConfig(c config.SchedulerConfig) scheduler.Config {
	out := scheduler.DefaultConfig()
	if c.SyncCheckSchedule != "" {
		out.SyncCheckSchedule = c.SyncCheckSchedule
	}
	if c.CleanupSchedule != "" {
		out.CleanupSchedule = c.CleanupSchedule
	}
	if c.HealthSchedule != "" {
		out.HealthSchedule = c.HealthSchedule
	}
	if c.FailureThreshold > 0 {
		out.FailureThreshold = c.FailureThreshold
	}
	if c.FailureWindow > 0 {
		out.FailureWindow = c.FailureWindow
	}
	if c.RunRetention > 0 {
		out.RunRetention = c.RunRetention
	}
	if c.MemoryWarnMB > 0 {
		out.MemoryWarnMB = c.MemoryWarnMB
	}
	return out
}
