package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	syncapp "github.com/erp/bcsync/internal/application/customersync"
	"github.com/erp/bcsync/internal/domain/customersync"
	"github.com/erp/bcsync/internal/infrastructure/businesscentral"
	"github.com/erp/bcsync/internal/infrastructure/cache"
	"github.com/erp/bcsync/internal/infrastructure/config"
	"github.com/erp/bcsync/internal/infrastructure/i95dev"
	"github.com/erp/bcsync/internal/infrastructure/logger"
	"github.com/erp/bcsync/internal/infrastructure/migration"
	"github.com/erp/bcsync/internal/infrastructure/persistence"
	"github.com/erp/bcsync/internal/infrastructure/scheduler"
	"github.com/erp/bcsync/internal/infrastructure/storage"
	"github.com/erp/bcsync/internal/infrastructure/telemetry"
	"github.com/erp/bcsync/internal/interfaces/http/handler"
	"github.com/erp/bcsync/internal/interfaces/http/middleware"
	"github.com/erp/bcsync/internal/interfaces/http/router"
	"github.com/erp/bcsync/migrations"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.DefaultTimeFormat,
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Telemetry: traces, metrics, logs, profiles
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
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log = telemetry.BridgeLogger(log, lp, cfg.Telemetry.ServiceName, logger.ParseLevel(logCfg.Level))
	defer func() {
		_ = logger.Sync(log)
	}()

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.PyroscopeAddress,
		ApplicationName: cfg.Telemetry.ServiceName,
		Tags:            map[string]string{"env": cfg.App.Env},
	}, log)
	if err != nil {
		log.Warn("Failed to start profiler", zap.Error(err))
	}
	if profiler != nil && profiler.IsEnabled() && tp.IsEnabled() {
		if err := tp.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to link spans to profiles", zap.Error(err))
		}
	}

	log.Info("Starting bcsync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.Bool("ledger", cfg.Sync.LedgerEnabled),
		zap.Bool("archive", cfg.Sync.ArchiveEnabled),
	)

	checks := map[string]handler.HealthChecker{}

	// Ledger database
	var db *persistence.Database
	var ledger customersync.SyncRecordRepository
	if cfg.Sync.LedgerEnabled {
		db = openDatabase(ctx, cfg, log, mp)
		ledger = persistence.NewGormSyncRecordRepository(db.DB)
		checks["database"] = db.PingContext
	}

	// Run guard
	guardFactory := cache.NewRunGuardFactory(cfg.Redis, cache.WithLogger(log))
	guard, closeGuard, err := guardFactory.CreateGuard(ctx)
	if err != nil {
		log.Fatal("Failed to create run guard", zap.Error(err))
	}
	if pinger, ok := guard.(interface{ Ping(context.Context) error }); ok {
		checks["redis"] = pinger.Ping
	}

	// Result archive
	var archive customersync.ResultArchive = storage.NoopResultArchive{}
	if cfg.Sync.ArchiveEnabled {
		s3Archive, err := storage.NewS3ResultArchive(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to initialize result archive", zap.Error(err))
		}
		if err := s3Archive.EnsureBucket(ctx); err != nil {
			log.Fatal("Failed to prepare result archive bucket", zap.Error(err))
		}
		archive = s3Archive
	}

	// Systems
	httpClient := &http.Client{Timeout: cfg.Sync.HTTPTimeout}
	source := i95dev.NewClient(
		i95dev.WithHTTPClient(httpClient),
		i95dev.WithLogger(log.Named("i95dev")),
	)
	target := businesscentral.NewClient(businesscentral.Config{
		LoginBaseURL: cfg.Target.LoginBaseURL,
		APIBaseURL:   cfg.Target.APIBaseURL,
	},
		businesscentral.WithHTTPClient(httpClient),
		businesscentral.WithLogger(log.Named("businesscentral")),
	)

	serviceOpts := []syncapp.ServiceOption{
		syncapp.WithRunGuard(guard),
		syncapp.WithArchive(archive),
		syncapp.WithLogger(log),
	}
	if ledger != nil {
		serviceOpts = append(serviceOpts, syncapp.WithLedger(ledger))
	}
	if mp.IsEnabled() {
		syncMetrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
			Meter:  mp.Meter("bcsync/customersync"),
			Logger: log,
		})
		if err != nil {
			log.Warn("Failed to initialize sync metrics", zap.Error(err))
		} else {
			serviceOpts = append(serviceOpts, syncapp.WithMetrics(syncMetrics))
		}
	}

	pipeline := syncapp.NewPipeline(target, log)
	syncService := syncapp.NewService(source, pipeline, config.NewCredentialProvider(cfg), syncapp.ServiceConfig{
		PacketSize:     cfg.Sync.PacketSize,
		DataType:       cfg.Sync.DataType,
		ContinueOnFail: cfg.Sync.ContinueOnFail,
		RunLockTTL:     cfg.Sync.RunLockTTL,
	}, serviceOpts...)

	// Scheduled runs
	var trigger *scheduler.CustomerSyncTrigger
	if cfg.Sync.ScheduleInterval > 0 {
		trigger, err = scheduler.NewCustomerSyncTrigger(scheduler.SyncTriggerConfig{
			Interval: cfg.Sync.ScheduleInterval,
			Items:    cfg.Sync.ScheduleItems,
		}, syncService, log.Named("scheduler"))
		if err != nil {
			log.Fatal("Failed to create sync trigger", zap.Error(err))
		}
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start sync trigger", zap.Error(err))
		}
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	middleware.SetupValidator()

	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware order:
	// 1. RequestID 2. Recovery 3. Tracing 4. Metrics 5. Logger
	// 6. Profiling 7. Security 8. BodyLimit
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     tp.IsEnabled(),
	}))
	engine.Use(middleware.SpanEnricher())
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: mp,
		Enabled:       mp.IsEnabled(),
	}))
	engine.Use(logger.GinMiddleware(log, "/health"))
	engine.Use(middleware.Profiling(cfg.Telemetry.ProfilingEnabled, "/health"))
	engine.Use(middleware.Secure())
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	systemHandler := handler.NewSystemHandler(cfg.App.Name, version, checks)
	engine.GET("/health", systemHandler.Health)

	var runMiddleware []gin.HandlerFunc
	if cfg.HTTP.RunRateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.HTTP.RunRateLimit, cfg.HTTP.RunRateWindow)
		go limiter.Run(ctx)
		runMiddleware = append(runMiddleware, middleware.RateLimit(limiter))
	}

	customerSyncHandler := handler.NewCustomerSyncHandler(syncService)

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(systemHandler.Routes()).
		Register(customerSyncHandler.Routes(runMiddleware...))
	for _, route := range r.Setup() {
		log.Debug("Route mounted", zap.String("method", route.Method), zap.String("path", route.Path))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if trigger != nil {
		if err := trigger.Stop(shutdownCtx); err != nil {
			log.Warn("Sync trigger did not stop cleanly", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	stop()

	if err := closeGuard(); err != nil {
		log.Warn("Failed to close run guard", zap.Error(err))
	}
	if db != nil {
		if err := db.Close(); err != nil {
			log.Warn("Failed to close database", zap.Error(err))
		}
	}
	if profiler != nil {
		if err := profiler.Stop(); err != nil {
			log.Warn("Failed to stop profiler", zap.Error(err))
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shut down tracer provider", zap.Error(err))
	}
	if err := mp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shut down meter provider", zap.Error(err))
	}
	if err := lp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shut down logger provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// openDatabase connects to the ledger database, applies migrations when
// configured and attaches tracing and metrics plugins.
func openDatabase(ctx context.Context, cfg *config.Config, log *zap.Logger, mp *telemetry.MeterProvider) *persistence.Database {
	gormLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLevel, logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))

	db, err := persistence.Open(ctx, &cfg.Database, persistence.WithLogger(gormLog))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.DBName),
	)

	if cfg.Database.AutoMigrate {
		m, err := migration.New(db.SQL(), migration.EmbeddedSource(migrations.FS), log)
		if err != nil {
			log.Fatal("Failed to initialize migrator", zap.Error(err))
		}
		if err := m.Up(); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	if cfg.Telemetry.DBTraceEnabled {
		if err := telemetry.InstrumentDBTracing(db.DB, telemetry.DBTracingConfig{
			DBName:             cfg.Database.DBName,
			LogFullSQL:         cfg.Telemetry.DBLogFullSQL,
			SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
		}); err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		}
	}

	if mp.IsEnabled() {
		if err := registerDBMetrics(ctx, db, mp, cfg.Telemetry.DBSlowQueryThresh, log); err != nil {
			log.Warn("Failed to register database metrics", zap.Error(err))
		}
	}

	return db
}

func registerDBMetrics(ctx context.Context, db *persistence.Database, mp *telemetry.MeterProvider, slow time.Duration, log *zap.Logger) error {
	dbMetrics, err := telemetry.NewDBMetrics(mp.Meter("bcsync/db"), telemetry.DBMetricsConfig{SlowQueryThreshold: slow}, log)
	if err != nil {
		return err
	}
	if err := dbMetrics.Register(db.DB); err != nil {
		return err
	}
	dbMetrics.StartPoolStatsCollection(ctx, db.SQL())
	return nil
}
