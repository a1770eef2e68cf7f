package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/wareline/branchstore/internal/config"
	"github.com/wareline/branchstore/internal/metrics"
	"github.com/wareline/branchstore/internal/notify"
	"github.com/wareline/branchstore/internal/service"
	"github.com/wareline/branchstore/internal/sink"
	"github.com/wareline/branchstore/internal/validation"
)

func main() {
	// Load configuration first so the logger can honor its settings
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("server_id", cfg.Server.ServerID),
		zap.String("branches_dir", cfg.Storage.BranchesDir),
		zap.Bool("archiver_enabled", cfg.Archiver.Enabled))

	for _, dir := range []string{cfg.Storage.BranchesDir, cfg.Storage.SchemasDir, cfg.Storage.SeedsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatal("Failed to create data directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	m, registry := metrics.NewMetrics(cfg.Server.ServerID)

	layout := service.Layout{
		BranchesDir: cfg.Storage.BranchesDir,
		SchemasDir:  cfg.Storage.SchemasDir,
		SeedsDir:    cfg.Storage.SeedsDir,
	}

	schemaSvc := service.NewSchemaService(layout, cfg.Modules.Modules, logger)
	seedSvc := service.NewSeedService(layout, logger)
	lifecycle := service.NewLifecycleManager(layout, schemaSvc, seedSvc, cfg.TenantModules, m, logger)
	sequences := service.NewSequenceAllocator(layout, cfg.Sequence.RulesPath, m, logger)
	journal := service.NewJournalService(layout, cfg.Journal.SyncWrites, m, logger)
	defer journal.Close()
	validator := validation.NewValidator(cfg.Pipeline.LockedTables)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := notify.NewBroadcaster(cfg.Notifier.BufferSize, logger)
	notifiers := notify.MultiNotifier{broadcaster}
	if cfg.Notifier.RedisAddr != "" {
		redisNotifier := notify.NewRedisNotifier(
			cfg.Notifier.RedisAddr,
			cfg.Notifier.RedisPassword,
			cfg.Notifier.RedisDB,
			cfg.Notifier.ChannelPrefix,
			logger,
		)
		defer redisNotifier.Close()
		notifiers = append(notifiers, redisNotifier)
		logger.Info("Redis notifier enabled", zap.String("addr", cfg.Notifier.RedisAddr))
	}

	pipeline := service.NewPipelineService(lifecycle, sequences, journal, validator, notifiers, m, logger)

	// Audit trail of applied mutations, fed by the in-process broadcaster.
	notices, cancelNotices := broadcaster.Subscribe()
	defer cancelNotices()
	go func() {
		for notice := range notices {
			logger.Info("Mutation applied",
				zap.String("tenant_id", notice.TenantID),
				zap.String("module_id", notice.ModuleID),
				zap.String("table", notice.Table),
				zap.String("action", notice.Action),
				zap.Int64("version", notice.Version))
		}
	}()

	// Warm stores that already exist on disk so the first mutation after a
	// restart doesn't pay the hydration cost.
	lifecycle.HydrateFromDisk(ctx)

	var archive *service.ArchiveService
	if cfg.Archiver.Enabled {
		pgSink, err := sink.NewPostgresSink(ctx, cfg.Archiver.PostgresURL, logger)
		if err != nil {
			logger.Fatal("Failed to connect archival sink", zap.Error(err))
		}
		defer pgSink.Close()
		if err := pgSink.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to prepare archival schema", zap.Error(err))
		}
		archive = service.NewArchiveService(
			lifecycle, journal, pgSink,
			cfg.Archiver.Workers, cfg.Archiver.QueueSize, cfg.Archiver.Interval,
			m, logger,
		)
		archive.Start(ctx)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, logger)
		metricsServer.Start()
	}

	logger.Info("Branch store daemon started", zap.String("server_id", cfg.Server.ServerID))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := pipeline.Quiesce(shutdownCtx); err != nil {
		logger.Warn("Pipeline quiesce", zap.Error(err))
	}
	if archive != nil {
		archive.Stop(cfg.Server.ShutdownTimeout)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown", zap.Error(err))
		}
	}
	logger.Info("Branch store daemon stopped")
}

// initLogger builds the zap logger per the logging config
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err == nil {
		zapConfig.Level = level
	}
	return zapConfig.Build()
}
