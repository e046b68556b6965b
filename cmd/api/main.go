// Package main is the entry point for the audit trail API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/clinichain/clinichain/internal/api"
	"github.com/clinichain/clinichain/internal/archive"
	"github.com/clinichain/clinichain/internal/audit"
	"github.com/clinichain/clinichain/internal/auth"
	"github.com/clinichain/clinichain/internal/config"
	"github.com/clinichain/clinichain/internal/db"
	"github.com/clinichain/clinichain/internal/health"
	"github.com/clinichain/clinichain/internal/middleware"
	"github.com/clinichain/clinichain/internal/runs"
	"github.com/clinichain/clinichain/internal/scheduler"
	"github.com/clinichain/clinichain/internal/secrets"
	"github.com/clinichain/clinichain/internal/tracing"
	"github.com/clinichain/clinichain/internal/verify"
)

const serviceName = "clinichain-api"

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Clinichain audit trail API server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing is optional; without an OTLP endpoint spans are never exported.
	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.OTLPEndpoint != "",
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: 1.0,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	// Redis fans out secret-cache invalidations across replicas. Without
	// it the caching layer still works, bounded by its TTL.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	secretStore := secrets.NewCachingStore(secrets.NewPostgresStore(database, logger), rdb, logger)
	secretStore.Start(ctx)

	entryRepo := audit.NewPostgresEntryRepository(database, logger)
	cursorRepo := verify.NewPostgresCursorRepository(database, logger)
	runRepo := runs.NewPostgresRepository(database, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	httpMetrics := middleware.NewMetrics()
	auditMetrics := audit.NewMetrics()
	verifyMetrics := verify.NewMetrics()
	for _, register := range []func(prometheus.Registerer) error{
		httpMetrics.Register, auditMetrics.Register, verifyMetrics.Register,
	} {
		if err := register(registry); err != nil {
			logger.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
	}

	writer, err := audit.NewWriter(entryRepo, secretStore, logger)
	if err != nil {
		logger.Error("failed to create audit writer", "error", err)
		os.Exit(1)
	}
	writer.MaxRetries = cfg.AppendMaxRetries
	writer.Metrics = auditMetrics

	verifier, err := verify.NewVerifier(entryRepo, cursorRepo, secretStore, logger)
	if err != nil {
		logger.Error("failed to create verifier", "error", err)
		os.Exit(1)
	}
	verifier.Concurrency = cfg.VerifyConcurrency
	verifier.BatchSize = cfg.VerifyBatchSize

	broadcaster := runs.NewBroadcaster()

	sched, err := scheduler.New(verifier, runRepo, logger)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}
	sched.IncrementalSpec = cfg.IncrementalCron
	sched.FullSpec = cfg.FullCron
	sched.Broadcaster = broadcaster
	sched.Metrics = verifyMetrics

	if cfg.ArchiveEnabled() {
		archiver, err := archive.New(archive.Config{
			BucketName:      cfg.ArchiveBucketName,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
			Endpoint:        cfg.ArchiveEndpoint,
		}, logger)
		if err != nil {
			logger.Error("failed to create report archiver", "error", err)
			os.Exit(1)
		}
		sched.Archiver = archiver
	}

	if err := sched.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)

	healthCfg := api.HealthHandlersConfig{DBChecker: health.NewDBChecker(database)}
	if rdb != nil {
		healthCfg.RedisChecker = health.NewRedisChecker(rdb)
	}

	handler := api.NewRouter(api.RouterConfig{
		Entries:     api.NewEntryHandlers(writer, entryRepo),
		Verify:      api.NewVerifyHandlers(sched),
		Runs:        api.NewRunHandlers(runRepo),
		Admin:       api.NewAdminHandlers(secretStore),
		WS:          api.NewWSHandlers(broadcaster, nil),
		Health:      api.NewHealthHandlers(healthCfg),
		JWTService:  jwtService,
		Registry:    registry,
		Logger:      logger,
		HTTPMetrics: httpMetrics,
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		},
		ServiceName: serviceName,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", "error", err)
	}

	logger.Info("server stopped")
}
