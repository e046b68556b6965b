// Package main is the entry point for the verification worker. In
// one-shot mode it runs a single verification pass and exits 0 when
// every chain is intact, 1 when a break was found, and 2 on an
// operational failure. In daemon mode it runs the cron cadences.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinichain/clinichain/internal/archive"
	"github.com/clinichain/clinichain/internal/audit"
	"github.com/clinichain/clinichain/internal/config"
	"github.com/clinichain/clinichain/internal/db"
	"github.com/clinichain/clinichain/internal/middleware"
	"github.com/clinichain/clinichain/internal/runs"
	"github.com/clinichain/clinichain/internal/scheduler"
	"github.com/clinichain/clinichain/internal/secrets"
	"github.com/clinichain/clinichain/internal/verify"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	mode := flag.String("mode", runs.ModeFull, "verification mode: full or incremental")
	chainID := flag.String("chain", "", "verify a single chain instead of all chains")
	daemon := flag.Bool("daemon", false, "run on the configured cron cadences instead of once")
	timeout := flag.Duration("timeout", scheduler.DefaultRunTimeout, "one-shot run timeout")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Clinichain verification worker")
		fmt.Println()
		fmt.Println("Usage: verifier [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *mode != runs.ModeFull && *mode != runs.ModeIncremental {
		fmt.Fprintf(os.Stderr, "invalid mode %q: must be full or incremental\n", *mode)
		os.Exit(2)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(2)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(2)
	}
	defer database.Close()

	secretStore := secrets.NewPostgresStore(database, logger)
	entryRepo := audit.NewPostgresEntryRepository(database, logger)
	cursorRepo := verify.NewPostgresCursorRepository(database, logger)
	runRepo := runs.NewPostgresRepository(database, logger)

	verifier, err := verify.NewVerifier(entryRepo, cursorRepo, secretStore, logger)
	if err != nil {
		logger.Error("failed to create verifier", "error", err)
		os.Exit(2)
	}
	verifier.Concurrency = cfg.VerifyConcurrency
	verifier.BatchSize = cfg.VerifyBatchSize

	sched, err := scheduler.New(verifier, runRepo, logger)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(2)
	}
	sched.IncrementalSpec = cfg.IncrementalCron
	sched.FullSpec = cfg.FullCron

	if cfg.ArchiveEnabled() {
		archiver, err := archive.New(archive.Config{
			BucketName:      cfg.ArchiveBucketName,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
			Endpoint:        cfg.ArchiveEndpoint,
		}, logger)
		if err != nil {
			logger.Error("failed to create report archiver", "error", err)
			os.Exit(2)
		}
		sched.Archiver = archiver
	}

	if *daemon {
		runDaemon(sched, logger)
		return
	}

	runCtx, runCancel := context.WithTimeout(ctx, *timeout)
	defer runCancel()

	run := sched.Execute(runCtx, *mode, *chainID)
	os.Exit(run.ExitCode())
}

func runDaemon(sched *scheduler.Scheduler, logger *slog.Logger) {
	if err := sched.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(2)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down verification worker...")
	sched.Stop()

	// Give an in-flight run a moment to record its outcome.
	time.Sleep(time.Second)
	logger.Info("verification worker stopped")
}
