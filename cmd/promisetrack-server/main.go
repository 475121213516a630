// Package main provides the standalone pipeline HTTP server.
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

	"github.com/civictrail/promisetrack/internal/config"
	"github.com/civictrail/promisetrack/internal/db"
	"github.com/civictrail/promisetrack/internal/linking"
	"github.com/civictrail/promisetrack/internal/llm"
	"github.com/civictrail/promisetrack/internal/metrics"
	"github.com/civictrail/promisetrack/internal/pipeline"
	"github.com/civictrail/promisetrack/internal/scoring"
	"github.com/civictrail/promisetrack/internal/server"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	slog.Info("starting promisetrack-server", "port", cfg.ServerPort)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	cancel()
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(context.Background()); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	if err := dbClient.InitSchema(context.Background()); err != nil {
		slog.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	if *wipeDB || os.Getenv("PROMISETRACK_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := dbClient.WipeData(ctx); err != nil {
			cancel()
			slog.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
		cancel()
	}

	pipeCfg, err := pipeline.LoadConfig(cfg.PipelineConfigPath)
	if err != nil {
		slog.Error("failed to load pipeline config", "error", err)
		os.Exit(1)
	}
	if cfg.MaxConcurrentJobs > 0 {
		pipeCfg.MaxConcurrentJobs = cfg.MaxConcurrentJobs
	}

	collector := metrics.NewCollector()

	registry := pipeline.NewRegistry()
	registry.Register(linking.JobName, func(opts map[string]any) (pipeline.Job, error) {
		embedder, err := llm.NewEmbedder(cfg)
		if err != nil {
			return nil, fmt.Errorf("init embedder: %w", err)
		}
		model, err := llm.NewModel(cfg)
		if err != nil {
			return nil, fmt.Errorf("init model: %w", err)
		}
		validator := linking.NewValidator(model, logger)
		return linking.NewLinker(dbClient, embedder, validator, collector, logger, opts), nil
	})
	registry.Register(scoring.JobName, func(opts map[string]any) (pipeline.Job, error) {
		return scoring.NewScorer(dbClient, logger, opts), nil
	})

	runner := pipeline.NewRunner(dbClient, logger)
	orchestrator, err := pipeline.NewOrchestrator(pipeCfg, registry, runner, logger)
	if err != nil {
		slog.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	srv := server.New(":"+cfg.ServerPort, orchestrator, collector, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	case <-quit:
	}

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
