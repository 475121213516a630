// Package cli provides the command-line interface for promisetrack.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/civictrail/promisetrack/internal/config"
	"github.com/civictrail/promisetrack/internal/db"
	"github.com/civictrail/promisetrack/internal/linking"
	"github.com/civictrail/promisetrack/internal/llm"
	"github.com/civictrail/promisetrack/internal/metrics"
	"github.com/civictrail/promisetrack/internal/pipeline"
	"github.com/civictrail/promisetrack/internal/scoring"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config, logger and db client
	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
	dbClient *db.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "promisetrack",
	Short: "Government promise tracking pipeline",
	Long: `Promisetrack links evidence of government action (bills, gazette notices,
orders in council, news) to election promises using embedding similarity
with LLM validation, and scores promise fulfillment from the linked
evidence.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)

		ctx := context.Background()
		dbCfg := db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}

		var err error
		dbClient, err = db.NewClient(ctx, dbCfg, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		if err := dbClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// buildOrchestrator wires the registry, runner and orchestrator from the
// pipeline configuration file. LLM components are constructed lazily inside
// the linker factory so jobs that never touch the LLM (scoring) run without
// provider credentials.
func buildOrchestrator(collector *metrics.Collector) (*pipeline.Orchestrator, error) {
	pipeCfg, err := pipeline.LoadConfig(cfg.PipelineConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load pipeline config: %w", err)
	}
	if cfg.MaxConcurrentJobs > 0 {
		pipeCfg.MaxConcurrentJobs = cfg.MaxConcurrentJobs
	}

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
	return pipeline.NewOrchestrator(pipeCfg, registry, runner, logger)
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
