package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/admissions-engine/internal/agents"
	"github.com/jonathan/admissions-engine/internal/config"
	"github.com/jonathan/admissions-engine/internal/db"
	"github.com/jonathan/admissions-engine/internal/llm"
	"github.com/jonathan/admissions-engine/internal/pairwise"
	"github.com/jonathan/admissions-engine/internal/pipeline"
)

// commonFlags are shared by every subcommand that touches the engine.
type commonFlags struct {
	configPath  string
	databaseURL string
	apiKey      string
	logFile     string
	verbose     bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	cmd.Flags().StringVar(&f.databaseURL, "db-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL env var)")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "Gemini API key (defaults to GEMINI_API_KEY env var)")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "Append JSON logs to this file in addition to stderr")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Print detailed debug information")
}

// resolve merges the config file, environment and explicit flags, in
// ascending priority.
func (f *commonFlags) resolve(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return cfg, err
		}
		cfg = *loaded
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = f.databaseURL
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey = f.apiKey
	}
	if cmd.Flags().Changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = f.verbose
	}

	cfg = cfg.ApplyDefaults()
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("database URL is required (set DATABASE_URL or --db-url)")
	}
	return cfg, nil
}

// engine bundles the wired-up components behind the CLI commands.
type engine struct {
	cfg          config.Config
	logger       *slog.Logger
	db           *db.DB
	llm          llm.Client
	convLog      *db.ConversationLog
	orchestrator *pipeline.Orchestrator

	closeLog func() error
}

// buildEngine connects the database and, when an API key is present, the LLM
// client and orchestrator. Commands that evaluate applicants need the key;
// read-only commands do not.
func buildEngine(ctx context.Context, cfg config.Config, needLLM bool) (*engine, error) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger, closeLog := config.SetupLogger(cfg.LogFile, level)

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		_ = closeLog()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	e := &engine{cfg: cfg, logger: logger, db: database, closeLog: closeLog}
	e.convLog = db.NewConversationLog(database, logger)

	if !needLLM {
		return e, nil
	}
	if cfg.APIKey == "" {
		e.Close()
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or --api-key)")
	}

	client, err := llm.NewClient(ctx, nil, cfg.APIKey)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	e.llm = client

	gatewayOpts := agents.DefaultOptions()
	if cfg.MaxAttempts > 0 {
		gatewayOpts.MaxAttempts = cfg.MaxAttempts
	}
	gateway := agents.NewGateway(
		agents.NewLLMEvaluator(client),
		e.convLog,
		logger,
		gatewayOpts,
	)

	e.orchestrator = pipeline.NewOrchestrator(database, gateway, logger, pipeline.Options{
		Concurrency: cfg.Concurrency,
		TieEpsilon:  cfg.TieEpsilon,
		Pairwise: pairwise.Options{
			MaxPasses: cfg.PairwisePassLimit,
			Epsilon:   cfg.PairwiseEpsilon,
		},
	})
	return e, nil
}

func (e *engine) Close() {
	if e.llm != nil {
		_ = e.llm.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
	if e.closeLog != nil {
		_ = e.closeLog()
	}
}
