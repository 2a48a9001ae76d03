package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/askdb-ai/askdb/internal/agent"
	"github.com/askdb-ai/askdb/internal/config"
	"github.com/askdb-ai/askdb/internal/database"
	"github.com/askdb-ai/askdb/internal/mcp"
	"github.com/askdb-ai/askdb/internal/pipeline"
	"github.com/askdb-ai/askdb/internal/pricing"
	"github.com/askdb-ai/askdb/internal/ratelimit"
	"github.com/askdb-ai/askdb/internal/server"
	"github.com/askdb-ai/askdb/internal/telemetry"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("ASKDB_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// Log to stderr: the stdio transport owns stdout.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("askdb starting", "version", version, "transport", cfg.Transport)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to the target database.
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	logger.Info("database connected", "driver", cfg.DBDriver, "dialect", db.Dialect())

	// Create the SQL agent.
	agentOpts := []agent.Option{
		agent.WithTemperature(cfg.OpenAITemperature),
		agent.WithMaxTurns(cfg.AgentMaxTurns),
		agent.WithDefaultRowLimit(cfg.RowLimit),
	}
	if cfg.OpenAIBaseURL != "" {
		agentOpts = append(agentOpts, agent.WithBaseURL(cfg.OpenAIBaseURL))
	}
	sqlAgent, err := agent.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, db, logger, agentOpts...)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	// Create rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter()
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (per-key fixed window)",
			"requests_per_minute", cfg.RateLimitPerMinute)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// Create the invocation pipeline.
	pipe := pipeline.New(pipeline.Config{
		Agent:          sqlAgent,
		Limiter:        limiter,
		Prices:         pricing.DefaultTable(),
		Model:          cfg.OpenAIModel,
		Version:        version,
		DefaultCeiling: cfg.RateLimitPerMinute,
		Logger:         logger,
	})

	// Create MCP server.
	mcpSrv := mcp.New(pipe, db, logger, version)

	if cfg.Transport == "stdio" {
		logger.Info("serving MCP over stdio")
		if err := mcpserver.ServeStdio(mcpSrv.MCPServer(), mcpserver.WithStdioContextFunc(
			func(context.Context) context.Context { return ctx },
		)); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio server: %w", err)
		}
		return nil
	}

	// HTTP transport: MCP mounted at /mcp plus a health endpoint.
	srv := server.New(server.ServerConfig{
		DB:           db,
		MCPServer:    mcpSrv.MCPServer(),
		Logger:       logger,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	slog.Info("askdb stopped")
	return nil
}

// openDatabase connects the configured backend.
func openDatabase(ctx context.Context, cfg config.Config) (database.Querier, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return database.NewSQLite(ctx, cfg.SQLitePath)
	default:
		return database.NewPostgres(ctx, cfg.DatabaseURL)
	}
}
