package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/docflow/internal/adapters/mcp"
	"github.com/kirillkom/docflow/internal/bootstrap"
	"github.com/kirillkom/docflow/internal/config"
	"github.com/kirillkom/docflow/internal/observability/logging"
)

const (
	serviceName = "mcp"
	version     = "1.0.0"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	// stdout carries the protocol, so logs go to stderr.
	logger := logging.New(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.MCPActorID == "" {
		logger.Error("mcp_actor_missing", "env", "MCP_ACTOR_ID")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: serviceName})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	tools := mcpadapter.NewTools(mcpadapter.Services{
		Workflow:  app.Workflow,
		Documents: app.Documents,
		Audit:     app.Audit,
	}, cfg.MCPActorID)

	if err := server.ServeStdio(mcpadapter.NewServer(tools, version)); err != nil {
		logger.Error("mcp_server_failed", "error", err)
	}
}
