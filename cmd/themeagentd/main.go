// Themeagentd is the themeagent HTTP server.
//
// It edits the theme at workspace.root on behalf of API clients: runs are
// started with POST /api/v1/runs and observed over Server-Sent Events.
//
// Configuration is loaded from ~/.config/themeagent/config.yaml (or --config)
// and THEMEAGENT_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	themeagentd
//
//	# Configure via environment
//	THEMEAGENT_SERVER_HTTP_PORT=9090 THEMEAGENT_WORKSPACE_ROOT=./theme themeagentd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/themeagent/internal/app"
	"github.com/fyrsmithlabs/themeagent/internal/config"
	"github.com/fyrsmithlabs/themeagent/internal/http"
	"github.com/fyrsmithlabs/themeagent/internal/logging"
	"github.com/fyrsmithlabs/themeagent/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  themeagentd           Start the themeagent server\n")
			fmt.Fprintf(os.Stderr, "  themeagentd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("themeagentd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the server and blocks until ctx is cancelled.
//
// This function:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Wires the services (store, scout, coordinator, archive, NATS)
//  4. Starts the HTTP server
//  5. Drains active runs and shuts down on cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := initLogger(logCfg, cfg.Observability.EnableTelemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting themeagentd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("workspace", cfg.Workspace.Root),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	a, err := app.New(ctx, app.Options{Config: cfg, Logger: logger, Telemetry: tel})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	go func() {
		if err := a.Watch(ctx); err != nil {
			logger.Warn(ctx, "workspace watch stopped", zap.Error(err))
		}
	}()

	srv, err := http.NewServer(a.Registry(), logger, &http.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	// Cancel active runs first so their event streams end and the HTTP
	// server can drain.
	if rerr := a.Runs.Shutdown(shutdownCtx); rerr != nil {
		logger.Warn(shutdownCtx, "runs did not finish before shutdown", zap.Error(rerr))
	}
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn(shutdownCtx, "http shutdown incomplete", zap.Error(serr))
	}
	if cerr := a.Close(shutdownCtx); cerr != nil {
		logger.Warn(shutdownCtx, "services shutdown incomplete", zap.Error(cerr))
	}
	if terr := tel.Shutdown(shutdownCtx); terr != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown incomplete", zap.Error(terr))
	}
	return err
}

// initLogger builds the logger, also exporting records through OpenTelemetry
// when telemetry is enabled.
func initLogger(cfg *logging.Config, exportLogs bool) (*logging.Logger, error) {
	if exportLogs {
		cfg.Output.OTEL = true
		return logging.NewLogger(cfg, global.GetLoggerProvider())
	}
	return logging.NewLogger(cfg, nil)
}
