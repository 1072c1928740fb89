// Orgragd serves the orgrag operations over HTTP.
//
// Configuration is read from ~/.config/orgrag/config.yaml (or the file given
// with -config) and overridden by ORGRAG_* environment variables.
//
// Usage:
//
//	# Start the daemon with defaults
//	orgragd
//
//	# Use a system-wide config and a different port
//	ORGRAG_SERVER_PORT=9292 orgragd -config /etc/orgrag/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orgrag/internal/app"
	"github.com/fyrsmithlabs/orgrag/internal/config"
	orghttp "github.com/fyrsmithlabs/orgrag/internal/http"
	"github.com/fyrsmithlabs/orgrag/internal/logging"
	"github.com/fyrsmithlabs/orgrag/internal/telemetry"
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
			fmt.Fprintf(os.Stderr, "  orgragd [-config path]   Start the orgrag daemon\n")
			fmt.Fprintf(os.Stderr, "  orgragd version          Show version information\n")
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

func printVersion() {
	fmt.Printf("orgragd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run loads configuration, wires the application and serves HTTP until
// ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting orgragd",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("vector_index", cfg.VectorIndex.Provider),
		zap.String("blob_store", cfg.BlobStore.Provider),
		zap.String("records", cfg.Records.Driver),
		zap.Bool("telemetry", tel.IsEnabled()),
	)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("closing application", zap.Error(err))
		}
	}()

	srv, err := orghttp.NewServer(application, logger.Named("http"), &orghttp.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"),
	)

	return srv.Start(ctx, cfg.Server.ShutdownTimeout.Duration())
}

func newLogger(s config.LoggingConfig) (*zap.Logger, error) {
	lcfg, err := logging.FromSettings(s)
	if err != nil {
		return nil, err
	}
	l, err := logging.NewLogger(lcfg, nil)
	if err != nil {
		return nil, err
	}
	return l.Underlying(), nil
}
