// Package main implements the orgrag CLI. It runs the tenant, ingestion and
// retrieval operations in-process against the configured stores.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orgrag/internal/app"
	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/fyrsmithlabs/orgrag/internal/logging"
)

var (
	// configPath overrides the default config file location.
	configPath string

	// version information (set via ldflags during build)
	version   = "dev"
	gitCommit = "unknown"
)

// openApp builds the application for one command. Tests replace it.
var openApp = func(ctx context.Context) (*app.App, func() error, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return a, func() error {
		err := a.Close()
		_ = logger.Sync()
		return err
	}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orgrag",
	Short: "Multi-tenant document ingestion and question answering",
	Long: `orgrag provisions tenants, ingests documents and websites into a
per-tenant vector index, and answers questions from the indexed content.

Commands run in-process against the stores named in the config file.
Logs go to stderr; command output is JSON on stdout.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/orgrag/config.yaml)")
	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(blobCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "orgrag %s (commit %s)\n", version, gitCommit)
	},
}

// withApp opens the application, runs fn and closes it again.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, closeApp, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeApp(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: closing stores: %v\n", err)
		}
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newLogger builds a zap logger that writes to stderr.
func newLogger(s config.LoggingConfig) (*zap.Logger, error) {
	lcfg, err := logging.FromSettings(s)
	if err != nil {
		return nil, err
	}
	lcfg.Output = logging.OutputConfig{Stderr: true}
	l, err := logging.NewLogger(lcfg, nil)
	if err != nil {
		return nil, err
	}
	return l.Underlying(), nil
}
