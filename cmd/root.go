// Package cmd defines the CLI commands for the batchsearch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchsearch/internal/clock/system"
	"github.com/JakeFAU/batchsearch/internal/config"
	"github.com/JakeFAU/batchsearch/internal/id/uuid"
	"github.com/JakeFAU/batchsearch/internal/logging"
	"github.com/JakeFAU/batchsearch/internal/logsink"
	"github.com/JakeFAU/batchsearch/internal/supervisor"
)

// appKeyType is the key for storing the App in the context.
type appKeyType struct{}

// App holds the services shared by every subcommand.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	RunID    string
	Clock    *system.Clock
	RunStart time.Time
}

// Close flushes the logger.
func (a *App) Close() {
	_ = a.Logger.Sync()
}

// SinkConfig returns the log sink settings.
func (a *App) SinkConfig() logsink.Config {
	return logsink.Config{
		Dir:             a.Config.Search.LogDir,
		PreviewInterval: a.Config.Search.PreviewInterval,
		PreviewLines:    a.Config.Search.PreviewLines,
	}
}

// SupervisorConfig returns the search supervisor settings.
func (a *App) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		Executable:       a.Config.Search.Executable,
		UpdateRetryDelay: a.Config.Store.UpdateRetryDelay,
		ProcessTimeout:   a.Config.Search.ProcessTimeout,
		RedactedTarget:   a.Config.Search.RedactedTarget,
	}
}

// flagBindings maps CLI flags to config keys. Flags a command does not define are skipped.
var flagBindings = map[string]string{
	"executable":      "search.executable",
	"log-dir":         "search.log_dir",
	"redacted-target": "search.redacted_target",
	"process-timeout": "search.process_timeout",
	"development":     "logging.development",
	"driver":          "store.driver",
	"dsn":             "store.dsn",
	"table":           "store.table",
	"poll-interval":   "driver.poll_interval",
	"claim-pause":     "search.claim_pause",
	"server":          "server.enabled",
	"port":            "server.port",
}

// newApp builds the shared services. It is a variable so tests can replace it.
var newApp = func(cmd *cobra.Command, cfgPath string) (*App, error) {
	opts := make([]config.Option, 0, len(flagBindings))
	for flag, key := range flagBindings {
		opts = append(opts, config.WithFlag(key, cmd.Flags().Lookup(flag)))
	}
	cfg, err := config.Load(cfgPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	runID := uuid.New().MustNewID()
	clock := system.New()
	return &App{
		Config:   cfg,
		Logger:   logging.ForRun(logger, runID),
		RunID:    runID,
		Clock:    clock,
		RunStart: clock.Local(),
	}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "batchsearch",
		Short: "Runs an external range-search executable across devices, batch by batch.",
		Long: `batchsearch coordinates a range-search executable over a table of numbered batches.
One worker per device claims the next batch id, skips batches that are already done or
in progress, runs the executable over the batch's sub-range, and records the outcome.
A confirmed find stops every device.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd, cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKeyType{}).(*App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json, or toml)")
	flags.String("executable", "", "search executable path (default ./log)")
	flags.String("log-dir", "", "directory for per-device logs (default xiebo_logs)")
	flags.String("redacted-target", "", "decoy target whose finds are never persisted or announced")
	flags.Duration("process-timeout", 0, "kill a search process after this long (0 waits forever)")
	flags.Bool("development", true, "human-readable console logs")

	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newSingleCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*App, error) {
	appInstance, ok := ctx.Value(appKeyType{}).(*App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
