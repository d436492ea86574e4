package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchsearch/internal/api"
	"github.com/JakeFAU/batchsearch/internal/batch"
	"github.com/JakeFAU/batchsearch/internal/config"
	"github.com/JakeFAU/batchsearch/internal/dispatcher"
	"github.com/JakeFAU/batchsearch/internal/logging"
	"github.com/JakeFAU/batchsearch/internal/logsink"
	"github.com/JakeFAU/batchsearch/internal/result"
	"github.com/JakeFAU/batchsearch/internal/runner"
	"github.com/JakeFAU/batchsearch/internal/sequencer"
	"github.com/JakeFAU/batchsearch/internal/stopflag"
	"github.com/JakeFAU/batchsearch/internal/storage/memory"
	"github.com/JakeFAU/batchsearch/internal/storage/postgres"
	"github.com/JakeFAU/batchsearch/internal/supervisor"
	"github.com/JakeFAU/batchsearch/internal/worker"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <device-ids> <start-batch-id> <target>",
		Short: "Runs one worker per device over the job table",
		Long: `Starts one worker per comma-separated device id. Workers share a batch cursor
seeded at start-batch-id and stop when the table has no row for the next id,
when a find is confirmed on any device, or on interrupt.`,
		Example: "  batchsearch batch 0,1,2 1 1PWo3JeB9jrGwfHDNpdGK54CRas7fsVzXU",
		Args:    cobra.ExactArgs(3),
		RunE:    runBatchCommand,
	}
	flags := cmd.Flags()
	flags.String("driver", "", "job store driver: postgres or memory")
	flags.String("dsn", "", "postgres connection string")
	flags.String("table", "", "job table name (default batches)")
	flags.Duration("poll-interval", 0, "how often the driver checks the stop flag (default 2s)")
	flags.Duration("claim-pause", 0, "pause after each run batch (default 500ms)")
	flags.Bool("server", false, "serve /healthz, /metrics, and /v1/status")
	flags.Int("port", 0, "status server port (default 9090)")
	return cmd
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	devices, err := parseDevices(args[0])
	if err != nil {
		return err
	}
	startID, err := strconv.ParseInt(strings.TrimSpace(args[1]), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid start batch id %q: %w", args[1], err)
	}
	target := strings.TrimSpace(args[2])
	if target == "" {
		return errors.New("target is required")
	}

	ctx := cmd.Context()
	cfg := app.Config
	logger := app.Logger

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	stop := stopflag.New()
	seq := sequencer.New(startID)
	sup := supervisor.New(app.SupervisorConfig(), store, runner.New(), stop, logger.Named("supervisor"))

	workers := make([]dispatcher.Worker, 0, len(devices))
	for _, dev := range devices {
		devLogger := logging.ForDevice(logger, dev)
		sink := logsink.New(app.SinkConfig(), dev, app.RunStart, app.Clock, devLogger)
		defer func() {
			if cerr := sink.Close(); cerr != nil {
				devLogger.Warn("close device log failed", zap.Error(cerr))
			}
		}()
		workers = append(workers, worker.New(
			worker.Config{DeviceID: dev, Target: target, ClaimPause: cfg.Search.ClaimPause},
			seq, store, sup, sink, stop, devLogger,
		))
	}
	dispatch := dispatcher.New(dispatcher.Config{PollInterval: cfg.Driver.PollInterval}, workers, stop, logger.Named("dispatcher"))

	redacted := result.NewParser(cfg.Search.RedactedTarget).IsRedacted(target)
	logger.Info("batch run starting",
		zap.Strings("devices", devices),
		zap.Int64("start_batch_id", startID),
		zap.String("target", target),
		zap.Bool("target_redacted", redacted),
		zap.String("store", cfg.Store.Driver),
		zap.String("executable", cfg.Search.Executable),
		zap.String("log_dir", cfg.Search.LogDir),
	)

	serverDone := make(chan struct{})
	serverCtx, stopServer := context.WithCancel(ctx)
	defer func() {
		stopServer()
		<-serverDone
	}()
	if cfg.Server.Enabled {
		srv := api.NewServer(api.RunInfo{RunID: app.RunID, Target: target, TargetRedacted: redacted},
			dispatch, seq, logger.Named("api"))
		go func() {
			defer close(serverDone)
			if serr := srv.ListenAndServe(serverCtx, fmt.Sprintf(":%d", cfg.Server.Port)); serr != nil {
				logger.Error("status server failed", zap.Error(serr))
			}
		}()
	} else {
		close(serverDone)
	}

	runErr := dispatch.Run(ctx)
	switch {
	case runErr != nil:
		logger.Error("batch run failed", zap.Error(runErr))
		return runErr
	case stop.IsSet():
		logger.Info("batch run stopped: key found", zap.Int64("next_batch_id", seq.Peek()))
	case ctx.Err() != nil:
		logger.Warn("batch run interrupted", zap.Int64("next_batch_id", seq.Peek()))
	default:
		logger.Info("batch run finished: no more batches", zap.Int64("next_batch_id", seq.Peek()))
	}
	return nil
}

// parseDevices splits a comma-separated device list, dropping blanks and duplicates.
func parseDevices(raw string) ([]string, error) {
	seen := make(map[string]struct{})
	var devices []string
	for _, part := range strings.Split(raw, ",") {
		dev := strings.TrimSpace(part)
		if dev == "" {
			continue
		}
		if _, dup := seen[dev]; dup {
			continue
		}
		seen[dev] = struct{}{}
		devices = append(devices, dev)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no device ids in %q", raw)
	}
	return devices, nil
}

func openStore(ctx context.Context, cfg config.Config) (batch.Store, func(), error) {
	if cfg.Store.Driver == config.DriverMemory {
		records := make([]batch.Record, 0, len(cfg.Store.Seed))
		for _, seed := range cfg.Store.Seed {
			records = append(records, batch.Record{
				ID:         seed.ID,
				StartRange: seed.StartRange,
				EndRange:   seed.EndRange,
				Status:     batch.ParseStatus(seed.Status),
			})
		}
		return memory.NewJobStore(records...), func() {}, nil
	}
	if err := cfg.RequireDSN(); err != nil {
		return nil, nil, err
	}
	store, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{
		DSN:             cfg.Store.DSN,
		Table:           cfg.Store.Table,
		MaxConns:        cfg.Store.MaxConns,
		MinConns:        cfg.Store.MinConns,
		MaxConnLifetime: cfg.Store.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open job store: %w", err)
	}
	return store, store.Close, nil
}
