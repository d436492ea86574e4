package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchsearch/internal/batch"
	"github.com/JakeFAU/batchsearch/internal/logging"
	"github.com/JakeFAU/batchsearch/internal/logsink"
	"github.com/JakeFAU/batchsearch/internal/runner"
	"github.com/JakeFAU/batchsearch/internal/stopflag"
	"github.com/JakeFAU/batchsearch/internal/supervisor"
)

// ErrSearchFailed is returned when a single-shot search ends in the error state.
var ErrSearchFailed = errors.New("search failed")

func newSingleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "single <device-id> <start-hex> <range-width> <target>",
		Short: "Runs the executable once over a literal range, without the job table",
		Example: "  batchsearch single 0 20000000000000000 64 1PWo3JeB9jrGwfHDNpdGK54CRas7fsVzXU",
		Args:    cobra.ExactArgs(4),
		RunE:    runSingleCommand,
	}
}

func runSingleCommand(cmd *cobra.Command, args []string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	device := strings.TrimSpace(args[0])
	if device == "" {
		return errors.New("device id is required")
	}
	startHex := strings.TrimSpace(args[1])
	if _, err := batch.ParseHex(startHex); err != nil {
		return err
	}
	width, err := strconv.Atoi(strings.TrimSpace(args[2]))
	if err != nil || width <= 0 {
		return fmt.Errorf("invalid range width %q: must be a positive integer", args[2])
	}
	target := strings.TrimSpace(args[3])
	if target == "" {
		return errors.New("target is required")
	}

	logger := logging.ForDevice(app.Logger, device)
	sink := logsink.New(app.SinkConfig(), device, app.RunStart, app.Clock, logger)
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logger.Warn("close device log failed", zap.Error(cerr))
		}
	}()

	sup := supervisor.New(app.SupervisorConfig(), nil, runner.New(), stopflag.New(), app.Logger.Named("supervisor"))
	out := sup.Run(cmd.Context(), sink, supervisor.Request{
		DeviceID:   device,
		StartHex:   startHex,
		RangeWidth: width,
		Target:     target,
	})

	printOutcome(cmd.OutOrStdout(), startHex, width, sink.Path(), out)
	if out.Status == batch.StatusError {
		if out.Err != nil {
			return fmt.Errorf("%w: %w", ErrSearchFailed, out.Err)
		}
		return fmt.Errorf("%w: exit code %d", ErrSearchFailed, out.ExitCode)
	}
	return nil
}

func printOutcome(w io.Writer, startHex string, width int, logPath string, out supervisor.Outcome) {
	fmt.Fprintf(w, "range:  %s\n", batch.DescribeRange(startHex, width))
	fmt.Fprintf(w, "status: %s (exit code %d)\n", out.Status, out.ExitCode)
	fmt.Fprintf(w, "log:    %s\n", logPath)
	switch {
	case out.GenuineFind():
		fmt.Fprintf(w, "found:  %d\n", out.Result.FoundCount)
		if out.Result.Address != "" {
			fmt.Fprintf(w, "address: %s\n", out.Result.Address)
		}
		if out.Result.PrivateKeyHex != "" {
			fmt.Fprintf(w, "priv (hex): %s\n", out.Result.PrivateKeyHex)
		}
		if out.Result.PrivateKeyWIF != "" {
			fmt.Fprintf(w, "priv (wif): %s\n", out.Result.PrivateKeyWIF)
		}
	default:
		fmt.Fprintln(w, "found:  0")
	}
}
