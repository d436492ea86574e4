// Package supervisor runs one external search process per batch and records its outcome.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/batchsearch/internal/batch"
	"github.com/JakeFAU/batchsearch/internal/metrics"
	"github.com/JakeFAU/batchsearch/internal/result"
	"github.com/JakeFAU/batchsearch/internal/runner"
	"github.com/JakeFAU/batchsearch/internal/stopflag"
)

// ErrUpdateAbandoned is returned when a store update failed twice.
var ErrUpdateAbandoned = errors.New("store update abandoned after retry")

// ProcessRunner starts the external search executable.
type ProcessRunner interface {
	Run(ctx context.Context, cmd runner.Command, onLine runner.LineFunc) (runner.Result, error)
}

// Log is the per-device log the supervisor writes to and reads back.
type Log interface {
	Append(line string) error
	MaybePreview(rangeInfo string, redact bool) bool
	Preview(rangeInfo string, redact bool) []string
	ReadAll() ([]byte, error)
	Scrub() error
}

// Config holds the supervisor settings.
type Config struct {
	Executable       string
	UpdateRetryDelay time.Duration
	// ProcessTimeout is passed to the runner. Zero means no limit.
	ProcessTimeout time.Duration
	RedactedTarget string
}

// Request describes one search invocation.
type Request struct {
	DeviceID   string
	StartHex   string
	RangeWidth int
	Target     string
	// BatchID is nil in single-shot mode; no store calls are made then.
	BatchID *int64
}

// Outcome is the classified result of one invocation.
type Outcome struct {
	BatchID        *int64
	Status         batch.Status
	ExitCode       int
	ExecutionError bool
	Result         result.Result
	Duration       time.Duration
	// Err is set when the process could not be started or did not run to completion.
	Err error
	// PersistErr is set when the final status could not be written.
	PersistErr error
}

// GenuineFind reports whether the outcome is a confirmed find for a non-redacted target.
func (o Outcome) GenuineFind() bool {
	return o.Status == batch.StatusDone && o.Result.Found && !o.Result.IsSpecialAddress
}

// Supervisor coordinates the process, the log, the parser, and the store for one batch.
type Supervisor struct {
	cfg    Config
	store  batch.Store
	runner ProcessRunner
	parser result.Parser
	stop   *stopflag.Flag
	logger *zap.Logger
	sleep  func(time.Duration)
}

// New constructs a Supervisor. store may be nil for single-shot use.
func New(cfg Config, store batch.Store, processRunner ProcessRunner, stop *stopflag.Flag, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stop == nil {
		stop = stopflag.New()
	}
	return &Supervisor{
		cfg:    cfg,
		store:  store,
		runner: processRunner,
		parser: result.NewParser(cfg.RedactedTarget),
		stop:   stop,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Command builds the executable invocation for req.
func (s *Supervisor) Command(req Request) runner.Command {
	return runner.Command{
		Path: s.cfg.Executable,
		Args: []string{
			"-gpuId", req.DeviceID,
			"-start", req.StartHex,
			"-range", strconv.Itoa(req.RangeWidth),
			req.Target,
		},
		Timeout: s.cfg.ProcessTimeout,
	}
}

// Run executes req to completion. It never returns early because the stop flag was set;
// only ctx cancellation interrupts the process.
func (s *Supervisor) Run(ctx context.Context, log Log, req Request) Outcome {
	out := Outcome{BatchID: req.BatchID, Status: batch.StatusError, ExitCode: -1}
	logger := s.logger.With(zap.String("device", req.DeviceID))
	if req.BatchID != nil {
		logger = logger.With(zap.Int64("batch_id", *req.BatchID))
	}
	// Store writes must land even while the driver is shutting down.
	storeCtx := context.WithoutCancel(ctx)
	redact := s.parser.IsRedacted(req.Target)
	rangeInfo := batch.DescribeRange(req.StartHex, req.RangeWidth)

	if err := s.persist(storeCtx, logger, req.BatchID, batch.Update{Status: batch.StatusInProgress}); err != nil {
		logger.Warn("mark inprogress failed, running anyway", zap.Error(err))
	}

	cmd := s.Command(req)
	s.appendLine(logger, log, startLine(req.BatchID, cmd))
	logger.Info("search started", zap.String("range", rangeInfo), zap.Bool("target_redacted", redact))

	res, runErr := s.runner.Run(ctx, cmd, func(line string) {
		s.appendLine(logger, log, line)
		log.MaybePreview(rangeInfo, redact)
	})
	out.ExitCode = res.ExitCode
	out.Duration = res.Duration()
	if !res.Started.IsZero() && !res.Stopped.IsZero() {
		metrics.ObserveProcessDuration(out.Duration)
	}

	if errors.Is(runErr, runner.ErrCouldNotStartProcess) {
		out.Err = runErr
		logger.Error("search process start failed", zap.Error(runErr))
		out.PersistErr = s.persist(storeCtx, logger, req.BatchID, batch.Update{Status: batch.StatusError})
		metrics.ObserveBatch(string(out.Status))
		return out
	}

	data, readErr := log.ReadAll()
	if readErr != nil {
		logger.Warn("read device log failed", zap.Error(readErr))
	}
	out.ExecutionError = result.HasExecutionError(data)
	out.Result = s.parser.ParseBytes(data, req.Target)

	switch {
	case runErr != nil:
		out.Err = runErr
		logger.Warn("search process did not complete", zap.Error(runErr), zap.Int("exit_code", out.ExitCode))
	case out.ExitCode != 0:
		logger.Warn("search process exited non-zero", zap.Int("exit_code", out.ExitCode))
	case out.ExecutionError:
		logger.Warn("execution error reported in log",
			zap.String("signature", result.ExecutionErrorSignature(data)))
	default:
		out.Status = batch.StatusDone
	}

	special := out.Result.IsSpecialAddress
	sawFind := out.Result.Found
	update := batch.Update{Status: out.Status}
	if out.Status == batch.StatusError {
		// An execution error invalidates any reported key.
		out.Result = result.Result{IsSpecialAddress: special}
	} else if out.GenuineFind() {
		update.Found = true
		update.WIF = out.Result.Key()
	}
	out.PersistErr = s.persist(storeCtx, logger, req.BatchID, update)
	metrics.ObserveBatch(string(out.Status))

	switch {
	case out.GenuineFind():
		metrics.ObserveFind(metrics.FindGenuine)
		logger.Info("key found, stopping all devices",
			zap.String("address", out.Result.Address),
			zap.Int("found_count", out.Result.FoundCount))
		s.stop.Set()
	case sawFind && special:
		metrics.ObserveFind(metrics.FindRedacted)
		logger.Info("find for redacted target suppressed")
		if err := log.Scrub(); err != nil {
			logger.Error("scrub device log failed", zap.Error(err))
		}
	default:
		log.Preview(rangeInfo, redact)
	}

	logger.Info("search finished",
		zap.String("status", string(out.Status)),
		zap.Int("exit_code", out.ExitCode),
		zap.Duration("duration", out.Duration))
	return out
}

func (s *Supervisor) appendLine(logger *zap.Logger, log Log, line string) {
	if err := log.Append(line); err != nil {
		logger.Warn("append device log failed", zap.Error(err))
	}
}

// persist writes update once and retries a single time after the configured delay.
func (s *Supervisor) persist(ctx context.Context, logger *zap.Logger, id *int64, update batch.Update) error {
	if id == nil || s.store == nil {
		return nil
	}
	err := s.store.Update(ctx, *id, update)
	if err == nil {
		return nil
	}
	metrics.ObserveUpdateRetry()
	logger.Warn("store update failed, retrying",
		zap.String("status", string(update.Status)),
		zap.Duration("delay", s.cfg.UpdateRetryDelay),
		zap.Error(err))
	s.sleep(s.cfg.UpdateRetryDelay)
	if err = s.store.Update(ctx, *id, update); err != nil {
		metrics.ObserveUpdateFailure()
		logger.Error("store update abandoned", zap.String("status", string(update.Status)), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrUpdateAbandoned, err)
	}
	return nil
}

func startLine(id *int64, cmd runner.Command) string {
	label := "-"
	if id != nil {
		label = strconv.FormatInt(*id, 10)
	}
	return fmt.Sprintf("START BATCH %s | CMD: %s", label, cmd.String())
}
