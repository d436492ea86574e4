// Package dispatcher fans work out to one worker per device and decides when the run is over.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/batchsearch/internal/stopflag"
	"github.com/JakeFAU/batchsearch/internal/worker"
)

// ErrStoreUnavailable is returned when no worker could read a single batch.
var ErrStoreUnavailable = errors.New("job store unavailable")

// DefaultPollInterval is used when Config.PollInterval is not positive.
const DefaultPollInterval = 2 * time.Second

// Worker is a device loop the dispatcher supervises.
type Worker interface {
	DeviceID() string
	Run(ctx context.Context) (worker.Stats, error)
	Snapshot() worker.Stats
}

// Config controls Dispatcher behavior.
type Config struct {
	PollInterval time.Duration
}

// Dispatcher starts the workers and polls the stop flag and their liveness.
type Dispatcher struct {
	cfg     Config
	workers []Worker
	stop    *stopflag.Flag
	logger  *zap.Logger
	alive   atomic.Int32
}

type workerResult struct {
	stats worker.Stats
	err   error
}

// New creates a Dispatcher.
func New(cfg Config, workers []Worker, stop *stopflag.Flag, logger *zap.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:     cfg,
		workers: workers,
		stop:    stop,
		logger:  logger,
	}
}

// Alive returns the number of workers still running.
func (d *Dispatcher) Alive() int {
	return int(d.alive.Load())
}

// Snapshots returns each worker's current stats.
func (d *Dispatcher) Snapshots() []worker.Stats {
	out := make([]worker.Stats, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, w.Snapshot())
	}
	return out
}

// Stopped reports whether a find has stopped the run.
func (d *Dispatcher) Stopped() bool {
	return d.stop.IsSet()
}

// Run starts all workers and blocks until every one of them has exited.
// The stop flag never cancels workers: each finishes its in-flight batch and exits at
// its next stop check. Only ctx ending (operator interrupt) kills running searches.
func (d *Dispatcher) Run(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]workerResult, len(d.workers))
	var g errgroup.Group
	for i, w := range d.workers {
		d.alive.Add(1)
		g.Go(func() error {
			defer d.alive.Add(-1)
			stats, err := w.Run(workerCtx)
			results[i] = workerResult{stats: stats, err: err}
			return nil
		})
	}
	finished := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(finished)
	}()

	d.logger.Info("dispatcher started", zap.Int("workers", len(d.workers)))
	d.wait(ctx, finished)

	// workerCtx follows ctx, so an interrupt has already reached the workers here.
	<-finished
	return d.summarize(results)
}

func (d *Dispatcher) wait(ctx context.Context, finished <-chan struct{}) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Warn("run interrupted", zap.Error(ctx.Err()))
			return
		case <-finished:
			d.logger.Info("all workers finished")
			return
		case <-ticker.C:
			if d.stop.IsSet() {
				d.logger.Info("stop flag set, waiting for in-flight batches", zap.Int("alive", d.Alive()))
				d.drain(ctx, finished)
				return
			}
			if d.Alive() == 0 {
				return
			}
		}
	}
}

// drain waits for the workers to finish their current batches after a stop.
func (d *Dispatcher) drain(ctx context.Context, finished <-chan struct{}) {
	select {
	case <-finished:
		d.logger.Info("all workers finished after stop")
	case <-ctx.Done():
		d.logger.Warn("run interrupted while draining", zap.Error(ctx.Err()))
	}
}

func (d *Dispatcher) summarize(results []workerResult) error {
	var merr *multierror.Error
	fetched := false
	for _, res := range results {
		if res.err != nil {
			merr = multierror.Append(merr, res.err)
		}
		if res.stats.Fetched {
			fetched = true
		}
	}
	if merr == nil {
		return nil
	}
	if !fetched && len(merr.Errors) == len(results) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, merr.ErrorOrNil())
	}
	d.logger.Warn("some workers ended early", zap.Error(merr.ErrorOrNil()))
	return nil
}
