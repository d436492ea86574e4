// Package worker implements the per-device claim, fetch, and run loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/batchsearch/internal/batch"
	"github.com/JakeFAU/batchsearch/internal/metrics"
	"github.com/JakeFAU/batchsearch/internal/sequencer"
	"github.com/JakeFAU/batchsearch/internal/stopflag"
	"github.com/JakeFAU/batchsearch/internal/supervisor"
)

// ErrFetchFailed marks a loop that ended because the store could not be read.
var ErrFetchFailed = errors.New("batch fetch failed")

// Searcher runs one batch to completion.
type Searcher interface {
	Run(ctx context.Context, log supervisor.Log, req supervisor.Request) supervisor.Outcome
}

// Config controls Worker behavior.
type Config struct {
	DeviceID   string
	Target     string
	ClaimPause time.Duration
}

// Stats summarizes what a worker has done so far.
type Stats struct {
	DeviceID     string `json:"device_id"`
	Running      bool   `json:"running"`
	CurrentBatch *int64 `json:"current_batch,omitempty"`
	Claimed      int    `json:"claimed"`
	Skipped      int    `json:"skipped"`
	Ran          int    `json:"ran"`
	Errors       int    `json:"errors"`
	Fetched      bool   `json:"-"`
}

// Worker owns one device and its log.
type Worker struct {
	cfg      Config
	seq      *sequencer.Sequencer
	store    batch.Store
	searcher Searcher
	log      supervisor.Log
	stop     *stopflag.Flag
	logger   *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New constructs a Worker.
func New(
	cfg Config,
	seq *sequencer.Sequencer,
	store batch.Store,
	searcher Searcher,
	log supervisor.Log,
	stop *stopflag.Flag,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:      cfg,
		seq:      seq,
		store:    store,
		searcher: searcher,
		log:      log,
		stop:     stop,
		logger:   logger.With(zap.String("device", cfg.DeviceID)),
		stats:    Stats{DeviceID: cfg.DeviceID},
	}
}

// DeviceID returns the device this worker drives.
func (w *Worker) DeviceID() string {
	return w.cfg.DeviceID
}

// Snapshot returns a copy of the current stats.
func (w *Worker) Snapshot() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	if s.CurrentBatch != nil {
		id := *s.CurrentBatch
		s.CurrentBatch = &id
	}
	return s
}

// Run claims batches until the stop flag is set, the table ends, a fetch fails, or ctx ends.
// The stop flag is checked only between batches; a running search is never interrupted by it.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	w.update(func(s *Stats) { s.Running = true })
	defer w.update(func(s *Stats) {
		s.Running = false
		s.CurrentBatch = nil
	})

	w.logger.Info("worker started")
	for {
		if w.stop.IsSet() {
			w.logger.Info("stop flag set, worker exiting")
			return w.Snapshot(), nil
		}
		if ctx.Err() != nil {
			w.logger.Info("worker interrupted")
			return w.Snapshot(), nil
		}

		id := w.seq.Next()
		w.update(func(s *Stats) { s.Claimed++ })

		rec, err := w.store.Fetch(ctx, id)
		if errors.Is(err, batch.ErrNotFound) {
			w.logger.Info("no more batches, worker exiting", zap.Int64("batch_id", id))
			return w.Snapshot(), nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return w.Snapshot(), nil
			}
			w.logger.Error("fetch batch failed, worker exiting", zap.Int64("batch_id", id), zap.Error(err))
			return w.Snapshot(), fmt.Errorf("%w: device %s batch %d: %w", ErrFetchFailed, w.cfg.DeviceID, id, err)
		}
		w.update(func(s *Stats) { s.Fetched = true })

		if !rec.Status.Runnable() {
			w.logger.Debug("skipping batch", zap.Int64("batch_id", id), zap.String("status", string(rec.Status)))
			metrics.ObserveSkip()
			w.update(func(s *Stats) { s.Skipped++ })
			continue
		}

		w.update(func(s *Stats) { s.CurrentBatch = &rec.ID })
		out := w.searcher.Run(ctx, w.log, supervisor.Request{
			DeviceID:   w.cfg.DeviceID,
			StartHex:   rec.StartRange,
			RangeWidth: rec.Width(),
			Target:     w.cfg.Target,
			BatchID:    &rec.ID,
		})
		w.update(func(s *Stats) {
			s.CurrentBatch = nil
			s.Ran++
			if out.Status == batch.StatusError {
				s.Errors++
			}
		})

		if !w.pause(ctx) {
			w.logger.Info("worker interrupted")
			return w.Snapshot(), nil
		}
	}
}

func (w *Worker) update(fn func(*Stats)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.stats)
}

// pause waits ClaimPause and reports false if ctx ended first.
func (w *Worker) pause(ctx context.Context) bool {
	if w.cfg.ClaimPause <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(w.cfg.ClaimPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
