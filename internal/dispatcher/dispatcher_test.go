package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchsearch/internal/stopflag"
	"github.com/JakeFAU/batchsearch/internal/worker"
)

type fakeWorker struct {
	id      string
	run     func(ctx context.Context) (worker.Stats, error)
	started atomic.Bool
}

func (f *fakeWorker) DeviceID() string { return f.id }

func (f *fakeWorker) Run(ctx context.Context) (worker.Stats, error) {
	f.started.Store(true)
	return f.run(ctx)
}

func (f *fakeWorker) Snapshot() worker.Stats {
	return worker.Stats{DeviceID: f.id, Running: f.started.Load()}
}

func quick(stats worker.Stats, err error) func(context.Context) (worker.Stats, error) {
	return func(context.Context) (worker.Stats, error) { return stats, err }
}

func untilCancel(ctx context.Context) (worker.Stats, error) {
	<-ctx.Done()
	return worker.Stats{Fetched: true}, nil
}

func TestDispatcherReturnsWhenWorkersFinish(t *testing.T) {
	defer goleak.VerifyNone(t)

	workers := []Worker{
		&fakeWorker{id: "0", run: quick(worker.Stats{Fetched: true}, nil)},
		&fakeWorker{id: "1", run: quick(worker.Stats{Fetched: true}, nil)},
	}
	d := New(Config{PollInterval: time.Hour}, workers, stopflag.New(), zap.NewNop())

	require.NoError(t, d.Run(context.Background()))
	require.Zero(t, d.Alive())
}

func TestDispatcherStopFlagLetsInFlightBatchesFinish(t *testing.T) {
	defer goleak.VerifyNone(t)

	stop := stopflag.New()
	var completed atomic.Bool
	workers := []Worker{
		&fakeWorker{id: "0", run: func(context.Context) (worker.Stats, error) {
			stop.Set()
			return worker.Stats{Fetched: true}, nil
		}},
		&fakeWorker{id: "1", run: func(ctx context.Context) (worker.Stats, error) {
			// Still searching when the other device finds the key.
			<-stop.Done()
			select {
			case <-ctx.Done():
				return worker.Stats{Fetched: true}, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
			completed.Store(true)
			return worker.Stats{Fetched: true}, nil
		}},
	}
	d := New(Config{PollInterval: 5 * time.Millisecond}, workers, stop, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not return after stop flag")
	}
	require.True(t, completed.Load(), "in-flight batch was cut short")
	require.True(t, d.Stopped())
	require.Zero(t, d.Alive())
}

func TestDispatcherParentCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	d := New(Config{PollInterval: time.Hour}, []Worker{&fakeWorker{id: "0", run: untilCancel}}, stopflag.New(), zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	require.Eventually(t, func() bool { return d.Alive() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not return after cancel")
	}
}

func TestDispatcherStoreUnavailable(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("dial tcp: connection refused")
	workers := []Worker{
		&fakeWorker{id: "0", run: quick(worker.Stats{}, boom)},
		&fakeWorker{id: "1", run: quick(worker.Stats{}, boom)},
	}
	err := New(Config{}, workers, stopflag.New(), zap.NewNop()).Run(context.Background())

	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, boom)
}

func TestDispatcherPartialFailureIsNotFatal(t *testing.T) {
	defer goleak.VerifyNone(t)

	workers := []Worker{
		&fakeWorker{id: "0", run: quick(worker.Stats{}, errors.New("fetch failed"))},
		&fakeWorker{id: "1", run: quick(worker.Stats{Fetched: true}, nil)},
	}
	err := New(Config{}, workers, stopflag.New(), zap.NewNop()).Run(context.Background())

	require.NoError(t, err)
}

func TestDispatcherSnapshots(t *testing.T) {
	t.Parallel()

	workers := []Worker{&fakeWorker{id: "0"}, &fakeWorker{id: "3"}}
	d := New(Config{}, workers, stopflag.New(), nil)

	snaps := d.Snapshots()
	require.Len(t, snaps, 2)
	require.Equal(t, "3", snaps[1].DeviceID)
	require.Equal(t, DefaultPollInterval, d.cfg.PollInterval)
}
