package sequencer

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequencerStartsAtSeed(t *testing.T) {
	t.Parallel()

	s := New(49)
	require.Equal(t, int64(49), s.Peek())
	require.Equal(t, int64(49), s.Next())
	require.Equal(t, int64(50), s.Next())
	require.Equal(t, int64(51), s.Peek())
}

func TestSequencerZeroValue(t *testing.T) {
	t.Parallel()

	var s Sequencer
	require.Equal(t, int64(0), s.Next())
	require.Equal(t, int64(1), s.Next())
}

func TestSequencerConcurrentClaimsAreGapless(t *testing.T) {
	t.Parallel()

	const (
		start      = int64(1000)
		goroutines = 16
		perRoutine = 500
	)
	s := New(start)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make([]int64, 0, goroutines*perRoutine)
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perRoutine)
			for range perRoutine {
				local = append(local, s.Next())
			}
			mu.Lock()
			ids = append(ids, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	require.Len(t, ids, goroutines*perRoutine)
	for i, id := range ids {
		require.Equal(t, start+int64(i), id)
	}
}
