// Package memory provides an in-memory batch job store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/batchsearch/internal/batch"
)

var _ batch.Store = (*JobStore)(nil)

// UpdateCall records one Update invocation, in order.
type UpdateCall struct {
	ID     int64
	Update batch.Update
}

// JobStore keeps batch rows in a map guarded by a mutex.
type JobStore struct {
	mu      sync.RWMutex
	rows    map[int64]batch.Record
	updates []UpdateCall
	now     func() time.Time
}

// NewJobStore constructs a JobStore seeded with the given records.
func NewJobStore(records ...batch.Record) *JobStore {
	s := &JobStore{
		rows: make(map[int64]batch.Record, len(records)),
		now:  func() time.Time { return time.Now().UTC() },
	}
	s.Seed(records...)
	return s
}

// Seed inserts or replaces rows.
func (s *JobStore) Seed(records ...batch.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if rec.Status == "" {
			rec.Status = batch.StatusPending
		}
		s.rows[rec.ID] = rec
	}
}

// Fetch returns a copy of the row or batch.ErrNotFound.
func (s *JobStore) Fetch(_ context.Context, id int64) (batch.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[id]
	if !ok {
		return batch.Record{}, batch.ErrNotFound
	}
	return rec, nil
}

// Update applies the change and stamps the start time.
func (s *JobStore) Update(_ context.Context, id int64, update batch.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return batch.ErrNotFound
	}
	rec.Status = update.Status
	rec.Found = update.Found
	rec.WIF = update.WIF
	ts := s.now()
	rec.StartTime = &ts
	s.rows[id] = rec
	s.updates = append(s.updates, UpdateCall{ID: id, Update: update})
	return nil
}

// Get returns the current row, for assertions.
func (s *JobStore) Get(id int64) (batch.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[id]
	return rec, ok
}

// Updates returns every Update call made so far.
func (s *JobStore) Updates() []UpdateCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UpdateCall, len(s.updates))
	copy(out, s.updates)
	return out
}

// IDs returns the stored ids in ascending order.
func (s *JobStore) IDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
