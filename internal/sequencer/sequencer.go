// Package sequencer issues unique, increasing batch ids to workers.
package sequencer

import "sync/atomic"

// Sequencer is a shared claim counter. The zero value starts at 0.
type Sequencer struct {
	next atomic.Int64
}

// New returns a Sequencer whose first claim is start.
func New(start int64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next claims the current id and advances the counter.
func (s *Sequencer) Next() int64 {
	return s.next.Add(1) - 1
}

// Peek returns the id the next claim will receive.
func (s *Sequencer) Peek() int64 {
	return s.next.Load()
}
