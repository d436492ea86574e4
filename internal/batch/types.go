// Package batch defines the batch record shared by the job store, workers, and supervisor.
package batch

import (
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle state of a batch row.
type Status string

// Batch status values persisted in the job table.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "inprogress"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// ErrNotFound is returned when the job table has no row for a batch id.
var ErrNotFound = errors.New("batch not found")

// ParseStatus normalizes a raw status column value. Empty values read as pending.
func ParseStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return StatusPending
	}
	return Status(s)
}

// Runnable reports whether a worker may execute a batch in this state.
// Only done and inprogress rows are skipped; anything else is eligible.
func (s Status) Runnable() bool {
	switch s {
	case StatusDone, StatusInProgress:
		return false
	default:
		return true
	}
}

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusDone
}

// Record is one row of the job table.
type Record struct {
	ID         int64      `json:"id"`
	StartRange string     `json:"start_range"`
	EndRange   string     `json:"end_range"`
	Status     Status     `json:"status"`
	Found      bool       `json:"found"`
	WIF        string     `json:"wif,omitempty"`
	StartTime  *time.Time `json:"start_tm,omitempty"`
}

// Width returns the bit width needed to cover the record's range.
func (r Record) Width() int {
	return RangeWidth(r.StartRange, r.EndRange)
}

// Update is the mutable part of a record written by the supervisor.
type Update struct {
	Status Status
	Found  bool
	WIF    string
}
