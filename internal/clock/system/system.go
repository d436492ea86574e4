// Package system provides a real clock implementation.
package system

import "time"

// Clock implements logsink.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Local returns the current wall-clock time in the local zone, used for log file names.
func (Clock) Local() time.Time {
	return time.Now()
}
