// Package stopflag holds the process-wide "found" flag observed by workers and the driver.
package stopflag

import "sync"

// Flag is set at most once and never cleared.
type Flag struct {
	mu   sync.Mutex
	set  bool
	done chan struct{}
}

// New returns an unset Flag.
func New() *Flag {
	return &Flag{done: make(chan struct{})}
}

// Set raises the flag. It reports whether this call was the one that set it.
func (f *Flag) Set() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return false
	}
	f.set = true
	close(f.done)
	return true
}

// IsSet reports whether the flag has been raised.
func (f *Flag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Done is closed once the flag is set.
func (f *Flag) Done() <-chan struct{} {
	return f.done
}
