// Package runner executes an external program and streams its merged output line by line.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// Longer lines are delivered in pieces of this size.
	maxLineBytes = 1024 * 1024
	// killGrace is how long output is still read after the process group is killed.
	killGrace = 3 * time.Second
)

var (
	// ErrCouldNotStartProcess is returned when the process could not be started.
	ErrCouldNotStartProcess = errors.New("could not start process")
	// ErrFailedToCreatePipe is returned when the output pipe could not be created.
	ErrFailedToCreatePipe = errors.New("failed to create pipe")
	// ErrTimeoutExceeded is returned when the command ran past its timeout.
	ErrTimeoutExceeded = errors.New("timeout exceeded")
)

// Command describes one invocation.
type Command struct {
	Path string
	Args []string
	Env  []string
	// Timeout bounds the run when positive. Zero means wait indefinitely.
	Timeout time.Duration
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// LineFunc receives each non-empty, trimmed output line in order.
type LineFunc func(line string)

// Result describes a finished process.
type Result struct {
	ExitCode int
	Started  time.Time
	Stopped  time.Time
}

// Duration returns how long the process ran.
func (r Result) Duration() time.Duration {
	return r.Stopped.Sub(r.Started)
}

// Runner starts processes. The zero value is ready to use.
type Runner struct{}

// New returns a Runner.
func New() *Runner {
	return &Runner{}
}

// Run starts cmd, forwards its combined stdout and stderr to onLine, and blocks until
// the process exits. A non-zero exit is reported through Result.ExitCode, not as an
// error. Errors are returned only when the process could not be started, its output
// could not be read, or it was killed by the timeout or context.
func (r *Runner) Run(ctx context.Context, cmd Command, onLine LineFunc) (Result, error) {
	res := Result{ExitCode: -1}

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	// Both streams share one pipe so the child's own write order is kept.
	pr, pw, err := os.Pipe()
	if err != nil {
		return res, errors.Join(ErrFailedToCreatePipe, err)
	}

	c := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Stdout = pw
	c.Stderr = pw
	configureProcess(c)
	c.Cancel = func() error {
		terminateProcess(c)
		return nil
	}
	c.WaitDelay = killGrace

	res.Started = time.Now().UTC()
	if err := c.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		res.Stopped = time.Now().UTC()
		return res, fmt.Errorf("%w: %w", ErrCouldNotStartProcess, err)
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	// A descendant outside the process group can hold the write end open after a kill.
	// Closing the read end after the grace period unblocks forwardLines.
	readDone := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-readDone:
			return
		case <-runCtx.Done():
		}
		timer := time.NewTimer(killGrace)
		defer timer.Stop()
		select {
		case <-readDone:
		case <-timer.C:
			_ = pr.Close()
		}
	}()

	readErr := forwardLines(pr, onLine)
	close(readDone)
	<-watchDone
	_ = pr.Close()

	waitErr := c.Wait()
	res.Stopped = time.Now().UTC()
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}

	if runCtx.Err() != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return res, fmt.Errorf("%w after %s", ErrTimeoutExceeded, cmd.Timeout)
		}
		return res, fmt.Errorf("process interrupted: %w", runCtx.Err())
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, fmt.Errorf("wait for process: %w", waitErr)
	}
	if readErr != nil {
		return res, readErr
	}
	return res, nil
}

func forwardLines(r io.Reader, onLine LineFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(splitLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || onLine == nil {
			continue
		}
		onLine(line)
	}
	if err := scanner.Err(); err != nil {
		// Drain so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("read process output: %w", err)
	}
	return nil
}

// splitLines is a bufio.SplitFunc that ends a line at "\n" or a bare "\r", so progress
// redrawn in place arrives one update at a time. "\r\n" yields an empty token that
// callers drop. A line that fills the buffer is cut at maxLineBytes.
func splitLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if len(data) >= maxLineBytes {
		return maxLineBytes, data[:maxLineBytes], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
