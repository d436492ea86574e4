package logsink

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchsearch/internal/result"
)

const (
	lineTimeFormat = "2006-01-02 15:04:05"
	fileTimeFormat = "20060102_150405"

	// ScrubMarker is appended after key lines have been removed from a log.
	ScrubMarker = "Continue next id."
)

// FsFactory builds the filesystem used by new sinks; tests swap in a memory fs.
var FsFactory = func() afero.Fs {
	return afero.NewOsFs()
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Config controls where logs go and how often previews are emitted.
type Config struct {
	Dir             string
	PreviewInterval time.Duration
	PreviewLines    int
}

// Sink writes one device's log file and emits previews.
type Sink struct {
	fs          afero.Fs
	cfg         Config
	deviceID    string
	path        string
	file        afero.File
	clock       Clock
	lastPreview time.Time
	logger      *zap.Logger
}

// New creates a Sink for deviceID. The file is created on the first Append.
func New(cfg Config, deviceID string, runStart time.Time, clock Clock, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := fmt.Sprintf("device_%s_%s.log", sanitizeDeviceID(deviceID), runStart.Format(fileTimeFormat))
	return &Sink{
		fs:          FsFactory(),
		cfg:         cfg,
		deviceID:    deviceID,
		path:        filepath.Join(cfg.Dir, name),
		clock:       clock,
		lastPreview: clock.Now(),
		logger:      logger,
	}
}

func sanitizeDeviceID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

// Path returns the log file path for this run.
func (s *Sink) Path() string {
	return s.path
}

// DeviceID returns the device this sink belongs to.
func (s *Sink) DeviceID() string {
	return s.deviceID
}

func (s *Sink) open() error {
	if s.file != nil {
		return nil
	}
	if s.cfg.Dir != "" {
		if err := s.fs.MkdirAll(s.cfg.Dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := s.fs.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	s.file = f
	return nil
}

// Append writes one timestamped line.
func (s *Sink) Append(line string) error {
	if err := s.open(); err != nil {
		return err
	}
	entry := fmt.Sprintf("[%s] %s\n", s.clock.Now().Format(lineTimeFormat), line)
	if _, err := s.file.WriteString(entry); err != nil {
		return fmt.Errorf("append log line: %w", err)
	}
	return nil
}

// ReadAll returns the complete log. A log that was never written reads as empty.
func (s *Sink) ReadAll() ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return data, nil
}

// Lines returns the log split into lines. Line length is not bounded.
func (s *Sink) Lines() ([]string, error) {
	data, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines, nil
}

// MaybePreview emits a preview when the preview interval has elapsed.
func (s *Sink) MaybePreview(rangeInfo string, redact bool) bool {
	now := s.clock.Now()
	if now.Sub(s.lastPreview) < s.cfg.PreviewInterval {
		return false
	}
	s.lastPreview = now
	s.Preview(rangeInfo, redact)
	return true
}

// Preview logs the last interesting lines and returns them.
func (s *Sink) Preview(rangeInfo string, redact bool) []string {
	lines, err := s.Lines()
	if err != nil {
		s.logger.Warn("read log for preview failed", zap.String("path", s.path), zap.Error(err))
		return nil
	}
	preview := FilterPreview(lines, s.cfg.PreviewLines, redact)
	if len(preview) == 0 {
		return nil
	}
	s.logger.Info("log preview",
		zap.String("device", s.deviceID),
		zap.String("range", rangeInfo),
		zap.Strings("lines", preview),
	)
	return preview
}

// Scrub rewrites the log without key lines and appends ScrubMarker.
func (s *Sink) Scrub() error {
	if err := s.Close(); err != nil {
		return err
	}
	lines, err := s.Lines()
	if err != nil {
		return err
	}
	if lines == nil {
		return nil
	}
	var buf bytes.Buffer
	for _, line := range lines {
		if result.IsKeyMaterial(line) {
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := afero.WriteFile(s.fs, s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("rewrite log file: %w", err)
	}
	return s.Append(ScrubMarker)
}

// Close releases the open file handle, if any. Appending afterwards reopens it.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}
