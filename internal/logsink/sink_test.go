package logsink

import (
	"strings"
	"testing"
	"time"

	"github.com/prashantv/gostub"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestSink(t *testing.T, cfg Config) (*Sink, afero.Fs, *fakeClock, *observer.ObservedLogs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	stubs := gostub.Stub(&FsFactory, func() afero.Fs { return fs })
	t.Cleanup(stubs.Reset)

	core, logs := observer.New(zap.InfoLevel)
	clock := &fakeClock{now: time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)}
	sink := New(cfg, "0", clock.now, clock, zap.New(core))
	t.Cleanup(func() { _ = sink.Close() })
	return sink, fs, clock, logs
}

func TestSinkCreatesFileLazily(t *testing.T) {
	sink, fs, _, _ := newTestSink(t, Config{Dir: "logs", PreviewLines: 8})

	require.Equal(t, "logs/device_0_20250304_050607.log", sink.Path())
	exists, err := afero.Exists(fs, sink.Path())
	require.NoError(t, err)
	require.False(t, exists)

	data, err := sink.ReadAll()
	require.NoError(t, err)
	require.Empty(t, data)

	require.NoError(t, sink.Append("hello"))
	exists, err = afero.Exists(fs, sink.Path())
	require.NoError(t, err)
	require.True(t, exists)
}

func TestSinkAppendsTimestampedLines(t *testing.T) {
	sink, _, clock, _ := newTestSink(t, Config{Dir: "logs", PreviewLines: 8})

	require.NoError(t, sink.Append("first"))
	clock.advance(time.Second)
	require.NoError(t, sink.Append("second"))

	lines, err := sink.Lines()
	require.NoError(t, err)
	require.Equal(t, []string{
		"[2025-03-04 05:06:07] first",
		"[2025-03-04 05:06:08] second",
	}, lines)
}

func TestSinkPreviewIsRateLimited(t *testing.T) {
	sink, _, clock, logs := newTestSink(t, Config{Dir: "logs", PreviewInterval: time.Minute, PreviewLines: 8})

	require.NoError(t, sink.Append("1500 MK/s found: 0"))
	require.False(t, sink.MaybePreview("1 -> 11 (+4)", false))

	clock.advance(59 * time.Second)
	require.False(t, sink.MaybePreview("1 -> 11 (+4)", false))

	clock.advance(time.Second)
	require.True(t, sink.MaybePreview("1 -> 11 (+4)", false))
	require.False(t, sink.MaybePreview("1 -> 11 (+4)", false))

	entries := logs.FilterMessage("log preview").All()
	require.Len(t, entries, 1)
	require.Equal(t, "1 -> 11 (+4)", entries[0].ContextMap()["range"])
}

func TestSinkPreviewRedactsTarget(t *testing.T) {
	sink, _, _, _ := newTestSink(t, Config{Dir: "logs", PreviewLines: 8})

	for _, line := range []string{"1500 MK/s found: 1", "address: 1Decoy", "priv (wif): KxSecret", "priv (hex): 0xabc"} {
		require.NoError(t, sink.Append(line))
	}

	require.Equal(t, []string{"1500 MK/s found: 0", "address: 1Decoy"}, sink.Preview("r", true))
	require.Equal(t, []string{
		"1500 MK/s found: 1",
		"address: 1Decoy",
		"priv (wif): KxSecret",
		"priv (hex): 0xabc",
	}, sink.Preview("r", false))

	data, err := sink.ReadAll()
	require.NoError(t, err)
	require.Contains(t, string(data), "KxSecret")
}

func TestSinkScrubRemovesKeyLines(t *testing.T) {
	sink, _, _, _ := newTestSink(t, Config{Dir: "logs", PreviewLines: 8})

	for _, line := range []string{"found: 1", "address: 1Decoy", "Priv (WIF): KxSecret", "priv (hex): 0xabc", "tail"} {
		require.NoError(t, sink.Append(line))
	}
	require.NoError(t, sink.Scrub())

	data, err := sink.ReadAll()
	require.NoError(t, err)
	text := string(data)
	require.NotContains(t, text, "KxSecret")
	require.NotContains(t, text, "0xabc")
	require.Contains(t, text, "address: 1Decoy")
	require.True(t, strings.HasSuffix(strings.TrimSpace(text), ScrubMarker))

	require.NoError(t, sink.Append("after scrub"))
	lines, err := sink.Lines()
	require.NoError(t, err)
	require.Contains(t, lines[len(lines)-1], "after scrub")
}

func TestSinkScrubHandlesOverlongLines(t *testing.T) {
	sink, _, _, _ := newTestSink(t, Config{Dir: "logs", PreviewLines: 8})

	long := strings.Repeat("a", 1024*1024)
	require.NoError(t, sink.Append(long))
	require.NoError(t, sink.Append("priv (wif): KxSecret"))
	require.NoError(t, sink.Scrub())

	lines, err := sink.Lines()
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.True(t, strings.HasSuffix(lines[0], long))
	require.Contains(t, lines[1], ScrubMarker)
}

func TestSinkScrubWithoutLogIsNoop(t *testing.T) {
	sink, fs, _, _ := newTestSink(t, Config{Dir: "logs"})

	require.NoError(t, sink.Scrub())
	exists, err := afero.Exists(fs, sink.Path())
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSanitizeDeviceID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "gpu-1", sanitizeDeviceID("gpu-1"))
	require.Equal(t, "___etc", sanitizeDeviceID("../etc"))
}
