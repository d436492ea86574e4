package cmd

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(dir, "search.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755)) //nolint:gosec // test executable
	return path
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func readLogs(t *testing.T, dir string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "device_*.log"))
	require.NoError(t, err)
	var all strings.Builder
	for _, m := range matches {
		data, err := os.ReadFile(m)
		require.NoError(t, err)
		all.Write(data)
	}
	return all.String()
}

func TestParseDevices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{in: "0", want: []string{"0"}},
		{in: "0,1,2", want: []string{"0", "1", "2"}},
		{in: " 0 , 1,,1 ", want: []string{"0", "1"}},
		{in: ",", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseDevices(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got)
	}
}

func TestSingleCommandReportsFind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := writeScript(t, dir, `echo "1500 MK/s"
echo "found: 1"
echo "address: $7"
echo "priv (wif): KxTestKey"
`)
	logDir := filepath.Join(dir, "logs")

	out, err := execute(t, "single", "--executable", script, "--log-dir", logDir, "--development=false",
		"0", "1000", "12", "1TargetAddr")
	require.NoError(t, err)

	require.Contains(t, out, "status: done (exit code 0)")
	require.Contains(t, out, "address: 1TargetAddr")
	require.Contains(t, out, "priv (wif): KxTestKey")
	require.Contains(t, out, "range:  1000 -> 2000 (+12)")

	logs := readLogs(t, logDir)
	require.Contains(t, logs, "START BATCH - | CMD: "+script+" -gpuId 0 -start 1000 -range 12 1TargetAddr")
	require.Contains(t, logs, "found: 1")
}

func TestSingleCommandRedactedTargetHidesKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := writeScript(t, dir, `echo "found: 1"
echo "address: $7"
echo "priv (wif): KxDecoyKey"
`)
	logDir := filepath.Join(dir, "logs")

	out, err := execute(t, "single", "--executable", script, "--log-dir", logDir, "--development=false",
		"--redacted-target", "1Decoy", "0", "1000", "12", "1Decoy")
	require.NoError(t, err)

	require.Contains(t, out, "found:  0")
	require.NotContains(t, out, "KxDecoyKey")
	logs := readLogs(t, logDir)
	require.NotContains(t, logs, "KxDecoyKey")
	require.Contains(t, logs, "Continue next id.")
}

func TestSingleCommandFailureExitsNonZero(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := writeScript(t, dir, "echo 'CUDA error: invalid device'\nexit 2\n")

	out, err := execute(t, "single", "--executable", script, "--log-dir", filepath.Join(dir, "logs"),
		"--development=false", "0", "1000", "12", "1TargetAddr")
	require.ErrorIs(t, err, ErrSearchFailed)
	require.Contains(t, out, "status: error (exit code 2)")
}

func TestSingleCommandValidatesArgs(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "single", "--development=false", "0", "zz", "12", "1TargetAddr")
	require.Error(t, err)

	_, err = execute(t, "single", "--development=false", "0", "1000", "0", "1TargetAddr")
	require.ErrorContains(t, err, "range width")
}

func TestBatchCommandRunsMemoryTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := writeScript(t, dir, "echo \"1500 MK/s\"\n")
	logDir := filepath.Join(dir, "logs")
	cfgPath := writeConfig(t, dir, `
store:
  driver: memory
  seed:
    - {id: 1, start_range: "1000", end_range: "1fff"}
    - {id: 2, start_range: "2000", end_range: "2fff", status: done}
    - {id: 3, start_range: "3000", end_range: "3fff", status: error}
search:
  claim_pause: 0s
driver:
  poll_interval: 10ms
logging:
  development: false
`)

	_, err := execute(t, "batch", "--config", cfgPath, "--executable", script, "--log-dir", logDir,
		"0,1", "1", "1TargetAddr")
	require.NoError(t, err)

	logs := readLogs(t, logDir)
	require.Contains(t, logs, "START BATCH 1 |")
	require.NotContains(t, logs, "START BATCH 2 |")
	require.Contains(t, logs, "START BATCH 3 |")
}

func TestBatchCommandStopsOnFind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := writeScript(t, dir, "echo \"found: 1\"\necho \"priv (wif): KxFound\"\n")
	logDir := filepath.Join(dir, "logs")
	cfgPath := writeConfig(t, dir, `
store:
  driver: memory
  seed:
    - {id: 5, start_range: "1000", end_range: "1fff"}
    - {id: 6, start_range: "2000", end_range: "2fff"}
search:
  claim_pause: 0s
driver:
  poll_interval: 10ms
logging:
  development: false
`)

	_, err := execute(t, "batch", "--config", cfgPath, "--executable", script, "--log-dir", logDir,
		"0", "5", "1TargetAddr")
	require.NoError(t, err)

	logs := readLogs(t, logDir)
	require.Contains(t, logs, "START BATCH 5 |")
	require.NotContains(t, logs, "START BATCH 6 |")
}

func TestBatchCommandFindLetsOtherDevicesFinish(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := writeScript(t, dir, `if [ "$2" = "0" ]; then
  echo "found: 1"
  echo "priv (wif): KxFound"
else
  sleep 0.5
  echo "device $2 sub-range complete"
fi
`)
	logDir := filepath.Join(dir, "logs")
	cfgPath := writeConfig(t, dir, `
store:
  driver: memory
  seed:
    - {id: 5, start_range: "1000", end_range: "1fff"}
    - {id: 6, start_range: "2000", end_range: "2fff"}
search:
  claim_pause: 0s
driver:
  poll_interval: 10ms
logging:
  development: false
`)

	_, err := execute(t, "batch", "--config", cfgPath, "--executable", script, "--log-dir", logDir,
		"0,1", "5", "1TargetAddr")
	require.NoError(t, err)

	logs := readLogs(t, logDir)
	require.Contains(t, logs, "KxFound")
	require.Contains(t, logs, "device 1 sub-range complete")
}

func TestBatchCommandRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "batch", "--development=false", "0", "1", "1TargetAddr")
	require.ErrorContains(t, err, "store.dsn")
}

func TestBatchCommandValidatesArgs(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "batch", "--development=false", "--driver", "memory", "0", "abc", "1TargetAddr")
	require.ErrorContains(t, err, "start batch id")

	_, err = execute(t, "batch", "--development=false", "--driver", "memory", " , ", "1", "1TargetAddr")
	require.ErrorContains(t, err, "no device ids")
}
