package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pingsantohq/linkbench/internal/config"
)

const fakeLink = `#!/bin/sh
case "$1" in
  *tx_conf*) printf 'Packet sent.\nPacket sent.\n' ;;
  *rx_conf*) printf 'Received\nCRC Error\n' ;;
esac
trap 'exit 0' TERM
while :; do sleep 0.05; done
`

var startedAt = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

func testDeps(stdout, stderr *bytes.Buffer) Dependencies {
	return Dependencies{
		Stdout:    stdout,
		Stderr:    stderr,
		Now:       func() time.Time { return startedAt },
		NewLogger: func(bool) (*zap.Logger, error) { return zap.NewNop(), nil },
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, _, err := executeWithStderr(t, args...)
	return stdout, err
}

func executeWithStderr(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(testDeps(&stdout, &stderr))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// inTempDir runs the test from an empty working directory so that the
// default output locations land somewhere disposable.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
	t.Setenv("LINKBENCH_CONFIG", "")
	return dir
}

func writeFakeLink(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fakes require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-link")
	require.NoError(t, os.WriteFile(path, []byte(fakeLink), 0o755))
	return path
}

func writeHarnessConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linkbench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestWrongArgumentCount(t *testing.T) {
	cases := [][]string{
		{"sweep"},
		{"sweep", "/opt/link", "0.1", "extra"},
		{"stress"},
		{"stress", "0.1"},
		{"stress", "0.1", "/opt/link", "extra"},
		{"make-config"},
		{"make-config", "bandwidth_125kHz", "coding_4_5"},
		{"make-config", "bandwidth_125kHz", "coding_4_5", "spreading_factor_128", "extra"},
		{"bundle"},
		{"bundle", "run_a.yaml", "run_b.yaml"},
	}
	for _, args := range cases {
		t.Run(strings.Join(args, "_"), func(t *testing.T) {
			dir := inTempDir(t)
			stdout, stderr, err := executeWithStderr(t, args...)
			require.Error(t, err)
			require.Contains(t, stderr, "Usage:")
			require.Contains(t, stderr, "linkbench "+args[0])
			require.NotContains(t, stdout, "Usage:")
			requireEmptyDir(t, dir)
		})
	}
}

func TestRunFailureDoesNotPrintUsage(t *testing.T) {
	inTempDir(t)
	_, stderr, err := executeWithStderr(t, "make-config", "bandwidth_999kHz", "coding_4_5", "spreading_factor_128")
	require.Error(t, err)
	require.NotContains(t, stderr, "Usage:")
}

func TestUnknownFlagPrintsUsage(t *testing.T) {
	dir := inTempDir(t)
	_, stderr, err := executeWithStderr(t, "sweep", "--no-such-flag", "/opt/link")
	require.Error(t, err)
	require.Contains(t, stderr, "Usage:")
	requireEmptyDir(t, dir)
}

func TestInvalidObservationWritesNothing(t *testing.T) {
	dir := inTempDir(t)
	_, err := execute(t, "stress", "soon", "/opt/link")
	require.Error(t, err)
	_, err = execute(t, "sweep", "/opt/link", "-1")
	require.Error(t, err)
	requireEmptyDir(t, dir)
}

func TestMakeConfig(t *testing.T) {
	dir := inTempDir(t)
	out, err := execute(t, "make-config", "bandwidth_250kHz", "coding_4_7", "spreading_factor_1024")
	require.NoError(t, err)
	require.Contains(t, out, "tx_conf.ron")
	require.Contains(t, out, "rx_conf.ron")

	tx, err := os.ReadFile(filepath.Join(dir, "tx_conf.ron"))
	require.NoError(t, err)
	require.Contains(t, string(tx), "bandwidth: bandwidth_250kHz")
	require.Contains(t, string(tx), "mode: TX")

	rx, err := os.ReadFile(filepath.Join(dir, "rx_conf.ron"))
	require.NoError(t, err)
	require.Contains(t, string(rx), "spreading_factor: spreading_factor_1024")
	require.Contains(t, string(rx), "mode: RX")
}

func TestMakeConfigRejectsUnknownTag(t *testing.T) {
	dir := inTempDir(t)
	_, err := execute(t, "make-config", "bandwidth_999kHz", "coding_4_5", "spreading_factor_128")
	require.Error(t, err)
	requireEmptyDir(t, dir)
}

func TestMakeConfigTOMLDialect(t *testing.T) {
	inTempDir(t)
	cfgPath := writeHarnessConfig(t, "link:\n  dialect: toml\n")
	configDir := t.TempDir()

	_, err := execute(t, "--config", cfgPath, "make-config", "--config-dir", configDir,
		"bandwidth_125kHz", "coding_4_5", "spreading_factor_128")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(configDir, "tx_conf.toml"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(configDir, "rx_conf.toml"))
	require.NoError(t, err)
}

func TestSweepEndToEnd(t *testing.T) {
	dir := inTempDir(t)
	exe := writeFakeLink(t)
	cfgPath := writeHarnessConfig(t, `
sweep:
  bandwidths: [bandwidth_125kHz]
  coding_rates: [coding_4_5]
  spreading_factors: [spreading_factor_128, spreading_factor_256]
run:
  termination_grace: 2s
`)
	outDir := filepath.Join(dir, "out")

	out, err := execute(t, "--config", cfgPath, "sweep", "--output-dir", outDir, exe, "0.3")
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(out, "Did: "))

	ts := startedAt.Format(config.TimestampLayout)
	csvData, err := os.ReadFile(filepath.Join(outDir, "lora_communication_stats_"+ts+".csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "Bandwidth,Coding Rate,Spreading Factor,Packages Sent,Packages Received,CRC Errors", lines[0])
	require.Equal(t, "bandwidth_125kHz,coding_4_5,spreading_factor_128,2,1,1", lines[1])
	require.Equal(t, "bandwidth_125kHz,coding_4_5,spreading_factor_256,2,1,1", lines[2])

	logData, err := os.ReadFile(filepath.Join(outDir, "lora_communication_log_"+ts+".log"))
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(string(logData), "trial complete"))

	manifest, err := config.LoadManifest(context.Background(), config.ManifestPath(outDir, startedAt))
	require.NoError(t, err)
	require.Equal(t, "sweep", manifest.Mode)
	require.Equal(t, 2, manifest.Trials)
	require.Equal(t, 300*time.Millisecond, manifest.Observation)
	require.Empty(t, manifest.LastError)
	require.NotEmpty(t, manifest.RunID)

	metricsData, err := os.ReadFile(manifest.MetricsPath)
	require.NoError(t, err)
	require.Contains(t, string(metricsData), "linkbench_packets_sent_total 4")

	// role documents land in the default config dir
	_, err = os.Stat(filepath.Join(dir, "tx_conf.ron"))
	require.NoError(t, err)

	out, err = execute(t, "--config", cfgPath, "bundle", config.ManifestPath(outDir, startedAt))
	require.NoError(t, err)
	require.Contains(t, out, "bundle_"+ts+".tar.gz")
	_, err = os.Stat(filepath.Join(outDir, "bundle_"+ts+".tar.gz"))
	require.NoError(t, err)
}

func TestStressEndToEnd(t *testing.T) {
	cases := []struct {
		arg  string
		want string
	}{
		{arg: "0.1", want: "0.1"},
		{arg: "0.105", want: "0.105"},
		{arg: "1e-10", want: "0.0000000001"},
	}
	for _, tc := range cases {
		t.Run(tc.arg, func(t *testing.T) {
			dir := inTempDir(t)
			exe := writeFakeLink(t)

			out, err := execute(t, "stress", tc.arg, exe)
			require.NoError(t, err)
			require.Contains(t, out, "for "+tc.want+"s")

			ts := startedAt.Format(config.TimestampLayout)
			csvData, err := os.ReadFile(filepath.Join(dir, "tmp", "lora_communication_stats_"+ts+".csv"))
			require.NoError(t, err)
			lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
			require.Len(t, lines, 2)
			require.Equal(t, "Packages Sent,Packages Received,CRC Errors,Time (s)", lines[0])
			fields := strings.Split(lines[1], ",")
			require.Len(t, fields, 4)
			require.Equal(t, tc.want, fields[3])
		})
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	inTempDir(t)
	cfgPath := writeHarnessConfig(t, "link:\n  dialect: toml\n")
	t.Setenv("LINKBENCH_CONFIG", cfgPath)
	configDir := t.TempDir()

	_, err := execute(t, "make-config", "--config-dir", configDir, "bandwidth_125kHz", "coding_4_5", "spreading_factor_128")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(configDir, "tx_conf.toml"))
	require.NoError(t, err)
}

func TestUnreadablePublicKeyAbortsBeforeOutput(t *testing.T) {
	dir := inTempDir(t)
	cfgPath := writeHarnessConfig(t, "link:\n  public_key_path: /nonexistent/link.pub\n")

	_, err := execute(t, "--config", cfgPath, "sweep", "/opt/link")
	require.Error(t, err)
	requireEmptyDir(t, dir)
}

func TestParseSeconds(t *testing.T) {
	s, err := parseSeconds("0.1")
	require.NoError(t, err)
	require.Equal(t, 0.1, s)

	s, err = parseSeconds("1.005")
	require.NoError(t, err)
	require.Equal(t, 1.005, s)

	for _, raw := range []string{"", "abc", "-0.5", "NaN", "Inf"} {
		_, err := parseSeconds(raw)
		require.Error(t, err, raw)
	}
}
