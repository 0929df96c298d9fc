// Package bundle packs the artifacts of one run into a tar.gz archive that
// can be handed to someone who was not at the bench.
package bundle

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pingsantohq/linkbench/internal/config"
	"github.com/pingsantohq/linkbench/pkg/types"
)

const (
	defaultOutputPrefix = "bundle_"
	infoFileName        = "bundle/info.json"
	runDirName          = "run"
	configDirName       = "config"
	linkDirName         = "link"
	observabilityDir    = "observability"

	redactedMarker = "REDACTED"
)

var (
	// key=value and key: value forms, optionally quoted, as found in logs,
	// the harness YAML and the generated role documents.
	passwordPattern = regexp.MustCompile(`(?i)(password\s*[:=]\s*"?)([^"\s,&']+)`)
	loginPattern    = regexp.MustCompile(`(?i)(login\s*[:=]\s*"?)([^"\s,&']+)`)
	tokenPattern    = regexp.MustCompile(`(?i)(token=)([^&\s"']+)`)
	secretPattern   = regexp.MustCompile(`(?i)(secret=)([^&\s"']+)`)
)

// Options selects what goes into the bundle.
type Options struct {
	ManifestPath string
	// OutputPath defaults to bundle_<ts>.tar.gz next to the manifest.
	OutputPath string
	// ConfigPath is the harness configuration file, included when set.
	ConfigPath string
	// Config locates the role documents.
	Config config.Config
	// MetricsURL, when set, is scraped and stored alongside the snapshot.
	MetricsURL     string
	MetricsTimeout time.Duration
	Redact         bool
}

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Now        func() time.Time
	HTTPClient *http.Client
}

// Build writes the bundle and returns its path. Missing optional artifacts
// become warnings in the bundle's info file; a missing manifest is an error.
func Build(ctx context.Context, opts Options, deps Dependencies) (path string, err error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	manifest, err := config.LoadManifest(ctx, opts.ManifestPath)
	if err != nil {
		return "", err
	}

	now := deps.Now().UTC()
	outPath := opts.OutputPath
	if outPath == "" {
		filename := fmt.Sprintf("%s%s.tar.gz", defaultOutputPrefix, manifest.StartedAt.Format(config.TimestampLayout))
		outPath = filepath.Join(filepath.Dir(opts.ManifestPath), filename)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure output directory %q: %w", filepath.Dir(outPath), err)
	}

	info := bundleInfo{
		GeneratedAt: now.Format(time.RFC3339),
		OutputPath:  outPath,
		RunID:       manifest.RunID,
		Mode:        manifest.Mode,
		Trials:      manifest.Trials,
		LastError:   manifest.LastError,
		Redacted:    opts.Redact,
		Warnings:    make([]string, 0, 4),
		GoVersion:   runtime.Version(),
	}

	outFile, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create bundle file %q: %w", outPath, err)
	}
	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)
	defer func() {
		// Close in reverse order; the first failure wins.
		for _, c := range []io.Closer{tw, gw, outFile} {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("finalize bundle %q: %w", outPath, cerr)
			}
		}
		if err != nil {
			_ = os.Remove(outPath)
			path = ""
		}
	}()

	if err := addFile(tw, opts.ManifestPath, runName(opts.ManifestPath), opts.Redact); err != nil {
		return "", err
	}

	for _, artifact := range []struct{ label, path string }{
		{"report", manifest.ReportPath},
		{"log", manifest.LogPath},
		{"metrics snapshot", manifest.MetricsPath},
	} {
		if artifact.path == "" {
			info.Warnings = append(info.Warnings, fmt.Sprintf("manifest names no %s", artifact.label))
			continue
		}
		if err := addOptional(tw, artifact.path, runName(artifact.path), opts.Redact); err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("%s unavailable: %v", artifact.label, err))
		}
	}

	if manifest.MetricsPath != "" {
		if data, err := os.ReadFile(manifest.MetricsPath); err == nil {
			summary, warns := summarizeMetrics(data, manifest.MetricsPath)
			info.Metrics = summary
			info.Warnings = append(info.Warnings, warns...)
		}
	}

	if opts.ConfigPath != "" {
		name := filepath.ToSlash(filepath.Join(configDirName, filepath.Base(opts.ConfigPath)))
		if err := addOptional(tw, opts.ConfigPath, name, opts.Redact); err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("config %q unavailable: %v", opts.ConfigPath, err))
		} else {
			info.ConfigPath = opts.ConfigPath
		}
	}

	// The role documents on disk are those of the run's last trial.
	configDir := opts.Config.Link.ConfigDir
	if configDir == "" {
		configDir = "."
	}
	ext := opts.Config.Link.Extension()
	for _, role := range []types.Role{types.RoleTransmit, types.RoleReceive} {
		src := filepath.Join(configDir, role.ConfigBaseName()+ext)
		name := filepath.ToSlash(filepath.Join(linkDirName, filepath.Base(src)))
		if err := addOptional(tw, src, name, opts.Redact); err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("%s document unavailable: %v", role, err))
		}
	}

	if opts.MetricsURL != "" {
		data, err := scrapeMetrics(ctx, deps.HTTPClient, opts.MetricsURL, opts.MetricsTimeout)
		if err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("metrics scrape failed: %v", err))
		} else if err := addBytes(tw, data, filepath.ToSlash(filepath.Join(observabilityDir, "metrics.prom"))); err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("failed to include metrics scrape: %v", err))
		}
	}

	if err := writeInfo(tw, info); err != nil {
		return "", err
	}
	return outPath, nil
}

func runName(path string) string {
	return filepath.ToSlash(filepath.Join(runDirName, filepath.Base(path)))
}

func addOptional(tw *tar.Writer, src, name string, redact bool) error {
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%q does not exist", src)
		}
		return err
	}
	return addFile(tw, src, name, redact)
}

func writeInfo(tw *tar.Writer, info bundleInfo) error {
	payload, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bundle info: %w", err)
	}
	return addBytes(tw, payload, infoFileName)
}

func addBytes(tw *tar.Writer, data []byte, name string) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %q: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar content for %q: %w", name, err)
	}
	return nil
}

func addFile(tw *tar.Writer, src, name string, redact bool) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %q: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%q is not a regular file", src)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %q: %w", src, err)
	}
	if redact && shouldRedactFile(src) {
		data = redactSensitive(data)
	}
	header := &tar.Header{
		Name:    name,
		Mode:    int64(info.Mode().Perm()),
		Size:    int64(len(data)),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header for %q: %w", src, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("copy %q: %w", src, err)
	}
	return nil
}

func shouldRedactFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".log", ".txt", ".json", ".yaml", ".yml", ".csv", ".ron", ".toml":
		return true
	default:
		return false
	}
}

func redactSensitive(data []byte) []byte {
	text := string(data)
	for _, pattern := range []*regexp.Regexp{passwordPattern, loginPattern, tokenPattern, secretPattern} {
		text = applyRedaction(pattern, text)
	}
	return []byte(text)
}

func applyRedaction(pattern *regexp.Regexp, text string) string {
	return pattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := pattern.FindStringSubmatch(match)
		if len(sub) >= 2 {
			return sub[1] + redactedMarker
		}
		return redactedMarker
	})
}

func scrapeMetrics(ctx context.Context, client *http.Client, url string, timeout time.Duration) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func summarizeMetrics(data []byte, source string) (*metricsSummary, []string) {
	summary := &metricsSummary{Source: source}
	targets := map[string]**uint64{
		"linkbench_trials_completed_total": &summary.TrialsCompleted,
		"linkbench_packets_sent_total":     &summary.PacketsSent,
		"linkbench_packets_received_total": &summary.PacketsReceived,
		"linkbench_crc_errors_total":       &summary.CRCErrors,
		"linkbench_forced_kills_total":     &summary.ForcedKills,
	}
	var warnings []string
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		dst, ok := targets[fields[0]]
		if !ok {
			continue
		}
		val, err := parseMetricValue(line, fields[0])
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("parse %s: %v", fields[0], err))
			continue
		}
		v := uint64(val)
		*dst = &v
	}
	return summary, warnings
}

func parseMetricValue(line, name string) (float64, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("invalid metric line %q", line)
	}
	if fields[0] != name {
		return 0, fmt.Errorf("expected metric %s, got %s", name, fields[0])
	}
	return strconv.ParseFloat(fields[1], 64)
}

type bundleInfo struct {
	GeneratedAt string          `json:"generated_at"`
	OutputPath  string          `json:"output_path"`
	RunID       string          `json:"run_id"`
	Mode        string          `json:"mode"`
	Trials      int             `json:"trials"`
	LastError   string          `json:"last_error,omitempty"`
	ConfigPath  string          `json:"config_path,omitempty"`
	Metrics     *metricsSummary `json:"metrics,omitempty"`
	Redacted    bool            `json:"redacted"`
	Warnings    []string        `json:"warnings,omitempty"`
	GoVersion   string          `json:"go_version"`
}

type metricsSummary struct {
	Source          string  `json:"source"`
	TrialsCompleted *uint64 `json:"trials_completed,omitempty"`
	PacketsSent     *uint64 `json:"packets_sent,omitempty"`
	PacketsReceived *uint64 `json:"packets_received,omitempty"`
	CRCErrors       *uint64 `json:"crc_errors,omitempty"`
	ForcedKills     *uint64 `json:"forced_kills,omitempty"`
}
