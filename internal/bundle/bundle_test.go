package bundle

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pingsantohq/linkbench/internal/config"
	"github.com/pingsantohq/linkbench/internal/metrics"
	"github.com/pingsantohq/linkbench/internal/synth"
	"github.com/pingsantohq/linkbench/pkg/types"
)

var startedAt = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

type fixture struct {
	outDir       string
	configPath   string
	manifestPath string
	cfg          config.Config
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	tmp := t.TempDir()
	outDir := filepath.Join(tmp, "out")

	cfg := config.Default()
	cfg.Link.ConfigDir = filepath.Join(tmp, "link")
	params := types.Parameters{
		Bandwidth:       types.Bandwidth125kHz,
		CodingRate:      types.Coding4_5,
		SpreadingFactor: types.SpreadingFactor128,
	}
	if _, err := synth.New(cfg, "").WritePair(params); err != nil {
		t.Fatalf("write role documents: %v", err)
	}

	configPath := filepath.Join(tmp, "linkbench.yaml")
	if err := os.WriteFile(configPath, []byte("infrastructure:\n  mqtt:\n    password: hunter2\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatalf("mkdir out: %v", err)
	}
	reportPath := filepath.Join(outDir, "lora_communication_stats_20240517093000.csv")
	if err := os.WriteFile(reportPath, []byte("Bandwidth,Coding Rate,Spreading Factor,Packages Sent,Packages Received,CRC Errors\n"), 0o640); err != nil {
		t.Fatalf("write report: %v", err)
	}
	logPath := filepath.Join(outDir, "lora_communication_log_20240517093000.log")
	if err := os.WriteFile(logPath, []byte("trial complete\n"), 0o640); err != nil {
		t.Fatalf("write log: %v", err)
	}

	store := metrics.NewStore()
	store.SetRun("run-1", "sweep")
	store.TrialRecorder().ObserveTrial(types.Counts{Sent: 5, Received: 4, CRCErrors: 1}, time.Second)
	metricsPath, err := store.WriteSnapshot(ctx, outDir, startedAt)
	if err != nil {
		t.Fatalf("write metrics: %v", err)
	}

	manifestPath, err := config.SaveManifest(ctx, outDir, config.Manifest{
		RunID:       "run-1",
		Mode:        "sweep",
		StartedAt:   startedAt,
		Trials:      1,
		ReportPath:  reportPath,
		LogPath:     logPath,
		MetricsPath: metricsPath,
	})
	if err != nil {
		t.Fatalf("save manifest: %v", err)
	}
	return fixture{outDir: outDir, configPath: configPath, manifestPath: manifestPath, cfg: cfg}
}

func readBundle(t *testing.T, path string) (map[string]string, bundleInfo) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gzr.Close()

	entries := make(map[string]string)
	var info bundleInfo
	tr := tar.NewReader(gzr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read tar: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("read %s: %v", hdr.Name, err)
		}
		entries[hdr.Name] = string(data)
		if hdr.Name == infoFileName {
			if err := json.Unmarshal(data, &info); err != nil {
				t.Fatalf("decode info: %v", err)
			}
		}
	}
	return entries, info
}

func TestBuildCollectsRunArtifacts(t *testing.T) {
	fx := newFixture(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("linkbench_trials_completed_total 9\n"))
	}))
	defer ts.Close()

	path, err := Build(context.Background(), Options{
		ManifestPath: fx.manifestPath,
		ConfigPath:   fx.configPath,
		Config:       fx.cfg,
		MetricsURL:   ts.URL,
		Redact:       true,
	}, Dependencies{HTTPClient: ts.Client()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if want := filepath.Join(fx.outDir, "bundle_20240517093000.tar.gz"); path != want {
		t.Fatalf("bundle path = %s, want %s", path, want)
	}

	entries, info := readBundle(t, path)
	for _, name := range []string{
		"run/run_20240517093000.yaml",
		"run/lora_communication_stats_20240517093000.csv",
		"run/lora_communication_log_20240517093000.log",
		"run/metrics_20240517093000.prom",
		"config/linkbench.yaml",
		"link/tx_conf.ron",
		"link/rx_conf.ron",
		"observability/metrics.prom",
		infoFileName,
	} {
		if _, ok := entries[name]; !ok {
			t.Fatalf("missing entry %s", name)
		}
	}

	if strings.Contains(entries["config/linkbench.yaml"], "hunter2") {
		t.Fatalf("config not redacted: %s", entries["config/linkbench.yaml"])
	}
	if strings.Contains(entries["link/tx_conf.ron"], "verysecurepassword") {
		t.Fatalf("role document not redacted: %s", entries["link/tx_conf.ron"])
	}
	if !strings.Contains(entries["link/tx_conf.ron"], "bandwidth: bandwidth_125kHz") {
		t.Fatalf("role document lost radio settings: %s", entries["link/tx_conf.ron"])
	}
	if !strings.Contains(entries["observability/metrics.prom"], "linkbench_trials_completed_total 9") {
		t.Fatalf("unexpected scraped metrics: %s", entries["observability/metrics.prom"])
	}

	if info.RunID != "run-1" || info.Mode != "sweep" || info.Trials != 1 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if !info.Redacted {
		t.Fatalf("expected redacted flag true")
	}
	if info.Metrics == nil || info.Metrics.PacketsSent == nil || *info.Metrics.PacketsSent != 5 {
		t.Fatalf("unexpected metrics summary: %+v", info.Metrics)
	}
	if info.Metrics.CRCErrors == nil || *info.Metrics.CRCErrors != 1 {
		t.Fatalf("unexpected crc summary: %+v", info.Metrics)
	}
	if len(info.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", info.Warnings)
	}
}

func TestBuildWarnsOnMissingArtifacts(t *testing.T) {
	fx := newFixture(t)
	if err := os.Remove(filepath.Join(fx.outDir, "lora_communication_log_20240517093000.log")); err != nil {
		t.Fatalf("remove log: %v", err)
	}
	cfg := fx.cfg
	cfg.Link.ConfigDir = t.TempDir()

	output := filepath.Join(t.TempDir(), "custom.tar.gz")
	path, err := Build(context.Background(), Options{
		ManifestPath: fx.manifestPath,
		OutputPath:   output,
		Config:       cfg,
	}, Dependencies{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if path != output {
		t.Fatalf("bundle path = %s, want %s", path, output)
	}
	_, info := readBundle(t, path)
	if len(info.Warnings) != 3 {
		t.Fatalf("expected warnings for log and both role documents, got %v", info.Warnings)
	}
}

func TestBuildRequiresManifest(t *testing.T) {
	tmp := t.TempDir()
	_, err := Build(context.Background(), Options{ManifestPath: filepath.Join(tmp, "run_missing.yaml")}, Dependencies{})
	if err == nil {
		t.Fatalf("expected error for missing manifest")
	}
	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no bundle to be written, found %d entries", len(entries))
	}
}

func TestRedactSensitive(t *testing.T) {
	input := []byte(`password: "p456", login: "admin", token=abc secret=s123 password=xyz`)
	out := string(redactSensitive(input))
	checks := []string{
		`password: "` + redactedMarker,
		`login: "` + redactedMarker,
		"token=" + redactedMarker,
		"secret=" + redactedMarker,
		"password=" + redactedMarker,
	}
	for _, c := range checks {
		if !strings.Contains(out, c) {
			t.Fatalf("expected %q in output: %s", c, out)
		}
	}
	for _, leaked := range []string{"p456", "admin", "abc", "s123", "xyz"} {
		if strings.Contains(out, leaked) {
			t.Fatalf("redaction incomplete (%s): %s", leaked, out)
		}
	}
}
