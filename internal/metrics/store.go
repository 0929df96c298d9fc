package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pingsantohq/linkbench/internal/config"
	"github.com/pingsantohq/linkbench/pkg/types"
)

// Store maintains in-memory counters for a benchmark run.
type Store struct {
	runID           atomic.Value
	mode            atomic.Value
	trialsCompleted atomic.Uint64
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	crcErrors       atomic.Uint64
	forcedKills     atomic.Uint64
	lastTrialNanos  atomic.Int64
	lastCompletedNs atomic.Int64
}

// NewStore constructs a Store with zeroed metrics.
func NewStore() *Store {
	store := &Store{}
	store.runID.Store("")
	store.mode.Store("")
	return store
}

// SetRun labels the store with the run identifier and mode.
func (s *Store) SetRun(runID, mode string) {
	s.runID.Store(runID)
	s.mode.Store(mode)
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	RunID              string
	Mode               string
	TrialsCompleted    uint64
	PacketsSent        uint64
	PacketsReceived    uint64
	CRCErrors          uint64
	ForcedKills        uint64
	LastTrialDuration  time.Duration
	LastTrialCompleted time.Time
}

// Snapshot returns a point-in-time copy of the metrics.
func (s *Store) Snapshot() Snapshot {
	runID, _ := s.runID.Load().(string)
	mode, _ := s.mode.Load().(string)
	snap := Snapshot{
		RunID:             runID,
		Mode:              mode,
		TrialsCompleted:   s.trialsCompleted.Load(),
		PacketsSent:       s.packetsSent.Load(),
		PacketsReceived:   s.packetsReceived.Load(),
		CRCErrors:         s.crcErrors.Load(),
		ForcedKills:       s.forcedKills.Load(),
		LastTrialDuration: time.Duration(s.lastTrialNanos.Load()),
	}
	if ns := s.lastCompletedNs.Load(); ns > 0 {
		snap.LastTrialCompleted = time.Unix(0, ns).UTC()
	}
	return snap
}

// TrialRecorder returns an implementation of TrialRecorder backed by the store.
func (s *Store) TrialRecorder() TrialRecorder {
	return trialRecorder{store: s}
}

type trialRecorder struct {
	store *Store
}

func (r trialRecorder) ObserveTrial(counts types.Counts, elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}
	r.store.trialsCompleted.Add(1)
	r.store.packetsSent.Add(counts.Sent)
	r.store.packetsReceived.Add(counts.Received)
	r.store.crcErrors.Add(counts.CRCErrors)
	r.store.lastTrialNanos.Store(int64(elapsed))
	r.store.lastCompletedNs.Store(time.Now().UnixNano())
}

func (r trialRecorder) IncForcedKills() {
	r.store.forcedKills.Add(1)
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	runID := snap.RunID
	if runID == "" {
		runID = "unknown"
	}
	mode := snap.Mode
	if mode == "" {
		mode = "unknown"
	}
	lines := []string{
		"# HELP linkbench_run_info Identifier and mode of the current run.",
		"# TYPE linkbench_run_info gauge",
		fmt.Sprintf("linkbench_run_info{run_id=%q,mode=%q} 1", runID, mode),
		"# HELP linkbench_trials_completed_total Trials whose row reached the report.",
		"# TYPE linkbench_trials_completed_total counter",
		fmt.Sprintf("linkbench_trials_completed_total %d", snap.TrialsCompleted),
		"# HELP linkbench_packets_sent_total Sent markers counted in transmit captures.",
		"# TYPE linkbench_packets_sent_total counter",
		fmt.Sprintf("linkbench_packets_sent_total %d", snap.PacketsSent),
		"# HELP linkbench_packets_received_total Received markers counted in receive captures.",
		"# TYPE linkbench_packets_received_total counter",
		fmt.Sprintf("linkbench_packets_received_total %d", snap.PacketsReceived),
		"# HELP linkbench_crc_errors_total CRC error markers counted in receive captures.",
		"# TYPE linkbench_crc_errors_total counter",
		fmt.Sprintf("linkbench_crc_errors_total %d", snap.CRCErrors),
		"# HELP linkbench_forced_kills_total Link processes killed after ignoring termination.",
		"# TYPE linkbench_forced_kills_total counter",
		fmt.Sprintf("linkbench_forced_kills_total %d", snap.ForcedKills),
		"# HELP linkbench_last_trial_duration_seconds Wall time of the most recent trial.",
		"# TYPE linkbench_last_trial_duration_seconds gauge",
		fmt.Sprintf("linkbench_last_trial_duration_seconds %g", snap.LastTrialDuration.Seconds()),
		"# HELP linkbench_last_trial_timestamp_seconds Unix time the most recent trial completed.",
		"# TYPE linkbench_last_trial_timestamp_seconds gauge",
	}
	if snap.LastTrialCompleted.IsZero() {
		lines = append(lines, "linkbench_last_trial_timestamp_seconds 0")
	} else {
		lines = append(lines, fmt.Sprintf("linkbench_last_trial_timestamp_seconds %d", snap.LastTrialCompleted.Unix()))
	}
	lines = append(lines, "")
	_, err := io.WriteString(w, strings.Join(lines, "\n"))
	return err
}

// SnapshotPath names the metrics snapshot for a run started at t.
func SnapshotPath(dir string, t time.Time) string {
	return filepath.Join(dir, "metrics_"+t.Format(config.TimestampLayout)+".prom")
}

// WriteSnapshot persists the Prometheus rendering next to the run's report.
func (s *Store) WriteSnapshot(ctx context.Context, dir string, startedAt time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create metrics dir %q: %w", dir, err)
	}
	var sb strings.Builder
	if err := s.WritePrometheus(&sb); err != nil {
		return "", err
	}
	path := SnapshotPath(dir, startedAt)
	if err := config.WriteFileAtomic(path, []byte(sb.String())); err != nil {
		return "", fmt.Errorf("write metrics snapshot: %w", err)
	}
	return path, nil
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
