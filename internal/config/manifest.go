package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest records what a run did, next to the report it produced.
type Manifest struct {
	RunID       string        `yaml:"run_id"`
	Mode        string        `yaml:"mode"`
	Executable  string        `yaml:"executable"`
	Dialect     string        `yaml:"dialect"`
	Observation time.Duration `yaml:"observation"`
	StartedAt   time.Time     `yaml:"started_at"`
	FinishedAt  time.Time     `yaml:"finished_at,omitempty"`
	Trials      int           `yaml:"trials"`
	ReportPath  string        `yaml:"report_path"`
	LogPath     string        `yaml:"log_path"`
	MetricsPath string        `yaml:"metrics_path,omitempty"`
	LastError   string        `yaml:"last_error,omitempty"`
}

func ManifestPath(dir string, startedAt time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("run_%s.yaml", startedAt.Format(TimestampLayout)))
}

// TimestampLayout is shared by every artifact name of a run.
const TimestampLayout = "20060102150405"

func SaveManifest(ctx context.Context, dir string, manifest Manifest) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("ensure manifest dir %q: %w", dir, err)
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	path := ManifestPath(dir, manifest.StartedAt)
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func LoadManifest(ctx context.Context, path string) (Manifest, error) {
	var manifest Manifest

	data, err := os.ReadFile(path)
	if err != nil {
		return manifest, fmt.Errorf("read manifest %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return manifest, fmt.Errorf("parse manifest %q: %w", path, err)
	}
	return manifest, nil
}
