package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/pingsantohq/linkbench/internal/config"
	"github.com/pingsantohq/linkbench/internal/logging"
	"github.com/pingsantohq/linkbench/pkg/types"
)

const logPrefix = "lora_communication_log_"

// ProgressLog is the per-run text log: one line per completed trial.
type ProgressLog struct {
	logger *zap.Logger
	file   *os.File
	path   string
}

func LogPath(dir string, startedAt time.Time) string {
	return filepath.Join(dir, logPrefix+startedAt.Format(config.TimestampLayout)+".log")
}

func OpenLog(dir string, startedAt time.Time, runID string) (*ProgressLog, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("ensure log dir %q: %w", dir, err)
	}
	path := LogPath(dir, startedAt)
	logger, f, err := logging.NewFile(path)
	if err != nil {
		return nil, err
	}
	if runID != "" {
		logger = logger.With(zap.String("run_id", runID))
	}
	return &ProgressLog{logger: logger, file: f, path: path}, nil
}

func (l *ProgressLog) Path() string { return l.path }

// Record writes the trial's parameters (when present) and counts.
func (l *ProgressLog) Record(res types.TrialResult) {
	fields := make([]zap.Field, 0, 7)
	if res.Parameters != nil {
		fields = append(fields,
			zap.String("bandwidth", string(res.Parameters.Bandwidth)),
			zap.String("coding_rate", string(res.Parameters.CodingRate)),
			zap.String("spreading_factor", string(res.Parameters.SpreadingFactor)),
		)
	} else {
		fields = append(fields, zap.String("duration_s", FormatSeconds(res.Duration)))
	}
	fields = append(fields,
		zap.Uint64("sent", res.Sent),
		zap.Uint64("received", res.Received),
		zap.Uint64("crc_errors", res.CRCErrors),
	)
	l.logger.Info("trial complete", fields...)
}

func (l *ProgressLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = l.logger.Sync()
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("close log %q: %w", l.path, err)
	}
	return nil
}
