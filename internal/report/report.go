// Package report persists trial results as a CSV table and a plain-text
// progress log, both named after the run's start time.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pingsantohq/linkbench/internal/config"
	"github.com/pingsantohq/linkbench/pkg/types"
)

const (
	reportPrefix = "lora_communication_stats_"
	reportSuffix = ".csv"
)

// Kind selects the column set.
type Kind int

const (
	KindSweep Kind = iota
	KindStress
)

func (k Kind) String() string {
	if k == KindStress {
		return "stress"
	}
	return "sweep"
}

var (
	sweepHeader  = []string{"Bandwidth", "Coding Rate", "Spreading Factor", "Packages Sent", "Packages Received", "CRC Errors"}
	stressHeader = []string{"Packages Sent", "Packages Received", "CRC Errors", "Time (s)"}
)

// ErrMissingParameters is returned when a sweep row has no parameter triple.
var ErrMissingParameters = errors.New("sweep result requires parameters")

// Writer appends one flushed row per trial.
type Writer struct {
	file *os.File
	csv  *csv.Writer
	kind Kind
	path string
	rows int
}

// Path returns where the report for a run started at startedAt lives.
func Path(dir string, startedAt time.Time) string {
	return filepath.Join(dir, reportPrefix+startedAt.Format(config.TimestampLayout)+reportSuffix)
}

// Open creates the report exclusively and writes its header.
func Open(dir string, kind Kind, startedAt time.Time) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("ensure report dir %q: %w", dir, err)
	}
	path := Path(dir, startedAt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create report %q: %w", path, err)
	}

	w := &Writer{file: f, csv: csv.NewWriter(f), kind: kind, path: path}
	header := sweepHeader
	if kind == KindStress {
		header = stressHeader
	}
	if err := w.writeRecord(header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) Path() string { return w.path }

// Rows is the number of result rows written, excluding the header.
func (w *Writer) Rows() int { return w.rows }

// Write appends res and flushes it to disk before returning.
func (w *Writer) Write(res types.TrialResult) error {
	var record []string
	switch w.kind {
	case KindSweep:
		if res.Parameters == nil {
			return ErrMissingParameters
		}
		record = []string{
			string(res.Parameters.Bandwidth),
			string(res.Parameters.CodingRate),
			string(res.Parameters.SpreadingFactor),
			strconv.FormatUint(res.Sent, 10),
			strconv.FormatUint(res.Received, 10),
			strconv.FormatUint(res.CRCErrors, 10),
		}
	case KindStress:
		record = []string{
			strconv.FormatUint(res.Sent, 10),
			strconv.FormatUint(res.Received, 10),
			strconv.FormatUint(res.CRCErrors, 10),
			FormatSeconds(res.Duration),
		}
	}
	if err := w.writeRecord(record); err != nil {
		return err
	}
	w.rows++
	return nil
}

func (w *Writer) writeRecord(record []string) error {
	if err := w.csv.Write(record); err != nil {
		return fmt.Errorf("write report row %q: %w", w.path, err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flush report %q: %w", w.path, err)
	}
	return nil
}

func (w *Writer) Close() error {
	if w == nil || w.file == nil {
		return nil
	}
	w.csv.Flush()
	flushErr := w.csv.Error()
	closeErr := w.file.Close()
	w.file = nil
	if flushErr != nil {
		return fmt.Errorf("flush report %q: %w", w.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close report %q: %w", w.path, closeErr)
	}
	return nil
}

// FormatSeconds renders seconds in the shortest form that parses back exactly.
func FormatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
