/*
PURPOSE:
  Writes trial summaries and aggregate results to CSV files.
  Ensures data integrity by flushing writes immediately.

REQUIREMENTS:
  User-specified:
  - CSV output alongside JSON Lines for spreadsheet-friendly analysis.
  - Keep file handle open and flush every write.

  Implementation-discovered:
  - Trial CSV carries summary columns only; the full sample/token
    streams live in the JSONL file.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/runner.go, internal/cli/aggregate.go
  - Consumes: internal/model records

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every write (critical for crash resilience).
  - Mutex-guarded; the runner may interleave writes with logging.

USAGE:
  w, err := output.NewTrialCSVWriter("trials.csv")
  w.Write(trial)
  w.Close()

SELF-HEALING INSTRUCTIONS:
  - If the CSV format changes, update header and record conversion
    together.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Update Write() mapping when record structs change.
*/

package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/doctoroakin/ai-telemetry-test/internal/model"
)

// TrialCSVWriter writes one summary row per trial.
type TrialCSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewTrialCSVWriter creates a trial CSV writer, overwriting the file if
// it exists.
func NewTrialCSVWriter(path string) (*TrialCSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	header := []string{
		"trial_id", "condition_id", "prompt_id", "start", "duration_s",
		"tokens", "samples", "complete", "approximated_timing", "retried",
		"error",
	}
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()

	return &TrialCSVWriter{file: f, writer: w}, nil
}

// Write writes a single trial summary row. It is thread-safe.
func (cw *TrialCSVWriter) Write(t model.Trial) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	record := []string{
		t.ID,
		t.ConditionID,
		t.PromptID,
		t.Start.Format("2006-01-02T15:04:05.000Z07:00"),
		fmt.Sprintf("%.4f", t.Duration().Seconds()),
		fmt.Sprintf("%d", t.TokenCount),
		fmt.Sprintf("%d", len(t.Samples)),
		fmt.Sprintf("%t", t.Complete),
		fmt.Sprintf("%t", t.ApproximatedTiming),
		fmt.Sprintf("%t", t.Retried),
		t.Error,
	}

	if err := cw.writer.Write(record); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close closes the underlying file.
func (cw *TrialCSVWriter) Close() error {
	cw.writer.Flush()
	return cw.file.Close()
}

// AggregateCSVWriter writes one row per (condition, metric) summary.
type AggregateCSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewAggregateCSVWriter creates an aggregate CSV writer, overwriting the
// file if it exists.
func NewAggregateCSVWriter(path string) (*AggregateCSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	header := []string{
		"condition_id", "metric", "mean", "std_dev", "sample_count",
		"delta_vs_baseline_pct", "low_confidence",
	}
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()

	return &AggregateCSVWriter{file: f, writer: w}, nil
}

// Write writes a single aggregate row. It is thread-safe.
func (cw *AggregateCSVWriter) Write(r model.AggregateResult) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	delta := ""
	if r.DeltaVsBaseline != nil {
		delta = fmt.Sprintf("%.2f", *r.DeltaVsBaseline)
	}

	record := []string{
		r.ConditionID,
		r.Metric,
		fmt.Sprintf("%.6g", r.Mean),
		fmt.Sprintf("%.6g", r.StdDev),
		fmt.Sprintf("%d", r.SampleCount),
		delta,
		fmt.Sprintf("%t", r.LowConfidence),
	}

	if err := cw.writer.Write(record); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close closes the underlying file.
func (cw *AggregateCSVWriter) Close() error {
	cw.writer.Flush()
	return cw.file.Close()
}
