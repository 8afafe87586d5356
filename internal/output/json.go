/*
PURPOSE:
  Writes trial and aggregate records to JSON Lines files (NDJSON).
  Append-friendly so every trial survives a mid-batch crash, and the
  format the aggregate subcommand reads back.

REQUIREMENTS:
  User-specified:
  - Persist raw Trial records and AggregateResults as flat files; this
    system defines only the record shapes, not a database encoding.

  Implementation-discovered:
  - JSON Lines is better for streaming/logging than a single large
    array (append-friendly, replayable).

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/runner.go, internal/cli/aggregate.go
  - Consumes: internal/model records

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/json.NewEncoder.
  - Thread-safe.

USAGE:
  w, err := output.NewJSONWriter("trials.jsonl")
  w.Write(trial)
  w.Close()

SELF-HEALING INSTRUCTIONS:
  - None specific.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Update ReadTrials if the Trial shape changes incompatibly.
*/

package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/doctoroakin/ai-telemetry-test/internal/model"
)

// JSONWriter handles writing records to a JSON Lines file.
type JSONWriter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter creates a new JSONWriter, overwriting the file if it
// exists.
func NewJSONWriter(path string) (*JSONWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &JSONWriter{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Write writes a single record as a JSON line.
func (jw *JSONWriter) Write(v any) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	return jw.encoder.Encode(v)
}

// Close closes the underlying file.
func (jw *JSONWriter) Close() error {
	return jw.file.Close()
}

// ReadTrials loads a sealed trial set back from a trials JSONL file.
// Used by the aggregate subcommand to recompute statistics offline.
func ReadTrials(path string) ([]model.Trial, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var trials []model.Trial
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var t model.Trial
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			return nil, fmt.Errorf("parse %s line %d: %w", path, line, err)
		}
		trials = append(trials, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return trials, nil
}
