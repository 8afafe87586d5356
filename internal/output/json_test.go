package output

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/doctoroakin/ai-telemetry-test/internal/model"
)

func TestJSONWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trials.jsonl")
	w, err := NewJSONWriter(path)
	if err != nil {
		t.Fatal(err)
	}

	cpu := 42.5
	mem := uint64(1 << 30)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	trials := []model.Trial{
		{
			ID:          "t1",
			ConditionID: "control_free",
			PromptID:    "p-00000001",
			Start:       start,
			End:         start.Add(10 * time.Second),
			Samples: []model.Sample{
				{Timestamp: start, CPUPercent: &cpu, MemoryBytes: &mem},
				{Timestamp: start.Add(10 * time.Second), CPUPercent: &cpu},
			},
			Tokens: []model.TokenEvent{
				{Timestamp: start.Add(time.Second), Index: 0, Text: "Once"},
			},
			TokenCount: 1,
			Output:     "Once",
			Complete:   true,
		},
		{
			ID:          "t2",
			ConditionID: "constraint_format",
			Start:       start,
			End:         start.Add(time.Second),
			Error:       "generation failed: connection reset",
		},
	}

	for _, tr := range trials {
		if err := w.Write(tr); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := ReadTrials(path)
	if err != nil {
		t.Fatalf("ReadTrials: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d trials, want 2", len(got))
	}

	if got[0].ID != "t1" || !got[0].Complete {
		t.Errorf("first trial mangled: %+v", got[0])
	}
	if len(got[0].Samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(got[0].Samples))
	}
	s := got[0].Samples[0]
	if s.CPUPercent == nil || *s.CPUPercent != cpu {
		t.Error("cpu value lost in round trip")
	}
	if s.MemoryBytes == nil || *s.MemoryBytes != mem {
		t.Error("memory value lost in round trip")
	}
	// Absent sensor stays absent, not zero.
	if got[0].Samples[1].MemoryBytes != nil {
		t.Error("nil memory field resurrected as a value")
	}
	if !got[0].Start.Equal(start) {
		t.Errorf("start = %v, want %v", got[0].Start, start)
	}

	if got[1].Complete {
		t.Error("failed trial read back as complete")
	}
	if got[1].Error == "" {
		t.Error("trial error lost in round trip")
	}
}

func TestReadTrialsSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trials.jsonl")
	content := `{"id":"a","condition_id":"c"}` + "\n\n" + `{"id":"b","condition_id":"c"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadTrials(path)
	if err != nil {
		t.Fatalf("ReadTrials: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d trials, want 2", len(got))
	}
}

func TestReadTrialsBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trials.jsonl")
	if err := os.WriteFile(path, []byte("{not json}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadTrials(path); err == nil {
		t.Fatal("expected parse error")
	}
}
