package sampler

import (
	"testing"
	"time"

	"github.com/doctoroakin/ai-telemetry-test/internal/model"
)

type fixedReader struct {
	cpu float64
}

func (r fixedReader) Read(now time.Time) model.Sample {
	cpu := r.cpu
	return model.Sample{Timestamp: now, CPUPercent: &cpu}
}

func TestSamplerBracketsWindow(t *testing.T) {
	s := NewWithReader(5*time.Millisecond, fixedReader{cpu: 25})

	before := time.Now()
	s.Start()
	time.Sleep(20 * time.Millisecond)
	windowEnd := time.Now()
	samples := s.Stop()

	if len(samples) < 2 {
		t.Fatalf("got %d samples, want at least first and final", len(samples))
	}
	if samples[0].Timestamp.Before(before) {
		t.Error("first sample predates Start call")
	}
	if samples[len(samples)-1].Timestamp.Before(windowEnd) {
		t.Error("final sample does not reach past the window end")
	}
}

func TestSamplerFirstSampleIsSynchronous(t *testing.T) {
	s := NewWithReader(time.Hour, fixedReader{})
	s.Start()
	defer s.Stop()

	// With an hour-long interval only the synchronous Start sample can
	// be in the buffer at this point.
	if len(s.samples) != 1 {
		t.Fatalf("got %d samples immediately after Start, want 1", len(s.samples))
	}
}

func TestSamplerTimestampsMonotonic(t *testing.T) {
	s := NewWithReader(time.Millisecond, fixedReader{})
	s.Start()
	time.Sleep(15 * time.Millisecond)
	samples := s.Stop()

	for i := 1; i < len(samples); i++ {
		if samples[i].Timestamp.Before(samples[i-1].Timestamp) {
			t.Fatalf("timestamp regression at sample %d", i)
		}
	}
}

func TestSamplerStopHandsOffBuffer(t *testing.T) {
	s := NewWithReader(5*time.Millisecond, fixedReader{cpu: 50})
	s.Start()
	time.Sleep(10 * time.Millisecond)

	first := s.Stop()
	if len(first) == 0 {
		t.Fatal("Stop returned no samples")
	}
	if first[0].CPUPercent == nil || *first[0].CPUPercent != 50 {
		t.Error("reader values not carried through")
	}

	// Second Stop is a no-op; the buffer was already handed off.
	if second := s.Stop(); second != nil {
		t.Errorf("second Stop returned %d samples, want nil", len(second))
	}
}

func TestSamplerStopWithoutStart(t *testing.T) {
	s := NewWithReader(time.Millisecond, fixedReader{})
	if got := s.Stop(); got != nil {
		t.Errorf("Stop before Start returned %d samples, want nil", len(got))
	}
}

func TestSamplerStartIdempotent(t *testing.T) {
	s := NewWithReader(5*time.Millisecond, fixedReader{})
	s.Start()
	s.Start() // second Start must not spawn a second goroutine
	time.Sleep(12 * time.Millisecond)
	samples := s.Stop()

	// With one goroutine on a 5ms cadence over ~12ms, the buffer holds
	// the start sample, a couple of ticks, and the final sample. A
	// duplicated goroutine would roughly double that.
	if len(samples) > 6 {
		t.Errorf("got %d samples, suspiciously many for a single goroutine", len(samples))
	}
}
