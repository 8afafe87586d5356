/*
PURPOSE:
  Background metric sampler. Polls system counters (CPU utilization,
  used memory, package power) on a fixed cadence while a generation
  runs, and hands the accumulated samples to the caller on Stop.

REQUIREMENTS:
  User-specified:
  - Start(interval) / Stop() lifecycle; sampling must not block or be
    blocked by generation.
  - Stop() must leave no dangling sampler goroutine behind.
  - A failed counter read degrades that field, never the trial.

  Implementation-discovered:
  - One sample is taken immediately on Start and one on Stop so the
    sample span always brackets the generation window.
  - Ticker jitter is tolerated; consumers rely only on monotonic
    non-decreasing timestamps, never on an exact period.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (coordinator)
  - Uses: internal/model, internal/metrics

ERROR HANDLING:
  - Sensor failures are absorbed by the reader (nil fields).
  - Start on a running sampler and Stop on a stopped one are programming
    errors and return/ignore explicitly.

IMPLEMENTATION RULES:
  - The buffer is owned by the sampling goroutine until Stop returns,
    then ownership transfers to the caller. No locking on the hot path.
  - One sampler per trial; samplers are not reusable.

USAGE:
  s := sampler.New(500 * time.Millisecond)
  s.Start()
  ... run generation ...
  samples := s.Stop()

SELF-HEALING INSTRUCTIONS:
  - If samples stop covering the generation window, check that Stop()
    still records the final sample before returning.

RELATED FILES:
  - internal/sampler/sensors.go
  - internal/engine/coordinator.go

MAINTENANCE:
  - Update when adding new sensors to the Reader interface.
*/

package sampler

import (
	"time"

	"github.com/doctoroakin/ai-telemetry-test/internal/metrics"
	"github.com/doctoroakin/ai-telemetry-test/internal/model"
)

// Reader produces one telemetry sample per call. Implementations keep
// whatever state they need between calls (CPU and power are derived
// from counter deltas).
type Reader interface {
	Read(now time.Time) model.Sample
}

// Sampler collects samples on a fixed cadence in its own goroutine.
// Not safe for reuse: one Sampler serves exactly one trial.
type Sampler struct {
	interval time.Duration
	reader   Reader

	samples []model.Sample
	stop    chan struct{}
	done    chan struct{}
	started bool
	stopped bool
}

// New creates a sampler backed by the platform sensor reader.
func New(interval time.Duration) *Sampler {
	return NewWithReader(interval, newPlatformReader())
}

// NewWithReader creates a sampler with a caller-supplied reader.
// Used by tests and by callers with pre-warmed sensor state.
func NewWithReader(interval time.Duration, r Reader) *Sampler {
	return &Sampler{
		interval: interval,
		reader:   r,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins sampling. The first sample is taken synchronously,
// before Start returns, so the buffer is guaranteed to cover the window
// from before generation begins.
func (s *Sampler) Start() {
	if s.started {
		return
	}
	s.started = true

	s.record(time.Now())
	go s.loop()
}

func (s *Sampler) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			// Final sample so the span reaches past generation end.
			s.record(time.Now())
			return
		case t := <-ticker.C:
			s.record(t)
		}
	}
}

func (s *Sampler) record(now time.Time) {
	sample := s.reader.Read(now)

	// Enforce monotonic non-decreasing timestamps regardless of ticker
	// delivery order.
	if n := len(s.samples); n > 0 && sample.Timestamp.Before(s.samples[n-1].Timestamp) {
		sample.Timestamp = s.samples[n-1].Timestamp
	}

	s.samples = append(s.samples, sample)
	metrics.SamplesCollected.Inc()
}

// Stop halts sampling and hands the sample buffer off to the caller.
// It blocks until the sampling goroutine has exited, so no sampler is
// left running after Stop returns. Subsequent calls return nil.
func (s *Sampler) Stop() []model.Sample {
	if !s.started || s.stopped {
		return nil
	}
	s.stopped = true

	close(s.stop)
	<-s.done

	samples := s.samples
	s.samples = nil
	return samples
}
