/*
PURPOSE:
  Converts a sealed Trial's raw sample and token streams into per-token
  metrics, removing the output-length confound: every metric is the raw
  aggregate over the trial's active window divided by the emitted token
  count.

REQUIREMENTS:
  User-specified:
  - cpu-seconds, memory-bytes, seconds, and joules per token; tokens per
    second.
  - Zero emitted tokens -> no metrics (division undefined), logged as a
    degenerate trial.
  - Flat power across the window is reported verbatim, not smoothed; a
    flat floor is itself a finding.

  Implementation-discovered:
  - Sensor fields may be nil on any sample; a metric is emitted only
    when at least one usable reading falls inside the window.
  - Net energy subtracts the calibrated idle power floor over the
    integration span, clamped at zero; gross energy stays reported
    alongside it.
  - Energy integrates power over wall time (trapezoid over sample
    timestamps) before dividing by the token count.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/runner.go, internal/cli/aggregate.go
  - Uses: internal/model, internal/output

ERROR HANDLING:
  - ErrDegenerateTrial and ErrIncompleteTrial are sentinels; callers
    count them, they never abort a batch.

IMPLEMENTATION RULES:
  - Pure function of the Trial; no shared mutable state.

USAGE:
  nm, err := stats.Normalize(trial)
  if errors.Is(err, stats.ErrDegenerateTrial) { ... }

SELF-HEALING INSTRUCTIONS:
  - If a new sensor field is added to Sample, add its per-token metric
    here and a name constant in internal/model.

RELATED FILES:
  - internal/model/types.go
  - internal/stats/aggregate.go

MAINTENANCE:
  - Keep the exact-division property: per-token value must equal the raw
    aggregate divided by the token count with no smoothing in between.
*/

package stats

import (
	"errors"

	"github.com/doctoroakin/ai-telemetry-test/internal/model"
	"github.com/doctoroakin/ai-telemetry-test/internal/output"
)

var (
	// ErrDegenerateTrial marks a trial with zero emitted tokens.
	ErrDegenerateTrial = errors.New("degenerate trial: zero tokens emitted")
	// ErrIncompleteTrial marks a trial excluded from metric aggregation.
	ErrIncompleteTrial = errors.New("incomplete trial")
)

// flatPowerToleranceWatts bounds the spread under which a power series
// counts as flat. Flat series are logged and reported verbatim.
const flatPowerToleranceWatts = 0.05

// Normalize derives per-token metrics from one sealed trial.
func Normalize(t model.Trial) (model.NormalizedMetrics, error) {
	nm := model.NormalizedMetrics{
		TrialID:            t.ID,
		ConditionID:        t.ConditionID,
		ApproximatedTiming: t.ApproximatedTiming,
		Values:             map[string]float64{},
	}

	if !t.Complete {
		return nm, ErrIncompleteTrial
	}
	if t.TokenCount == 0 {
		output.Logger.Warn("Degenerate trial excluded from normalization",
			"trial", t.ID, "condition", t.ConditionID)
		return nm, ErrDegenerateTrial
	}

	n := float64(t.TokenCount)
	window := t.Duration().Seconds()

	if window > 0 {
		nm.Values[model.MetricSecondsPerToken] = window / n
		nm.Values[model.MetricTokensPerSecond] = n / window
	}

	if cpu, ok := meanCPU(t); ok {
		// Mean utilization fraction times wall time gives busy
		// cpu-seconds over the window; divide by tokens.
		nm.Values[model.MetricCPUSecondsPerToken] = (cpu / 100.0) * window / n
	}

	if mem, ok := meanMemory(t); ok {
		nm.Values[model.MetricMemoryBytesPerToken] = mem / n
	}

	if joules, span, ok := integrateEnergy(t); ok {
		nm.Values[model.MetricJoulesPerToken] = joules / n

		// Net energy subtracts the idle floor measured during
		// calibration over the same integration span. Gross stays
		// reported alongside; the confound is the idle draw, not the
		// measurement.
		if t.BaselineWatts > 0 {
			net := joules - t.BaselineWatts*span
			if net < 0 {
				net = 0
			}
			nm.Values[model.MetricNetJoulesPerToken] = net / n
		}
	}

	return nm, nil
}

// BaselinePower is the mean of the usable power readings in a
// calibration sample set. ok is false when no reading carried power.
func BaselinePower(samples []model.Sample) (float64, bool) {
	var sum float64
	var count int
	for _, s := range samples {
		if s.PowerWatts == nil {
			continue
		}
		sum += *s.PowerWatts
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// NormalizeAll normalizes every trial in the set, skipping incomplete
// and degenerate ones. The returned slice preserves input order, which
// keeps downstream aggregation deterministic.
func NormalizeAll(trials []model.Trial) []model.NormalizedMetrics {
	out := make([]model.NormalizedMetrics, 0, len(trials))
	for _, t := range trials {
		nm, err := Normalize(t)
		if err != nil {
			continue
		}
		out = append(out, nm)
	}
	return out
}

func inWindow(t model.Trial, s model.Sample) bool {
	return !s.Timestamp.Before(t.Start) && !s.Timestamp.After(t.End)
}

func meanCPU(t model.Trial) (float64, bool) {
	var sum float64
	var count int
	for _, s := range t.Samples {
		if s.CPUPercent == nil || !inWindow(t, s) {
			continue
		}
		sum += *s.CPUPercent
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

func meanMemory(t model.Trial) (float64, bool) {
	var sum float64
	var count int
	for _, s := range t.Samples {
		if s.MemoryBytes == nil || !inWindow(t, s) {
			continue
		}
		sum += float64(*s.MemoryBytes)
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// integrateEnergy integrates power over wall time with the trapezoid
// rule across the usable power samples and reports the span the
// integral covers. At least two readings inside the window are
// required for a meaningful integral.
func integrateEnergy(t model.Trial) (joules, span float64, ok bool) {
	type point struct {
		at    float64
		watts float64
	}

	var pts []point
	minW, maxW := 0.0, 0.0
	for _, s := range t.Samples {
		if s.PowerWatts == nil || !inWindow(t, s) {
			continue
		}
		w := *s.PowerWatts
		if len(pts) == 0 {
			minW, maxW = w, w
		} else {
			if w < minW {
				minW = w
			}
			if w > maxW {
				maxW = w
			}
		}
		pts = append(pts, point{at: s.Timestamp.Sub(t.Start).Seconds(), watts: w})
	}

	if len(pts) < 2 {
		return 0, 0, false
	}

	if maxW-minW <= flatPowerToleranceWatts {
		// A flat floor is a finding, not noise. Report it verbatim.
		output.Logger.Info("Power draw flat across trial window",
			"trial", t.ID, "watts", pts[0].watts)
	}

	for i := 1; i < len(pts); i++ {
		dt := pts[i].at - pts[i-1].at
		joules += (pts[i].watts + pts[i-1].watts) / 2.0 * dt
	}
	return joules, pts[len(pts)-1].at - pts[0].at, true
}
