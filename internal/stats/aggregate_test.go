package stats

import (
	"math"
	"reflect"
	"testing"

	"github.com/doctoroakin/ai-telemetry-test/internal/model"
)

func entry(trial, cond string, values map[string]float64) model.NormalizedMetrics {
	return model.NormalizedMetrics{TrialID: trial, ConditionID: cond, Values: values}
}

func cpuEntry(trial, cond string, v float64) model.NormalizedMetrics {
	return entry(trial, cond, map[string]float64{model.MetricCPUSecondsPerToken: v})
}

func findResult(t *testing.T, results []model.AggregateResult, cond, metric string) model.AggregateResult {
	t.Helper()
	for _, r := range results {
		if r.ConditionID == cond && r.Metric == metric {
			return r
		}
	}
	t.Fatalf("no result for (%s, %s)", cond, metric)
	return model.AggregateResult{}
}

// Five trials at temp=0 averaging 0.10 cpu-seconds/token against a
// temp=0.7 baseline mean of 0.37 must report roughly -73%.
func TestAggregateDeltaVsBaseline(t *testing.T) {
	entries := []model.NormalizedMetrics{
		cpuEntry("t1", "temp_0", 0.10),
		cpuEntry("t2", "temp_0", 0.11),
		cpuEntry("t3", "temp_0", 0.09),
		cpuEntry("t4", "temp_0", 0.10),
		cpuEntry("t5", "temp_0", 0.10),
		cpuEntry("b1", "temp_0.7", 0.37),
		cpuEntry("b2", "temp_0.7", 0.37),
		cpuEntry("b3", "temp_0.7", 0.37),
	}

	results, err := Aggregate(entries, "temp_0.7", 2)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	r := findResult(t, results, "temp_0", model.MetricCPUSecondsPerToken)
	if math.Abs(r.Mean-0.10) > 1e-12 {
		t.Errorf("mean: got %v, want 0.10", r.Mean)
	}
	if r.SampleCount != 5 {
		t.Errorf("sample count: got %d, want 5", r.SampleCount)
	}
	if r.DeltaVsBaseline == nil {
		t.Fatal("delta_vs_baseline missing")
	}
	if math.Abs(*r.DeltaVsBaseline-(-72.97)) > 0.1 {
		t.Errorf("delta: got %v, want about -73%%", *r.DeltaVsBaseline)
	}
	if r.LowConfidence {
		t.Error("5 trials flagged low-confidence")
	}

	base := findResult(t, results, "temp_0.7", model.MetricCPUSecondsPerToken)
	if base.DeltaVsBaseline == nil || *base.DeltaVsBaseline != 0 {
		t.Errorf("baseline delta: got %v, want 0", base.DeltaVsBaseline)
	}
}

// Re-running aggregation on the same trial set must be bit-identical.
func TestAggregateDeterminism(t *testing.T) {
	entries := []model.NormalizedMetrics{
		entry("t1", "a", map[string]float64{
			model.MetricCPUSecondsPerToken: 0.137,
			model.MetricTokensPerSecond:    11.3,
		}),
		entry("t2", "a", map[string]float64{
			model.MetricCPUSecondsPerToken: 0.141,
			model.MetricTokensPerSecond:    10.9,
		}),
		entry("t3", "b", map[string]float64{
			model.MetricCPUSecondsPerToken: 0.152,
			model.MetricTokensPerSecond:    9.7,
		}),
		entry("t4", "b", map[string]float64{
			model.MetricCPUSecondsPerToken: 0.149,
			model.MetricTokensPerSecond:    10.1,
		}),
	}

	first, err := Aggregate(entries, "a", 2)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	second, err := Aggregate(entries, "a", 2)
	if err != nil {
		t.Fatalf("Aggregate (second run): %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("aggregation not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

// A condition without power samples lacks the energy row while its
// CPU/memory rows aggregate normally.
func TestAggregateEnergyOmittedWhenUnavailable(t *testing.T) {
	entries := []model.NormalizedMetrics{
		entry("t1", "base", map[string]float64{
			model.MetricCPUSecondsPerToken: 0.10,
			model.MetricJoulesPerToken:     2.0,
		}),
		entry("t2", "base", map[string]float64{
			model.MetricCPUSecondsPerToken: 0.10,
			model.MetricJoulesPerToken:     2.1,
		}),
		// no_power platform: sensor absent, energy never normalized
		entry("t3", "no_power", map[string]float64{
			model.MetricCPUSecondsPerToken: 0.12,
		}),
		entry("t4", "no_power", map[string]float64{
			model.MetricCPUSecondsPerToken: 0.13,
		}),
	}

	results, err := Aggregate(entries, "base", 2)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	for _, r := range results {
		if r.ConditionID == "no_power" && r.Metric == model.MetricJoulesPerToken {
			t.Error("energy row present for condition without power samples")
		}
	}
	findResult(t, results, "no_power", model.MetricCPUSecondsPerToken)
	findResult(t, results, "base", model.MetricJoulesPerToken)
}

// A condition with a single complete trial is flagged, never dropped.
func TestAggregateLowConfidence(t *testing.T) {
	entries := []model.NormalizedMetrics{
		cpuEntry("t1", "base", 0.10),
		cpuEntry("t2", "base", 0.12),
		cpuEntry("t3", "sparse", 0.30),
	}

	results, err := Aggregate(entries, "base", 2)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	r := findResult(t, results, "sparse", model.MetricCPUSecondsPerToken)
	if !r.LowConfidence {
		t.Error("single-trial condition not flagged low-confidence")
	}
	if r.SampleCount != 1 {
		t.Errorf("sample count: got %d, want 1", r.SampleCount)
	}
	if r.StdDev != 0 {
		t.Errorf("stddev of single value: got %v, want 0", r.StdDev)
	}
}

// Approximated-timing trials are excluded from latency-sensitive
// metrics but still contribute to the others.
func TestAggregateExcludesApproximatedFromLatencyMetrics(t *testing.T) {
	approx := entry("t1", "a", map[string]float64{
		model.MetricCPUSecondsPerToken: 0.10,
		model.MetricSecondsPerToken:    0.09,
	})
	approx.ApproximatedTiming = true

	exact := entry("t2", "a", map[string]float64{
		model.MetricCPUSecondsPerToken: 0.11,
		model.MetricSecondsPerToken:    0.08,
	})

	results, err := Aggregate([]model.NormalizedMetrics{approx, exact}, "a", 1)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	cpu := findResult(t, results, "a", model.MetricCPUSecondsPerToken)
	if cpu.SampleCount != 2 {
		t.Errorf("cpu sample count: got %d, want 2", cpu.SampleCount)
	}

	lat := findResult(t, results, "a", model.MetricSecondsPerToken)
	if lat.SampleCount != 1 {
		t.Errorf("latency sample count: got %d, want 1 (approximated excluded)", lat.SampleCount)
	}
	if lat.Mean != 0.08 {
		t.Errorf("latency mean: got %v, want 0.08", lat.Mean)
	}
}

func TestAggregateMissingBaseline(t *testing.T) {
	entries := []model.NormalizedMetrics{cpuEntry("t1", "a", 0.1)}

	if _, err := Aggregate(entries, "nonexistent", 2); err == nil {
		t.Fatal("expected error for baseline with no complete trials")
	}
}

func TestCountByCondition(t *testing.T) {
	trials := []model.Trial{
		{ConditionID: "a", Complete: true, TokenCount: 50},
		{ConditionID: "a", Complete: true, TokenCount: 40, Retried: true},
		{ConditionID: "a", Complete: false, Error: "generation failed"},
		{ConditionID: "a", Complete: true, TokenCount: 0},
	}

	counts := CountByCondition(trials)
	got := counts["a"]
	want := FailureCounts{Complete: 2, Failed: 1, Degenerate: 1, Retried: 1}
	if got != want {
		t.Errorf("counts: got %+v, want %+v", got, want)
	}
}
