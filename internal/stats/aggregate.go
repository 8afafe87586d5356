/*
PURPOSE:
  Groups normalized per-trial metrics by (condition, metric), computes
  summary statistics, and expresses each condition as a percentage delta
  against the baseline condition.

REQUIREMENTS:
  User-specified:
  - Mean and standard deviation over all contributing trials.
  - delta_vs_baseline as percentage change relative to the baseline
    condition's mean for the same metric.
  - Deterministic: a pure function of the trial set; re-running on the
    same input yields bit-identical results.
  - Conditions below the minimum trial count are flagged low-confidence,
    never omitted.

  Implementation-discovered:
  - Latency-sensitive metrics must exclude trials with approximated
    timing; their sample counts can therefore differ per metric within
    one condition.
  - A condition without an energy metric (no power sensor) simply lacks
    that row while CPU/memory rows aggregate normally.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/runner.go, internal/cli/aggregate.go
  - Uses: internal/model

ERROR HANDLING:
  - A baseline condition absent from the trial set is an error; it should
    have been caught by config validation before any trial ran.

IMPLEMENTATION RULES:
  - Full recompute every call; no partial updates, no cached state.
  - Iterate in sorted key order so float accumulation order is fixed.

USAGE:
  results, err := stats.Aggregate(normalized, "control_free", 2)

SELF-HEALING INSTRUCTIONS:
  - Nondeterministic output means a map iteration leaked into the
    accumulation path; restore the sorted-key discipline.

RELATED FILES:
  - internal/stats/normalize.go

MAINTENANCE:
  - Update latencySensitive when adding timing-derived metrics.
*/

package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/doctoroakin/ai-telemetry-test/internal/model"
)

// latencySensitive marks metrics that depend on real per-token
// timestamps. Approximated-timing trials are excluded from these.
var latencySensitive = map[string]bool{
	model.MetricSecondsPerToken: true,
	model.MetricTokensPerSecond: true,
}

type groupKey struct {
	condition string
	metric    string
}

// Aggregate computes one AggregateResult per (condition, metric) pair
// present in the normalized set. minTrials controls the low-confidence
// flag (default policy: 2).
func Aggregate(entries []model.NormalizedMetrics, baselineID string, minTrials int) ([]model.AggregateResult, error) {
	groups := make(map[groupKey][]float64)
	conditions := make(map[string]bool)

	for _, e := range entries {
		conditions[e.ConditionID] = true
		for name, value := range e.Values {
			if latencySensitive[name] && e.ApproximatedTiming {
				continue
			}
			key := groupKey{condition: e.ConditionID, metric: name}
			groups[key] = append(groups[key], value)
		}
	}

	if len(entries) > 0 && !conditions[baselineID] {
		return nil, fmt.Errorf("baseline condition %q has no complete trials", baselineID)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].condition != keys[j].condition {
			return keys[i].condition < keys[j].condition
		}
		return keys[i].metric < keys[j].metric
	})

	// Baseline means first, so deltas can be attached in one pass.
	baselineMeans := make(map[string]float64)
	for _, k := range keys {
		if k.condition == baselineID {
			baselineMeans[k.metric] = mean(groups[k])
		}
	}

	results := make([]model.AggregateResult, 0, len(keys))
	for _, k := range keys {
		values := groups[k]
		m := mean(values)

		r := model.AggregateResult{
			ConditionID:   k.condition,
			Metric:        k.metric,
			Mean:          m,
			StdDev:        stdDev(values, m),
			SampleCount:   len(values),
			LowConfidence: len(values) < minTrials,
		}

		if base, ok := baselineMeans[k.metric]; ok && base != 0 {
			delta := (m - base) / base * 100.0
			r.DeltaVsBaseline = &delta
		}

		results = append(results, r)
	}

	return results, nil
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the sample (n-1) standard deviation; 0 for a single value.
func stdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// FailureCounts summarizes trial completeness per condition. Incomplete
// trials are retained for exactly this: failure-rate statistics.
type FailureCounts struct {
	Complete   int
	Failed     int
	Degenerate int
	Retried    int
}

// CountByCondition tallies completeness and retry bookkeeping for a
// sealed trial set, keyed by condition id.
func CountByCondition(trials []model.Trial) map[string]FailureCounts {
	out := make(map[string]FailureCounts)
	for _, t := range trials {
		c := out[t.ConditionID]
		switch {
		case !t.Complete:
			c.Failed++
		case t.TokenCount == 0:
			c.Degenerate++
		default:
			c.Complete++
		}
		if t.Retried {
			c.Retried++
		}
		out[t.ConditionID] = c
	}
	return out
}
