/*
PURPOSE:
  Defines the core data structures for the telemetry harness.
  These models represent raw telemetry, token timing, trials, and
  derived statistics.

REQUIREMENTS:
  User-specified:
  - Record system samples (CPU, memory, power) with timestamps.
  - Record per-token generation events.
  - Group trials by experimental condition and derive per-token metrics.

  Implementation-discovered:
  - Optional sensor fields need to distinguish "unavailable" from zero;
    pointers with omitempty express that in JSON without sentinels.
  - Trials must carry their failure/approximation flags so aggregation
    can filter without re-deriving anything.

ARCHITECTURE INTEGRATION:
  - Used by: internal/sampler, internal/engine, internal/stats, internal/output
  - Shared across boundaries.

ERROR HANDLING:
  - None (pure data structs).

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - Use time.Time for high precision; a Trial is sealed (read-only by
    convention) once the coordinator returns it.

USAGE:
  trial := model.Trial{...}

SELF-HEALING INSTRUCTIONS:
  - If new metrics are needed, add a metric name constant and update the
    normalizer plus the CSV writer header.

RELATED FILES:
  - internal/stats/normalize.go
  - internal/output/csv.go

MAINTENANCE:
  - Update when adding new telemetry fields to capture.
*/

package model

import (
	"time"
)

// Metric names produced by the normalizer. seconds_per_token and
// tokens_per_second depend on real per-token timestamps, so trials with
// approximated timing are excluded from them during aggregation.
const (
	MetricCPUSecondsPerToken  = "cpu_seconds_per_token"
	MetricMemoryBytesPerToken = "memory_bytes_per_token"
	MetricSecondsPerToken     = "seconds_per_token"
	MetricTokensPerSecond     = "tokens_per_second"
	MetricJoulesPerToken      = "joules_per_token"
	MetricNetJoulesPerToken   = "net_joules_per_token"
)

// Sample is one timestamped reading of the system counters.
// A nil field means the underlying sensor was unreadable for that poll;
// a single failed read never invalidates the trial.
type Sample struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  *float64  `json:"cpu_percent,omitempty"`
	MemoryBytes *uint64   `json:"memory_bytes,omitempty"`
	PowerWatts  *float64  `json:"power_watts,omitempty"`
}

// TokenEvent records the arrival of one generated token.
// Index is strictly increasing from 0. Text may be empty when timing was
// approximated from a non-streaming response.
type TokenEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Index     int       `json:"index"`
	Text      string    `json:"text,omitempty"`
}

// Event is one entry of the merged trial timeline. Exactly one of Sample
// or Token is set. When a Sample and a TokenEvent share a timestamp the
// Sample is ordered first: sampling observes state strictly before the
// token that follows it is attributed that state.
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	Sample    *Sample     `json:"sample,omitempty"`
	Token     *TokenEvent `json:"token,omitempty"`
}

// Condition identifies one experimental condition. Many trials reference
// one condition.
type Condition struct {
	ID             string  `yaml:"id" json:"id"`
	Temperature    float64 `yaml:"temperature" json:"temperature"`
	ConstraintType string  `yaml:"constraint_type" json:"constraint_type"`
	Prompt         string  `yaml:"prompt" json:"prompt"`
}

// Trial is one repetition of one condition: the generation output, the
// token timeline, and the samples collected while it ran. It is created
// by the coordinator and sealed once returned.
type Trial struct {
	ID          string    `json:"id"`
	ConditionID string    `json:"condition_id"`
	PromptID    string    `json:"prompt_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`

	Samples []Sample     `json:"samples"`
	Tokens  []TokenEvent `json:"tokens"`
	// Events is the merged timeline of Samples and Tokens. It is derived
	// from the two slices above and therefore not serialized.
	Events []Event `json:"-"`

	TokenCount int `json:"token_count"`
	// EvalCount is the backend's own token count for the generation.
	// Normally equal to TokenCount on streamed trials; a mismatch is
	// logged when the trial is sealed.
	EvalCount int    `json:"eval_count,omitempty"`
	Output    string `json:"output,omitempty"`

	// BaselineWatts is the idle power floor measured before the batch
	// started. Zero when calibration was disabled or produced no power
	// readings; net-energy metrics are omitted in that case.
	BaselineWatts float64 `json:"baseline_watts,omitempty"`

	// Complete is false when generation failed, was cancelled, or the
	// sample span does not cover [Start, End]. Incomplete trials are kept
	// for failure-rate statistics but excluded from metric aggregation.
	Complete           bool   `json:"complete"`
	ApproximatedTiming bool   `json:"approximated_timing"`
	Retried            bool   `json:"retried"`
	Error              string `json:"error,omitempty"`
}

// Duration is the wall time of the trial's active window.
func (t Trial) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// NormalizedMetrics holds the per-token metric values derived from one
// complete trial. Immutable once computed.
type NormalizedMetrics struct {
	TrialID            string             `json:"trial_id"`
	ConditionID        string             `json:"condition_id"`
	ApproximatedTiming bool               `json:"approximated_timing"`
	Values             map[string]float64 `json:"values"`
}

// AggregateResult is the summary for one (condition, metric) pair,
// recomputed in full from the current trial set every time.
type AggregateResult struct {
	ConditionID string  `json:"condition_id"`
	Metric      string  `json:"metric"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	SampleCount int     `json:"sample_count"`
	// DeltaVsBaseline is the percentage change relative to the baseline
	// condition's mean for the same metric. Nil when the baseline has no
	// value for this metric or its mean is zero.
	DeltaVsBaseline *float64 `json:"delta_vs_baseline_pct,omitempty"`
	// LowConfidence marks conditions with fewer contributing trials than
	// the configured minimum. Flagged, never omitted.
	LowConfidence bool `json:"low_confidence"`
}
