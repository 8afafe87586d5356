/*
PURPOSE:
  High-level runner that orchestrates a trial batch.
  Loops through conditions and repetitions, persists every trial as it
  completes, and aggregates at the end.

REQUIREMENTS:
  User-specified:
  - Run every configured condition for the configured repetitions.
  - Log trials to CSV/JSONL as they complete; a crash mid-batch must not
    lose finished trials.
  - Report per-condition failure rates from incomplete trials.

  Implementation-discovered:
  - A cooldown between conditions keeps thermal state from bleeding one
    condition's telemetry into the next.
  - Idle power is calibrated before warmup, while the system is quiet,
    so net-energy metrics can subtract the idle draw.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/engine, internal/stats, internal/output, internal/metrics

ERROR HANDLING:
  - A single bad trial never aborts the batch; only setup failures
    (output dir, writers) and config validation are fatal.

IMPLEMENTATION RULES:
  - Validate config before any trial starts.
  - Aggregation is a full recompute over the sealed trial set.

USAGE:
  engine.Run(ctx, cfg)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/coordinator.go

MAINTENANCE:
  - Update iteration logic if parallel trials are introduced (each needs
    physically separate measurement).
*/

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/doctoroakin/ai-telemetry-test/internal/config"
	"github.com/doctoroakin/ai-telemetry-test/internal/metrics"
	"github.com/doctoroakin/ai-telemetry-test/internal/model"
	"github.com/doctoroakin/ai-telemetry-test/internal/output"
	"github.com/doctoroakin/ai-telemetry-test/internal/sampler"
	"github.com/doctoroakin/ai-telemetry-test/internal/stats"
)

// Run executes the full trial batch.
func Run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", cfg.OutputDir, err)
	}

	trialJSON, err := output.NewJSONWriter(filepath.Join(cfg.OutputDir, "trials.jsonl"))
	if err != nil {
		return fmt.Errorf("failed to init trials JSONL writer: %w", err)
	}
	defer trialJSON.Close()

	trialCSV, err := output.NewTrialCSVWriter(filepath.Join(cfg.OutputDir, "trials.csv"))
	if err != nil {
		return fmt.Errorf("failed to init trials CSV writer: %w", err)
	}
	defer trialCSV.Close()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				output.Logger.Error("Metrics listener failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		output.Logger.Info("Serving prometheus metrics", "addr", cfg.MetricsAddr)
	}

	client := NewClient(cfg)
	coordinator := NewCoordinator(NewMonitor(client), cfg)

	if cfg.Calibration() > 0 {
		coordinator.SetBaselineWatts(calibrateBaseline(cfg))
	}

	if cfg.Warmup {
		if err := client.Warmup(ctx); err != nil {
			output.Logger.Warn("Warmup failed, continuing", "error", err)
		}
	}

	var trials []model.Trial
	for i, cond := range cfg.Conditions {
		output.Logger.Info("Running condition",
			"condition", cond.ID,
			"constraint", cond.ConstraintType,
			"temperature", cond.Temperature,
			"repetitions", cfg.Repetitions,
		)

		condTrials := coordinator.ExecuteTrial(ctx, cond, cfg.Repetitions)
		for _, t := range condTrials {
			if err := trialJSON.Write(t); err != nil {
				output.Logger.Error("Failed to write trial to JSONL", "trial", t.ID, "error", err)
			}
			if err := trialCSV.Write(t); err != nil {
				output.Logger.Error("Failed to write trial to CSV", "trial", t.ID, "error", err)
			}
			output.Logger.Info("Trial finished",
				"trial", t.ID,
				"condition", t.ConditionID,
				"tokens", t.TokenCount,
				"duration", t.Duration(),
				"complete", t.Complete,
			)
		}
		trials = append(trials, condTrials...)

		if i < len(cfg.Conditions)-1 && cfg.Cooldown() > 0 {
			time.Sleep(cfg.Cooldown())
		}
	}

	results, err := AggregateAndWrite(trials, cfg)
	if err != nil {
		return err
	}

	logSummary(trials, results, cfg.BaselineConditionID)
	return nil
}

// calibrateBaseline samples idle power before any generation runs and
// returns the mean watts, the floor subtracted from measured power to
// report net energy. Returns 0 when no power readings arrive, which
// disables net-energy metrics for the batch.
func calibrateBaseline(cfg *config.Config) float64 {
	output.Logger.Info("Calibrating idle power baseline",
		"duration", cfg.Calibration())

	s := sampler.New(cfg.SamplingInterval())
	s.Start()
	time.Sleep(cfg.Calibration())
	samples := s.Stop()

	watts, ok := stats.BaselinePower(samples)
	if !ok {
		output.Logger.Warn("No power readings during calibration, net-energy metrics disabled")
		return 0
	}
	output.Logger.Info("Idle power baseline set", "watts", watts)
	return watts
}

// AggregateAndWrite normalizes a sealed trial set, aggregates it, and
// writes the results next to the trial files. Shared by the run and
// aggregate commands.
func AggregateAndWrite(trials []model.Trial, cfg *config.Config) ([]model.AggregateResult, error) {
	normalized := stats.NormalizeAll(trials)

	results, err := stats.Aggregate(normalized, cfg.BaselineConditionID, cfg.MinTrials)
	if err != nil {
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}

	aggJSON, err := output.NewJSONWriter(filepath.Join(cfg.OutputDir, "aggregates.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to init aggregates JSONL writer: %w", err)
	}
	defer aggJSON.Close()

	aggCSV, err := output.NewAggregateCSVWriter(filepath.Join(cfg.OutputDir, "aggregates.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to init aggregates CSV writer: %w", err)
	}
	defer aggCSV.Close()

	for _, r := range results {
		if err := aggJSON.Write(r); err != nil {
			return nil, err
		}
		if err := aggCSV.Write(r); err != nil {
			return nil, err
		}
	}

	return results, nil
}

func logSummary(trials []model.Trial, results []model.AggregateResult, baselineID string) {
	counts := stats.CountByCondition(trials)
	conditions := make([]string, 0, len(counts))
	for cond := range counts {
		conditions = append(conditions, cond)
	}
	sort.Strings(conditions)
	for _, cond := range conditions {
		c := counts[cond]
		output.Logger.Info("Condition completeness",
			"condition", cond,
			"complete", c.Complete,
			"failed", c.Failed,
			"degenerate", c.Degenerate,
			"retried", c.Retried,
		)
	}

	for _, r := range results {
		attrs := []any{
			"condition", r.ConditionID,
			"metric", r.Metric,
			"mean", r.Mean,
			"std_dev", r.StdDev,
			"n", r.SampleCount,
		}
		if r.DeltaVsBaseline != nil && r.ConditionID != baselineID {
			attrs = append(attrs, "delta_vs_baseline_pct", fmt.Sprintf("%+.1f", *r.DeltaVsBaseline))
		}
		if r.LowConfidence {
			attrs = append(attrs, "low_confidence", true)
		}
		output.Logger.Info("Aggregate", attrs...)
	}
}
