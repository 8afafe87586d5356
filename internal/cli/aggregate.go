package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/doctoroakin/ai-telemetry-test/internal/config"
	"github.com/doctoroakin/ai-telemetry-test/internal/engine"
	"github.com/doctoroakin/ai-telemetry-test/internal/output"
)

var (
	trialsFile       string
	baselineOverride string
	minTrialsFlag    int
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recompute aggregate statistics from an existing trials file",
	Long: `Reads a sealed trial set from a trials.jsonl file produced by 'run',
re-normalizes it, and recomputes the aggregate statistics. Aggregation
is a pure function of the trial set, so re-running this command on the
same file always produces identical results.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if baselineOverride != "" {
			cfg.BaselineConditionID = baselineOverride
		}
		if minTrialsFlag > 0 {
			cfg.MinTrials = minTrialsFlag
		}
		if outputOverride != "" {
			cfg.OutputDir = outputOverride
		}

		trials, err := output.ReadTrials(trialsFile)
		if err != nil {
			return fmt.Errorf("failed to read trials: %w", err)
		}
		if len(trials) == 0 {
			return fmt.Errorf("no trials found in %s", trialsFile)
		}

		results, err := engine.AggregateAndWrite(trials, cfg)
		if err != nil {
			return err
		}

		for _, r := range results {
			line := fmt.Sprintf("%-24s %-26s mean=%.6g sd=%.6g n=%d", r.ConditionID, r.Metric, r.Mean, r.StdDev, r.SampleCount)
			if r.DeltaVsBaseline != nil && r.ConditionID != cfg.BaselineConditionID {
				line += fmt.Sprintf(" delta=%+.1f%%", *r.DeltaVsBaseline)
			}
			if r.LowConfidence {
				line += " [low-confidence]"
			}
			fmt.Println(line)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(aggregateCmd)
	aggregateCmd.Flags().StringVarP(&trialsFile, "trials", "t", "trials.jsonl", "Path to the trials JSONL file")
	aggregateCmd.Flags().StringVar(&baselineOverride, "baseline", "", "Baseline condition id (overrides config)")
	aggregateCmd.Flags().IntVar(&minTrialsFlag, "min-trials", 0, "Minimum complete trials before a condition is full-confidence")
	aggregateCmd.Flags().StringVarP(&outputOverride, "output-dir", "o", "", "Output directory for recomputed aggregates")
}
