/*
PURPOSE:
  Defines the 'run' subcommand.
  Executes a full trial batch.

REQUIREMENTS:
  User-specified:
  - Run the batch.
  - Specific flags for overrides.

  Implementation-discovered:
  - Need to load config first, then apply flag overrides, then validate.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Run()
  - Uses: internal/config

ERROR HANDLING:
  - Returns error if config load/validation fails or the batch fails.

IMPLEMENTATION RULES:
  - Setup flags in init().
  - Logic: Load Config -> Override -> Validate (inside engine.Run) -> Run.

USAGE:
  telemetry-runner run --url http://ollama:11434 -o ./results

SELF-HEALING INSTRUCTIONS:
  - Check flag names match Config struct fields generally.

RELATED FILES:
  - internal/cli/root.go

MAINTENANCE:
  - Update when adding new CLI overrides.
*/

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/doctoroakin/ai-telemetry-test/internal/config"
	"github.com/doctoroakin/ai-telemetry-test/internal/engine"
)

var (
	urlOverride         string
	modelOverride       string
	outputOverride      string
	promptFile          string
	repetitionsOverride int
	intervalOverride    int
	metricsAddrOverride string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trial batch",
	Long: `Executes the configured trial batch against an Ollama server.
For every condition and repetition, a dedicated sampler collects system
telemetry while the generation streams; the two timelines are merged,
normalized per token, and aggregated against the baseline condition.

Every trial is appended to trials.jsonl/trials.csv as it completes;
aggregates.jsonl/aggregates.csv are written when the batch ends.`,
	Example: `  # Run with defaults (uses telemetry_runner.yaml)
  telemetry-runner run

  # Override target URL and output directory
  telemetry-runner run --url http://ollama-1:11434 -o ./results

  # Sample faster and run more repetitions
  telemetry-runner run --interval-ms 250 --repetitions 10

  # Expose prometheus counters while the batch runs
  telemetry-runner run --metrics-addr :9090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Load Config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		// 2. Overrides
		if urlOverride != "" {
			cfg.URL = urlOverride
		}
		if modelOverride != "" {
			cfg.Model = modelOverride
		}
		if outputOverride != "" {
			cfg.OutputDir = outputOverride
		}
		if repetitionsOverride > 0 {
			cfg.Repetitions = repetitionsOverride
		}
		if intervalOverride > 0 {
			cfg.SamplingIntervalMS = intervalOverride
		}
		if metricsAddrOverride != "" {
			cfg.MetricsAddr = metricsAddrOverride
		}
		if promptFile != "" {
			data, err := os.ReadFile(promptFile)
			if err != nil {
				return fmt.Errorf("failed to read prompt file: %w", err)
			}
			// A prompt file replaces every condition's prompt; the
			// conditions then differ only in temperature/constraint label.
			for i := range cfg.Conditions {
				cfg.Conditions[i].Prompt = string(data)
			}
		}

		// 3. Execution
		return engine.Run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&urlOverride, "url", "", "Ollama URL")
	runCmd.Flags().StringVar(&modelOverride, "model", "", "Model name")
	runCmd.Flags().StringVarP(&outputOverride, "output-dir", "o", "", "Output directory for results (CSV/JSONL)")
	runCmd.Flags().StringVarP(&promptFile, "prompt-file", "p", "", "Path to a text file containing the prompt (overrides every condition)")
	runCmd.Flags().IntVar(&repetitionsOverride, "repetitions", 0, "Repetitions per condition")
	runCmd.Flags().IntVar(&intervalOverride, "interval-ms", 0, "Sampling interval in milliseconds")
	runCmd.Flags().StringVar(&metricsAddrOverride, "metrics-addr", "", "Address to serve prometheus metrics on (e.g. :9090)")
}
