/*
PURPOSE:
  Defines the root Cobra command for the telemetry harness CLI.
  Handles global flags and command initialization.

REQUIREMENTS:
  User-specified:
  - Provide a CLI interface.
  - Support global flags like --config.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/telemetry-runner/main.go
  - Calls: Child commands (run, list-models, aggregate)

ERROR HANDLING:
  - Returns error to main.go for exit code handling.

IMPLEMENTATION RULES:
  - Use `PersistentFlags()` for flags available to all subcommands.
  - Keep Run logic in subcommands.

USAGE:
  Called by main.go.

SELF-HEALING INSTRUCTIONS:
  - If adding new global flags, add them to init().

RELATED FILES:
  - cmd/telemetry-runner/main.go

MAINTENANCE:
  - Update when adding global configuration options.
*/

package cli

import (
	"github.com/spf13/cobra"
)

var (
	// cfgFile stores the path to the config file (if specified via flag)
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "telemetry-runner",
		Short: "Telemetry-synchronized inference harness",
		Long: `Runs language model inference under controlled experimental conditions
while sampling system telemetry (CPU, memory, power) at a fixed cadence,
normalizes the samples per generated token, and compares conditions
against a baseline. Use 'run --help' for batch options.`,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./telemetry_runner.yaml)")
}
