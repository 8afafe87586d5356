/*
PURPOSE:
  Defines the 'list-models' subcommand.
  Helps debug connectivity and model discovery.

REQUIREMENTS:
  User-specified:
  - List available models.

  Implementation-discovered:
  - Useful validation step before a full batch.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Client.GetModels()

ERROR HANDLING:
  - Prints error if the URL is unreachable.

IMPLEMENTATION RULES:
  - Simple output to stdout.

USAGE:
  telemetry-runner list-models --url http://ollama:11434

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/client.go

MAINTENANCE:
  - None.
*/

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/doctoroakin/ai-telemetry-test/internal/config"
	"github.com/doctoroakin/ai-telemetry-test/internal/engine"
)

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List available models on the target host",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if urlOverride != "" {
			cfg.URL = urlOverride
		}

		c := engine.NewClient(cfg)

		fmt.Printf("Querying %s...\n", cfg.URL)
		models, err := c.GetModels()
		if err != nil {
			return err
		}
		for _, m := range models {
			fmt.Printf("- %s\n", m)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(listModelsCmd)
	listModelsCmd.Flags().StringVar(&urlOverride, "url", "", "Ollama URL")
}
