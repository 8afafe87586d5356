/*
PURPOSE:
  Defines the configuration structure and loading logic for the telemetry
  harness. One config describes one trial batch.

REQUIREMENTS:
  User-specified:
  - Configure target URL, model, conditions, repetitions, sampling
    interval, timeout, and the baseline condition for comparisons.

  Implementation-discovered:
  - Needs YAML parsing.
  - Configuration errors are the only fatal errors in the system and must
    be detected before any trial starts.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/engine
  - Dependencies: gopkg.in/yaml.v3

ERROR HANDLING:
  - Returns explicit error if the config file is invalid.
  - Validate() rejects non-positive sampling intervals, repetitions < 1,
    and unknown baseline_condition_id.

IMPLEMENTATION RULES:
  - Config struct tags should support yaml.
  - Defaults should be sensible (500ms sampling, 5 repetitions).

USAGE:
  cfg, err := config.Load("telemetry_runner.yaml")
  if err := cfg.Validate(); err != nil { ... }

SELF-HEALING INSTRUCTIONS:
  - If new fields are needed, add to Config struct and update Load()
    defaults and Validate().

RELATED FILES:
  - internal/cli/run.go

MAINTENANCE:
  - Update when adding new tuning parameters.
*/

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/doctoroakin/ai-telemetry-test/internal/model"
)

// Config represents the full configuration for one trial batch.
type Config struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`

	// Conditions is the set of experimental conditions to run.
	Conditions []model.Condition `yaml:"conditions"`
	// BaselineConditionID anchors the delta_vs_baseline comparison.
	BaselineConditionID string `yaml:"baseline_condition_id"`

	Repetitions        int     `yaml:"repetitions"`
	SamplingIntervalMS int     `yaml:"sampling_interval_ms"`
	TimeoutS           float64 `yaml:"timeout_s"`
	MinTrials          int     `yaml:"min_trials"`

	// Stream declares whether the backend supports per-token streaming.
	// When false, token timestamps are approximated and the trials are
	// flagged accordingly.
	Stream    bool `yaml:"stream"`
	MaxTokens int  `yaml:"max_tokens"`

	Warmup bool `yaml:"warmup"`
	// CalibrationS is how long to sample idle power before the batch to
	// establish the baseline watts floor. Zero disables calibration and
	// net-energy metrics.
	CalibrationS float64 `yaml:"calibration_s"`
	SettleDelayS float64 `yaml:"settle_delay_s"`
	CooldownS    float64 `yaml:"cooldown_s"`
	LoadTimeoutS float64 `yaml:"load_timeout_s"`
	RetryDelayS  float64 `yaml:"retry_delay_s"`

	OutputDir   string `yaml:"output_dir"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns the default configuration: the constraint-gradient
// batch against a local Ollama host.
func DefaultConfig() *Config {
	return &Config{
		URL:   "http://localhost:11434",
		Model: "llama3.1:8b-instruct-q4_0",
		Conditions: []model.Condition{
			{
				ID:             "control_free",
				Temperature:    0.7,
				ConstraintType: "free",
				Prompt:         "Write a short story about a space explorer discovering a new planet. Write about 100 words.",
			},
			{
				ID:             "constraint_format",
				Temperature:    0.7,
				ConstraintType: "format",
				Prompt:         "Write a short story about a space explorer. Use exactly three sentences. No more, no less.",
			},
			{
				ID:             "constraint_negative",
				Temperature:    0.7,
				ConstraintType: "negative",
				Prompt:         "Write a short story about a space explorer without using the letter 'e' or the word 'planet'.",
			},
			{
				ID:             "constraint_impossible",
				Temperature:    0.7,
				ConstraintType: "impossible",
				Prompt:         "Write a palindrome that is exactly 50 words long and makes coherent sense about space exploration.",
			},
		},
		BaselineConditionID: "control_free",
		Repetitions:         5,
		SamplingIntervalMS:  500,
		TimeoutS:            120,
		MinTrials:           2,
		Stream:              true,
		MaxTokens:           500,
		Warmup:              true,
		CalibrationS:        5,
		SettleDelayS:        1,
		CooldownS:           3,
		LoadTimeoutS:        120,
		RetryDelayS:         2,
		OutputDir:           ".",
	}
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches for default files in order.
// If no file is found, returns the default config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
	} else {
		defaults := []string{"telemetry_runner.yaml", "runner.yaml"}
		found := false
		for _, name := range defaults {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				found = true
				break
			}
		}
		if !found {
			return cfg, nil
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration before any trial starts. These are
// the only fatal errors in the system; everything downstream degrades
// into flags on trials and results instead of aborting.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url must not be empty")
	}
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.SamplingIntervalMS <= 0 {
		return fmt.Errorf("sampling_interval_ms must be > 0, got %d", c.SamplingIntervalMS)
	}
	if c.Repetitions < 1 {
		return fmt.Errorf("repetitions must be >= 1, got %d", c.Repetitions)
	}
	if c.MinTrials < 1 {
		return fmt.Errorf("min_trials must be >= 1, got %d", c.MinTrials)
	}
	if c.TimeoutS < 0 {
		return fmt.Errorf("timeout_s must not be negative, got %g", c.TimeoutS)
	}
	if c.CalibrationS < 0 {
		return fmt.Errorf("calibration_s must not be negative, got %g", c.CalibrationS)
	}
	if c.SettleDelayS < 0 || c.CooldownS < 0 || c.LoadTimeoutS < 0 || c.RetryDelayS < 0 {
		return fmt.Errorf("delay settings must not be negative")
	}
	if len(c.Conditions) == 0 {
		return fmt.Errorf("at least one condition is required")
	}

	seen := make(map[string]bool, len(c.Conditions))
	for _, cond := range c.Conditions {
		if cond.ID == "" {
			return fmt.Errorf("condition with empty id")
		}
		if seen[cond.ID] {
			return fmt.Errorf("duplicate condition id %q", cond.ID)
		}
		if cond.Prompt == "" {
			return fmt.Errorf("condition %q has no prompt", cond.ID)
		}
		if cond.Temperature < 0 {
			return fmt.Errorf("condition %q has negative temperature", cond.ID)
		}
		seen[cond.ID] = true
	}

	if c.BaselineConditionID == "" {
		return fmt.Errorf("baseline_condition_id must be set")
	}
	if !seen[c.BaselineConditionID] {
		return fmt.Errorf("unknown baseline_condition_id %q", c.BaselineConditionID)
	}

	return nil
}

// SamplingInterval returns the sampling cadence as a duration.
func (c *Config) SamplingInterval() time.Duration {
	return time.Duration(c.SamplingIntervalMS) * time.Millisecond
}

// Timeout returns the per-generation timeout. Zero means no timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutS * float64(time.Second))
}

// Calibration returns the idle power calibration window.
func (c *Config) Calibration() time.Duration {
	return time.Duration(c.CalibrationS * float64(time.Second))
}

// SettleDelay returns the pause between repetitions.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayS * float64(time.Second))
}

// Cooldown returns the pause between conditions.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownS * float64(time.Second))
}

// LoadTimeout bounds the wait for the first response byte, which is
// where model loading happens.
func (c *Config) LoadTimeout() time.Duration {
	return time.Duration(c.LoadTimeoutS * float64(time.Second))
}

// RetryDelay returns the pause before a retried generation.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayS * float64(time.Second))
}
