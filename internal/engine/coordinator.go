/*
PURPOSE:
  Orchestrates one experimental trial: starts the metric sampler, runs
  the monitored generation, stops the sampler, and merges the two
  timestamp streams into a single sealed Trial.

REQUIREMENTS:
  User-specified:
  - Each trial owns an exclusive sampler; no cross-trial contamination.
  - Stable merge: a Sample ordered before a TokenEvent when timestamps
    are equal.
  - One automatic retry per repetition on generation failure; retries
    are never folded into the success count.

  Implementation-discovered:
  - Cancellation must stop the sampler, mark the trial incomplete, and
    preserve the samples collected so far. A cancelled batch abandons
    the remaining repetitions; a per-trial timeout stays retryable.
  - The sample span must cover [start, end] or the trial is marked
    incomplete and excluded from aggregation.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/runner.go
  - Uses: internal/sampler, internal/engine/monitor.go, internal/model

ERROR HANDLING:
  - Generation failures are absorbed into the trial record (Complete
    false, Error set); only the retry policy reacts to them here.

IMPLEMENTATION RULES:
  - Sampler Stop() always runs, including on the failure path.
  - Trials are sealed when returned; nothing mutates them afterwards.

USAGE:
  c := engine.NewCoordinator(monitor, cfg)
  trials := c.ExecuteTrial(ctx, cond, cfg.Repetitions)

SELF-HEALING INSTRUCTIONS:
  - If merge ordering regressions appear, check mergeEvents tie-breaking
    before anything else.

RELATED FILES:
  - internal/sampler/sampler.go
  - internal/engine/monitor.go

MAINTENANCE:
  - Update if parallel trials are ever introduced (each would require
    physically separate measurement).
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"github.com/doctoroakin/ai-telemetry-test/internal/config"
	"github.com/doctoroakin/ai-telemetry-test/internal/metrics"
	"github.com/doctoroakin/ai-telemetry-test/internal/model"
	"github.com/doctoroakin/ai-telemetry-test/internal/output"
	"github.com/doctoroakin/ai-telemetry-test/internal/sampler"
)

// generationRunner is the monitored-generation capability the
// coordinator depends on. *Monitor satisfies it.
type generationRunner interface {
	Run(ctx context.Context, cond model.Condition) (MonitorResult, error)
}

// Coordinator drives single trials. newSampler exists so tests can
// substitute a deterministic reader.
type Coordinator struct {
	monitor    generationRunner
	cfg        *config.Config
	newSampler func() *sampler.Sampler

	baselineWatts float64
}

// SetBaselineWatts stamps subsequent trials with the idle power floor
// measured during calibration, so net-energy metrics can be recomputed
// offline from the trial record alone.
func (c *Coordinator) SetBaselineWatts(w float64) {
	c.baselineWatts = w
}

// NewCoordinator creates a coordinator using the platform sampler.
func NewCoordinator(monitor *Monitor, cfg *config.Config) *Coordinator {
	return &Coordinator{
		monitor: monitor,
		cfg:     cfg,
		newSampler: func() *sampler.Sampler {
			return sampler.New(cfg.SamplingInterval())
		},
	}
}

// ExecuteTrial runs the configured number of repetitions for one
// condition and returns every trial, failed repetitions included.
func (c *Coordinator) ExecuteTrial(ctx context.Context, cond model.Condition, repetitions int) []model.Trial {
	trials := make([]model.Trial, 0, repetitions)

	for rep := 0; rep < repetitions; rep++ {
		// A cancelled batch stops here; no point recording failed
		// trials against a context that can never recover.
		if ctx.Err() != nil {
			output.Logger.Warn("Batch cancelled, abandoning remaining repetitions",
				"condition", cond.ID, "completed", rep, "requested", repetitions)
			break
		}

		if rep > 0 && c.cfg.SettleDelay() > 0 {
			time.Sleep(c.cfg.SettleDelay())
		}

		trial := c.runOnce(ctx, cond, false)

		if !trial.Complete && trial.retryable {
			// One automatic retry per repetition. The retried trial
			// replaces the failed attempt but keeps the Retried flag so
			// it is never silently folded into the success count.
			metrics.RetriesTotal.Inc()
			output.Logger.Warn("Generation failed, retrying once",
				"condition", cond.ID, "repetition", rep+1, "error", trial.Error)
			if c.cfg.RetryDelay() > 0 {
				time.Sleep(c.cfg.RetryDelay())
			}
			trial = c.runOnce(ctx, cond, true)
		}

		status := "complete"
		if !trial.Complete {
			status = "failed"
		}
		metrics.TrialsTotal.WithLabelValues(cond.ID, status).Inc()

		trials = append(trials, trial.Trial)
	}

	return trials
}

// trialAttempt pairs the sealed trial with whether the failure that
// produced it is eligible for a retry.
type trialAttempt struct {
	model.Trial
	retryable bool
}

func (c *Coordinator) runOnce(ctx context.Context, cond model.Condition, retried bool) trialAttempt {
	genCtx := ctx
	var cancel context.CancelFunc
	if timeout := c.cfg.Timeout(); timeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s := c.newSampler()
	s.Start()

	res, runErr := c.monitor.Run(genCtx, cond)

	// Stop always runs, even for failed or cancelled generations, and
	// the collected samples are preserved for diagnostics.
	samples := s.Stop()

	metrics.GenerationDuration.Observe(res.End.Sub(res.Start).Seconds())

	trial := model.Trial{
		ID:                 uuid.NewString(),
		ConditionID:        cond.ID,
		PromptID:           promptID(cond.Prompt),
		Start:              res.Start,
		End:                res.End,
		Samples:            samples,
		Tokens:             res.Tokens,
		TokenCount:         len(res.Tokens),
		EvalCount:          res.EvalCount,
		BaselineWatts:      c.baselineWatts,
		Output:             res.Text,
		ApproximatedTiming: res.Approximated,
		Retried:            retried,
	}
	trial.Events = mergeEvents(samples, res.Tokens)

	if !res.Approximated && res.EvalCount > 0 && res.EvalCount != len(res.Tokens) {
		output.Logger.Warn("Chunk count differs from reported eval_count",
			"trial", trial.ID, "chunks", len(res.Tokens), "eval_count", res.EvalCount)
	}

	retryable := false
	switch {
	case runErr != nil && ctx.Err() != nil:
		// Parent cancellation is terminal regardless of how the
		// generation error surfaced.
		trial.Error = runErr.Error()
	case runErr != nil:
		trial.Error = runErr.Error()
		var gf *GenerationFailure
		retryable = errors.As(runErr, &gf) || errors.Is(runErr, context.DeadlineExceeded)
	case !spanCovers(samples, res.Start, res.End):
		trial.Error = "sample span does not cover generation window"
	default:
		trial.Complete = true
	}

	return trialAttempt{Trial: trial, retryable: retryable}
}

// spanCovers reports whether the samples bracket [start, end].
func spanCovers(samples []model.Sample, start, end time.Time) bool {
	if len(samples) == 0 {
		return false
	}
	return !samples[0].Timestamp.After(start) && !samples[len(samples)-1].Timestamp.Before(end)
}

// mergeEvents merges the two ordered event streams by timestamp. The
// merge is stable: on equal timestamps the Sample is ordered first,
// since sampling observes state strictly before the token that follows
// it is attributed that state.
func mergeEvents(samples []model.Sample, tokens []model.TokenEvent) []model.Event {
	events := make([]model.Event, 0, len(samples)+len(tokens))

	i, j := 0, 0
	for i < len(samples) && j < len(tokens) {
		if !samples[i].Timestamp.After(tokens[j].Timestamp) {
			s := samples[i]
			events = append(events, model.Event{Timestamp: s.Timestamp, Sample: &s})
			i++
		} else {
			t := tokens[j]
			events = append(events, model.Event{Timestamp: t.Timestamp, Token: &t})
			j++
		}
	}
	for ; i < len(samples); i++ {
		s := samples[i]
		events = append(events, model.Event{Timestamp: s.Timestamp, Sample: &s})
	}
	for ; j < len(tokens); j++ {
		t := tokens[j]
		events = append(events, model.Event{Timestamp: t.Timestamp, Token: &t})
	}

	return events
}

// promptID derives a stable short identifier from the prompt text so
// trial records can be grouped by prompt without embedding it twice.
func promptID(prompt string) string {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	return fmt.Sprintf("p-%08x", h.Sum32())
}
