package engine

import (
	"context"
	"time"

	"github.com/doctoroakin/ai-telemetry-test/internal/metrics"
	"github.com/doctoroakin/ai-telemetry-test/internal/model"
)

// GenerationFailure wraps an error from the generation call together
// with the number of tokens that arrived before it. The trial it belongs
// to is marked incomplete, never discarded.
type GenerationFailure struct {
	Err           error
	PartialTokens int
}

func (e *GenerationFailure) Error() string {
	return e.Err.Error()
}

func (e *GenerationFailure) Unwrap() error {
	return e.Err
}

// MonitorResult is the outcome of one monitored generation call.
type MonitorResult struct {
	Text   string
	Tokens []model.TokenEvent
	// EvalCount is the token count the backend reported for the
	// generation, independent of how many chunk events were observed.
	EvalCount int
	// Approximated is set when the backend could not stream and the
	// per-token timestamps were derived by evenly distributing the
	// elapsed time across the reported token count.
	Approximated bool
	Start        time.Time
	End          time.Time
}

// Monitor wraps a single generation call and records a timestamp at the
// start and at each emitted token.
type Monitor struct {
	client *Client
}

// NewMonitor creates a monitor over the given client.
func NewMonitor(client *Client) *Monitor {
	return &Monitor{client: client}
}

// Run executes one generation under the given condition. On failure it
// returns a *GenerationFailure carrying whatever tokens arrived first.
func (m *Monitor) Run(ctx context.Context, cond model.Condition) (MonitorResult, error) {
	if m.client.Config.Stream {
		return m.runStreaming(ctx, cond)
	}
	return m.runBatch(ctx, cond)
}

func (m *Monitor) runStreaming(ctx context.Context, cond model.Condition) (MonitorResult, error) {
	res := MonitorResult{Start: time.Now()}

	gen, err := m.client.GenerateStream(ctx, cond.Prompt, cond.Temperature, func(text string) {
		res.Tokens = append(res.Tokens, model.TokenEvent{
			Timestamp: time.Now(),
			Index:     len(res.Tokens),
			Text:      text,
		})
		metrics.TokensObserved.Inc()
	})
	res.End = time.Now()
	res.Text = gen.Response
	res.EvalCount = gen.EvalCount

	if err != nil {
		// A dead context is not a generation failure. Surface it
		// unwrapped so the retry policy never resurrects it.
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, &GenerationFailure{Err: err, PartialTokens: len(res.Tokens)}
	}
	return res, nil
}

// runBatch approximates per-token timestamps by evenly distributing the
// elapsed time across the reported token count. Downstream consumers see
// this through the Approximated flag and exclude such trials from
// latency-sensitive metrics.
func (m *Monitor) runBatch(ctx context.Context, cond model.Condition) (MonitorResult, error) {
	res := MonitorResult{Start: time.Now(), Approximated: true}

	gen, err := m.client.Generate(ctx, cond.Prompt, cond.Temperature)
	res.End = time.Now()
	res.Text = gen.Response
	res.EvalCount = gen.EvalCount

	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, &GenerationFailure{Err: err}
	}

	n := gen.EvalCount
	elapsed := res.End.Sub(res.Start)
	res.Tokens = make([]model.TokenEvent, 0, n)
	for i := 0; i < n; i++ {
		res.Tokens = append(res.Tokens, model.TokenEvent{
			Timestamp: res.Start.Add(elapsed * time.Duration(i+1) / time.Duration(n)),
			Index:     i,
		})
		metrics.TokensObserved.Inc()
	}

	return res, nil
}
