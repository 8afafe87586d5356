/*
PURPOSE:
  HTTP client for the Ollama inference boundary.
  Handles model discovery and streaming/non-streaming generation. The
  harness treats generation as a black box: only timing and token counts
  are observable.

REQUIREMENTS:
  User-specified:
  - Stream inference with per-chunk delivery (with timeout and garbage
    resilience).
  - Non-stream inference for backends without streaming support.

  Implementation-discovered:
  - Needs http.Client with timeouts split between load and generation.
  - Resilience against invalid JSON chunks in the stream.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (monitor, runner), internal/cli
  - Uses: internal/config, internal/output

ERROR HANDLING:
  - Network and API errors are returned to the monitor, which converts
    them into GenerationFailure with the partial token count.
  - Header timeouts (model loading) are classified separately.

IMPLEMENTATION RULES:
  - Use net/http.
  - Parse streaming JSON line-by-line; skip garbage chunks.

USAGE:
  c := engine.NewClient(cfg)
  res, err := c.GenerateStream(ctx, prompt, 0.7, onChunk)

SELF-HEALING INSTRUCTIONS:
  - If the Ollama API changes, update endpoints (/api/tags, /api/generate).

RELATED FILES:
  - internal/engine/monitor.go

MAINTENANCE:
  - Update for new Ollama API features.
*/

package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/doctoroakin/ai-telemetry-test/internal/config"
	"github.com/doctoroakin/ai-telemetry-test/internal/output"
)

// Client handles Ollama interactions.
type Client struct {
	Config *config.Config
	HTTP   *http.Client
}

// NewClient creates a client. ResponseHeaderTimeout covers the window
// until the first response byte, which is where model loading happens.
func NewClient(cfg *config.Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.LoadTimeout()

	return &Client{
		Config: cfg,
		HTTP: &http.Client{
			Transport: transport,
		},
	}
}

// GetModels returns the list of models available on the target host.
func (c *Client) GetModels() ([]string, error) {
	resp, err := c.HTTP.Get(fmt.Sprintf("%s/api/tags", c.Config.URL))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	var names []string
	for _, m := range payload.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// GenerateResult carries the observable outcome of one generation call.
type GenerateResult struct {
	Response  string
	EvalCount int
}

func (c *Client) generateRequest(ctx context.Context, prompt string, temperature float64, stream bool) (*http.Request, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"model":  c.Config.Model,
		"prompt": prompt,
		"stream": stream,
		"options": map[string]interface{}{
			"temperature": temperature,
			"num_predict": c.Config.MaxTokens,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/api/generate", c.Config.URL), bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func classifyNetworkError(err error) error {
	if strings.Contains(err.Error(), "awaiting headers") {
		return fmt.Errorf("header timeout (model loading?): %w", err)
	}
	return fmt.Errorf("network error: %w", err)
}

// GenerateStream runs a streaming generation, invoking onChunk for every
// token chunk as it arrives. Invalid JSON chunks are skipped; a stream
// that ends without a done marker is an error.
func (c *Client) GenerateStream(ctx context.Context, prompt string, temperature float64, onChunk func(text string)) (GenerateResult, error) {
	req, err := c.generateRequest(ctx, prompt, temperature, true)
	if err != nil {
		return GenerateResult{}, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return GenerateResult{}, classifyNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return GenerateResult{}, fmt.Errorf("server error (%s): %s", resp.Status, string(body))
	}

	var res GenerateResult
	var text strings.Builder
	gotDone := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk struct {
			Response  string `json:"response"`
			Done      bool   `json:"done"`
			EvalCount int    `json:"eval_count"`
			Error     string `json:"error"`
		}

		if err := json.Unmarshal(line, &chunk); err != nil {
			output.Logger.Warn("Skipping invalid JSON chunk", "chunk", string(line))
			continue
		}

		if chunk.Error != "" {
			return res, fmt.Errorf("api error: %s", chunk.Error)
		}

		if chunk.Response != "" {
			text.WriteString(chunk.Response)
			onChunk(chunk.Response)
		}

		if chunk.Done {
			gotDone = true
			res.EvalCount = chunk.EvalCount
			break
		}
	}

	res.Response = text.String()

	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("stream read: %w", err)
	}
	if !gotDone {
		return res, fmt.Errorf("stream ended without done marker")
	}

	return res, nil
}

// Generate runs a non-streaming generation and returns the full result.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float64) (GenerateResult, error) {
	req, err := c.generateRequest(ctx, prompt, temperature, false)
	if err != nil {
		return GenerateResult{}, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return GenerateResult{}, classifyNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return GenerateResult{}, fmt.Errorf("server error (%s): %s", resp.Status, string(body))
	}

	var data struct {
		Response  string `json:"response"`
		Done      bool   `json:"done"`
		EvalCount int    `json:"eval_count"`
		Error     string `json:"error"`
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(bodyBytes, &data); err != nil {
		return GenerateResult{}, fmt.Errorf("invalid JSON response: %w (body: %s)", err, string(bodyBytes))
	}
	if data.Error != "" {
		return GenerateResult{}, fmt.Errorf("api error: %s", data.Error)
	}

	return GenerateResult{Response: data.Response, EvalCount: data.EvalCount}, nil
}

// Warmup runs a short throwaway generation so the first measured trial
// does not pay the model cold-start cost.
func (c *Client) Warmup(ctx context.Context) error {
	warmupCtx := ctx
	if d := c.Config.LoadTimeout(); d > 0 {
		var cancel context.CancelFunc
		warmupCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	_, err := c.Generate(warmupCtx, "Hello", 0)
	if err != nil {
		return err
	}
	output.Logger.Info("Warmup complete", "elapsed", time.Since(start))
	return nil
}
