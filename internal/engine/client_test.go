package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/doctoroakin/ai-telemetry-test/internal/config"
)

func testClient(url string) *Client {
	cfg := &config.Config{
		URL:          url,
		Model:        "test-model",
		MaxTokens:    100,
		LoadTimeoutS: 5,
	}
	return NewClient(cfg)
}

func TestGetModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[{"name":"llama3.1:8b"},{"name":"qwen2.5:3b"}]}`))
	}))
	defer srv.Close()

	models, err := testClient(srv.URL).GetModels()
	if err != nil {
		t.Fatalf("GetModels: %v", err)
	}
	if len(models) != 2 || models[0] != "llama3.1:8b" {
		t.Errorf("models = %v", models)
	}
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"Hello","done":false}` + "\n"))
		w.Write([]byte(`{"response":" world","done":false}` + "\n"))
		w.Write([]byte("this is not json\n")) // garbage chunk mid-stream
		w.Write([]byte(`{"response":"!","done":false}` + "\n"))
		w.Write([]byte(`{"done":true,"eval_count":3}` + "\n"))
	}))
	defer srv.Close()

	var chunks []string
	res, err := testClient(srv.URL).GenerateStream(context.Background(), "hi", 0.7, func(text string) {
		chunks = append(chunks, text)
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	if res.Response != "Hello world!" {
		t.Errorf("response = %q", res.Response)
	}
	if res.EvalCount != 3 {
		t.Errorf("eval count = %d, want 3", res.EvalCount)
	}
	if len(chunks) != 3 {
		t.Errorf("got %d chunks, want 3 (garbage lines skipped)", len(chunks))
	}
}

func TestGenerateStreamMissingDoneMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"partial","done":false}` + "\n"))
		// connection closes without a done chunk
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GenerateStream(context.Background(), "hi", 0.7, func(string) {})
	if err == nil {
		t.Fatal("expected error for stream without done marker")
	}
	if !strings.Contains(err.Error(), "done marker") {
		t.Errorf("error = %v", err)
	}
}

func TestGenerateStreamAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"model not found"}` + "\n"))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GenerateStream(context.Background(), "hi", 0.7, func(string) {})
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("error = %v", err)
	}
}

func TestGenerateNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"full text","done":true,"eval_count":42}`))
	}))
	defer srv.Close()

	res, err := testClient(srv.URL).Generate(context.Background(), "hi", 0.0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Response != "full text" || res.EvalCount != 42 {
		t.Errorf("result = %+v", res)
	}
}

func TestGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), "hi", 0.0)
	if err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestGenerateStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"tok","done":false}` + "\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := testClient(srv.URL).GenerateStream(ctx, "hi", 0.7, func(string) {})
	if err == nil {
		t.Fatal("expected error after context timeout")
	}
}
