package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/resilience"
)

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}, nil)
}

func TestAnnotatorSendsPrompt(t *testing.T) {
	var capturedPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		capturedPrompt, _ = payload["prompt"].(string)
		if payload["stream"] != false {
			t.Fatalf("expected non-streaming request")
		}
		_, _ = w.Write([]byte(`{"response":"  [{\"index\":0,\"category\":\"Term\"}]\n"}`))
	}))
	defer server.Close()

	annotator := NewAnnotator(New(server.URL, "gen", "embed", fastExecutor()))
	got, err := annotator.Complete(context.Background(), "Classify these clauses")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if capturedPrompt != "Classify these clauses" {
		t.Fatalf("unexpected prompt: %s", capturedPrompt)
	}
	if got != `[{"index":0,"category":"Term"}]` {
		t.Fatalf("expected trimmed response, got %q", got)
	}
}

func TestAnnotatorRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer server.Close()

	annotator := NewAnnotator(New(server.URL, "gen", "embed", fastExecutor()))
	got, err := annotator.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "ok" || calls.Load() != 3 {
		t.Fatalf("expected success on third call, got %q after %d calls", got, calls.Load())
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", fastExecutor()))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error kind, got %v", err)
	}
}

func TestEmbedBadRequestIsNotTemporary(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown model", http.StatusNotFound)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", fastExecutor()))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status error, got %v", err)
	}
	if errors.Is(err, domain.ErrTemporary) || calls.Load() != 1 {
		t.Fatalf("404 must not be retried, calls=%d", calls.Load())
	}
}

func TestAnnotatorMissingModelIsConfigurationError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"llama3\" not found, try pulling it first"}`))
	}))
	defer server.Close()

	annotator := NewAnnotator(New(server.URL, "llama3", "embed", fastExecutor()))
	_, err := annotator.Complete(context.Background(), "prompt")
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if errors.Is(err, domain.ErrTemporary) || calls.Load() != 1 {
		t.Fatalf("missing model must not be retried, calls=%d", calls.Load())
	}
}

func TestEmbedBatchesInputInOrder(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var payload struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		vectors := make([][]float32, len(payload.Input))
		for i, text := range payload.Input {
			var n float32
			_, _ = fmt.Sscanf(text, "t%f", &n)
			vectors[i] = []float32{n, 1}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", nil))
	embedder.batchSize = 2
	texts := []string{"t0", "t1", "t2", "t3", "t4"}

	vectors, err := embedder.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if requests.Load() != 3 || len(vectors) != 5 {
		t.Fatalf("expected 3 requests and 5 vectors, got %d and %d", requests.Load(), len(vectors))
	}
	for i, vector := range vectors {
		if vector[0] != float32(i) {
			t.Fatalf("vector %d out of order: %v", i, vector)
		}
	}
}
