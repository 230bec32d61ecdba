package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/resilience"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}, nil)
	client, err := New(Config{BaseURL: baseURL, APIKey: "secret", Model: "models/gemini-2.0-flash"}, executor)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{}, nil)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCompleteSendsGenerateContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.0-flash:generateContent" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-goog-api-key") != "secret" {
			t.Fatalf("expected api key header")
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "hello" {
			t.Fatalf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"[{\"index\":0,"},{"text":"\"category\":\"Term\"}]"}]}}]}`))
	}))
	defer server.Close()

	got, err := newTestClient(t, server.URL).Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != `[{"index":0,"category":"Term"}]` {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestCompleteRetriesRateLimitAndMarksTemporary(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Complete(context.Background(), "hello")
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestCompleteEmptyCandidateFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
	}))
	defer server.Close()

	if _, err := newTestClient(t, server.URL).Complete(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for empty candidate")
	}
}

func TestSelectModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = w.Write([]byte(`{"models":[
				{"name":"models/embedding-001","supportedGenerationMethods":["embedContent"]},
				{"name":"models/gemini-1.5-flash","supportedGenerationMethods":["generateContent"]}
			],"nextPageToken":"p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"models":[{"name":"models/gemini-2.0-flash-lite","supportedGenerationMethods":["generateContent","countTokens"]}]}`))
	}))
	defer server.Close()
	client := newTestClient(t, server.URL)

	if got := client.SelectModel(context.Background(), []string{"gemini-2.5-pro", "gemini-2.0-flash-lite"}, nil); got != "gemini-2.0-flash-lite" {
		t.Fatalf("expected preferred model, got %s", got)
	}
	if got := client.SelectModel(context.Background(), []string{"gemini-9"}, nil); got != "gemini-1.5-flash" {
		t.Fatalf("expected first capable model, got %s", got)
	}
}

func TestSelectModelFallsBackOnListFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if got := client.SelectModel(context.Background(), []string{"gemini-2.0-flash-lite"}, nil); got != "gemini-2.0-flash" {
		t.Fatalf("expected configured model, got %s", got)
	}
	if client.WithModel("models/other").Model() != "other" || client.Model() != "gemini-2.0-flash" {
		t.Fatalf("WithModel must not mutate the receiver")
	}
}
