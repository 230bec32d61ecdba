package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/contract-analyzer/internal/infrastructure/resilience"
)

const defaultEmbedBatchSize = 32

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel, embedModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

// call posts through the executor when one is configured.
func (c *Client) call(ctx context.Context, path string, payload any, out any, operation string) error {
	post := func(ctx context.Context) error {
		return c.postJSON(ctx, path, payload, out, operation)
	}
	if c.executor == nil {
		return wrapOllamaError(operation, post(ctx))
	}
	return wrapOllamaError(operation, c.executor.Execute(ctx, "ollama."+operation, post, classifyOllamaError))
}

// Annotator sends clause-analysis prompts to /api/generate.
type Annotator struct {
	client *Client
}

func NewAnnotator(client *Client) *Annotator {
	return &Annotator{client: client}
}

func (a *Annotator) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  a.client.genModel,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": 0,
		},
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := a.client.call(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

type Embedder struct {
	client    *Client
	batchSize int
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client, batchSize: defaultEmbedBatchSize}
}

// Embed sends texts in slices of batchSize and keeps the input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		request := map[string]any{
			"model": e.client.embedModel,
			"input": texts[start:end],
		}
		var response struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := e.client.call(ctx, "/api/embed", request, &response, "embed"); err != nil {
			return nil, err
		}
		if len(response.Embeddings) != end-start {
			return nil, fmt.Errorf("ollama embed returned %d vectors for %d texts", len(response.Embeddings), end-start)
		}
		out = append(out, response.Embeddings...)
	}
	return out, nil
}
