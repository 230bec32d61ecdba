package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
)

// Store keeps one clause index in its own Qdrant collection. Points are keyed by their
// position in the index and the collection is dropped and recreated on every Reset.
type Store struct {
	baseURL    string
	collection string
	httpClient *http.Client

	mu         sync.Mutex
	dimensions int
	count      int
}

func New(baseURL, collectionPrefix string) *Store {
	if collectionPrefix == "" {
		collectionPrefix = "clauses"
	}
	return &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collectionPrefix + "_" + uuid.NewString(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *Store) Collection() string {
	return s.collection
}

func (s *Store) Reset(ctx context.Context, dimensions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(ctx, http.MethodDelete, s.collectionURL(), nil, nil, "drop collection", http.StatusNotFound); err != nil {
		return err
	}
	s.dimensions = dimensions
	s.count = 0
	if dimensions == 0 {
		return nil
	}

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     dimensions,
			"distance": "Euclid",
		},
	}
	return s.send(ctx, http.MethodPut, s.collectionURL(), reqBody, nil, "create collection", http.StatusConflict)
}

func (s *Store) Add(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	type point struct {
		ID      int            `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	points := make([]point, 0, len(vectors))
	for i, vector := range vectors {
		if len(vector) != s.dimensions {
			return domain.WrapError(
				domain.ErrInvalidInput,
				"qdrant upsert",
				fmt.Errorf("vector %d has %d dimensions, collection has %d", i, len(vector), s.dimensions),
			)
		}
		position := s.count + i
		points = append(points, point{
			ID:      position,
			Vector:  vector,
			Payload: map[string]any{"position": position},
		})
	}

	url := s.collectionURL() + "/points?wait=true"
	if err := s.send(ctx, http.MethodPut, url, map[string]any{"points": points}, nil, "upsert"); err != nil {
		return err
	}
	s.count += len(vectors)
	return nil
}

func (s *Store) Search(ctx context.Context, query []float32, k int) ([]domain.VectorHit, error) {
	s.mu.Lock()
	count := s.count
	s.mu.Unlock()
	if k <= 0 || count == 0 {
		return []domain.VectorHit{}, nil
	}

	reqBody := map[string]any{
		"vector":       query,
		"limit":        k,
		"with_payload": true,
	}
	var searchResp struct {
		Result []struct {
			ID      json.Number    `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.send(ctx, http.MethodPost, s.collectionURL()+"/points/search", reqBody, &searchResp, "search"); err != nil {
		return nil, err
	}

	out := make([]domain.VectorHit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		position, ok := positionOf(r.Payload, r.ID)
		if !ok {
			continue
		}
		// With the Euclid metric Qdrant reports the distance itself as the score.
		out = append(out, domain.VectorHit{Position: position, Distance: r.Score})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Distance != out[b].Distance {
			return out[a].Distance < out[b].Distance
		}
		return out[a].Position < out[b].Position
	})
	return out, nil
}

func (s *Store) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.baseURL, s.collection)
}

// send performs one JSON call. Statuses listed in tolerated count as success.
func (s *Store) send(ctx context.Context, method, url string, payload any, out any, operation string, tolerated ...int) error {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	for _, status := range tolerated {
		if resp.StatusCode == status {
			return nil
		}
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, msg)
		}
		return fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func positionOf(payload map[string]any, id json.Number) (int, bool) {
	if v, ok := payload["position"]; ok {
		if f, ok := v.(float64); ok {
			return int(f), true
		}
	}
	if n, err := id.Int64(); err == nil {
		return int(n), true
	}
	return 0, false
}
