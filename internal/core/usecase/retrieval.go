package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/core/ports"
)

// ClauseIndex maps nearest-neighbour positions in its vector store back to clauses.
// It is rebuilt from scratch on every Build; there is no incremental update.
type ClauseIndex struct {
	embedder ports.Embedder
	store    ports.VectorStore

	mu         sync.RWMutex
	clauses    []domain.Clause
	dimensions int
	built      bool
}

func NewClauseIndex(embedder ports.Embedder, store ports.VectorStore) *ClauseIndex {
	return &ClauseIndex{embedder: embedder, store: store}
}

func (ix *ClauseIndex) Build(ctx context.Context, clauses []domain.Clause) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.built = false
	ix.clauses = nil
	ix.dimensions = 0

	if len(clauses) == 0 {
		if err := ix.store.Reset(ctx, 0); err != nil {
			return fmt.Errorf("reset vector store: %w", err)
		}
		ix.built = true
		return nil
	}

	texts := make([]string, len(clauses))
	for i := range clauses {
		texts[i] = clauses[i].Text
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed clauses: %w", err)
	}
	if len(vectors) != len(clauses) {
		return domain.WrapError(
			domain.ErrInvalidInput,
			"build index",
			fmt.Errorf("vectors/clauses mismatch: %d/%d", len(vectors), len(clauses)),
		)
	}
	dimensions := len(vectors[0])
	for i, vector := range vectors {
		if len(vector) == 0 || len(vector) != dimensions {
			return domain.WrapError(
				domain.ErrInvalidInput,
				"build index",
				fmt.Errorf("vector %d has %d dimensions, want %d", i, len(vector), dimensions),
			)
		}
	}

	if err := ix.store.Reset(ctx, dimensions); err != nil {
		return fmt.Errorf("reset vector store: %w", err)
	}
	if err := ix.store.Add(ctx, vectors); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}

	snapshot := make([]domain.Clause, len(clauses))
	copy(snapshot, clauses)
	ix.clauses = snapshot
	ix.dimensions = dimensions
	ix.built = true
	return nil
}

// Query returns up to k clauses nearest-first. An unbuilt or empty index yields no
// results and no error.
func (ix *ClauseIndex) Query(ctx context.Context, text string, k int) ([]domain.RetrievedClause, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !ix.built || len(ix.clauses) == 0 || k <= 0 {
		return []domain.RetrievedClause{}, nil
	}
	if k > len(ix.clauses) {
		k = len(ix.clauses)
	}

	vectors, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) != ix.dimensions {
		got := 0
		if len(vectors) > 0 {
			got = len(vectors[0])
		}
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"query index",
			fmt.Errorf("query vector has %d dimensions, index has %d", got, ix.dimensions),
		)
	}

	hits, err := ix.store.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("search vector store: %w", err)
	}

	out := make([]domain.RetrievedClause, 0, len(hits))
	seen := make(map[int]struct{}, len(hits))
	for _, hit := range hits {
		if hit.Position < 0 || hit.Position >= len(ix.clauses) {
			continue
		}
		if _, dup := seen[hit.Position]; dup {
			continue
		}
		seen[hit.Position] = struct{}{}
		out = append(out, domain.RetrievedClause{
			Clause:   ix.clauses[hit.Position],
			Position: hit.Position,
			Distance: hit.Distance,
			Score:    1 / (1 + hit.Distance),
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (ix *ClauseIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.clauses)
}

func (ix *ClauseIndex) Built() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.built
}
