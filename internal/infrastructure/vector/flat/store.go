package flat

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
)

// Store is an exact in-memory L2 index. Search is a full scan; results are ordered by
// distance and ties go to the lower position.
type Store struct {
	mu         sync.RWMutex
	dimensions int
	vectors    [][]float32
}

func New() *Store {
	return &Store{}
}

func (s *Store) Reset(_ context.Context, dimensions int) error {
	if dimensions < 0 {
		return domain.WrapError(domain.ErrInvalidInput, "reset flat index", fmt.Errorf("negative dimensions %d", dimensions))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimensions = dimensions
	s.vectors = nil
	return nil
}

func (s *Store) Add(_ context.Context, vectors [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, vector := range vectors {
		if len(vector) != s.dimensions {
			return domain.WrapError(
				domain.ErrInvalidInput,
				"add to flat index",
				fmt.Errorf("vector %d has %d dimensions, index has %d", i, len(vector), s.dimensions),
			)
		}
	}
	for _, vector := range vectors {
		stored := make([]float32, len(vector))
		copy(stored, vector)
		s.vectors = append(s.vectors, stored)
	}
	return nil
}

func (s *Store) Search(_ context.Context, query []float32, k int) ([]domain.VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.vectors) == 0 {
		return []domain.VectorHit{}, nil
	}
	if len(query) != s.dimensions {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"search flat index",
			fmt.Errorf("query has %d dimensions, index has %d", len(query), s.dimensions),
		)
	}

	hits := make([]domain.VectorHit, len(s.vectors))
	for i, vector := range s.vectors {
		hits[i] = domain.VectorHit{Position: i, Distance: euclidean(query, vector)}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Distance < hits[b].Distance
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
