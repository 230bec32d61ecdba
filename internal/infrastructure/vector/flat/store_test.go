package flat

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
)

func TestSearchOrdersByDistanceThenPosition(t *testing.T) {
	store := New()
	ctx := context.Background()
	if err := store.Reset(ctx, 2); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if err := store.Add(ctx, [][]float32{{1, 0}, {0, 0}, {-1, 0}, {5, 5}}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	hits, err := store.Search(ctx, []float32{0, 0}, 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	wantPositions := []int{1, 0, 2}
	if len(hits) != len(wantPositions) {
		t.Fatalf("expected %d hits, got %d", len(wantPositions), len(hits))
	}
	for i, want := range wantPositions {
		if hits[i].Position != want {
			t.Fatalf("hit %d: expected position %d, got %d", i, want, hits[i].Position)
		}
	}
	if hits[1].Distance != 1 || hits[2].Distance != 1 {
		t.Fatalf("unexpected distances %+v", hits)
	}
}

func TestSearchKLargerThanCount(t *testing.T) {
	store := New()
	ctx := context.Background()
	_ = store.Reset(ctx, 1)
	_ = store.Add(ctx, [][]float32{{3}, {1}})

	hits, err := store.Search(ctx, []float32{0}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 || hits[0].Position != 1 {
		t.Fatalf("unexpected hits %+v", hits)
	}
}

func TestDimensionMismatch(t *testing.T) {
	store := New()
	ctx := context.Background()
	_ = store.Reset(ctx, 2)

	if err := store.Add(ctx, [][]float32{{1, 2}, {1}}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input on add, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("a rejected batch must not be partially added")
	}
	_ = store.Add(ctx, [][]float32{{1, 2}})
	if _, err := store.Search(ctx, []float32{1, 2, 3}, 1); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input on search, got %v", err)
	}
}

func TestResetClearsVectors(t *testing.T) {
	store := New()
	ctx := context.Background()
	_ = store.Reset(ctx, 1)
	_ = store.Add(ctx, [][]float32{{1}})
	_ = store.Reset(ctx, 3)

	hits, err := store.Search(ctx, []float32{0, 0, 0}, 1)
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected empty store after reset, got %v, %v", hits, err)
	}
}
