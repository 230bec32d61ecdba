package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
)

// PageSource yields the ordered page texts of a stored document.
type PageSource interface {
	ExtractPages(ctx context.Context, path string) ([]domain.Page, error)
}

// Annotator is the opaque text-in/text-out generative model.
type Annotator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Embedder builds fixed-length vectors, deterministic for identical input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the nearest-neighbour structure owned by one retrieval index.
type VectorStore interface {
	Reset(ctx context.Context, dimensions int) error
	Add(ctx context.Context, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]domain.VectorHit, error)
}

// ObjectStorage stores uploaded source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Path(key string) string
}

// PipelineObserver receives stage-level telemetry.
type PipelineObserver interface {
	ObserveStage(stage string, duration time.Duration, degraded bool)
	ObserveAnnotation(stage string, status string)
	ObserveRun(outcome domain.Outcome, duration time.Duration)
}
