package ports

import (
	"context"
	"io"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
)

// DocumentAnalyzer is the inbound contract for one single-document analysis run.
type DocumentAnalyzer interface {
	AnalyzeUpload(ctx context.Context, filename string, body io.Reader) (*domain.AnalysisResult, error)
	AnalyzeFile(ctx context.Context, path string) (*domain.AnalysisResult, error)
}

// RunReader exposes results kept in process after a run.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*domain.AnalysisResult, error)
}

// ClauseSearcher answers semantic questions against a finished run's index.
type ClauseSearcher interface {
	QueryRun(ctx context.Context, runID, question string, k int) ([]domain.RetrievedClause, error)
}
