package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/core/ports"
)

const DefaultRunCacheSize = 64

// AnalyzeDocumentUseCase stores uploads, runs the pipeline and keeps recent runs in
// memory so their indexes can be queried afterwards. Nothing survives a restart.
type AnalyzeDocumentUseCase struct {
	storage  ports.ObjectStorage
	pipeline *Pipeline
	runs     *lru.Cache[string, *Run]
	topK     int
}

func NewAnalyzeDocumentUseCase(
	storage ports.ObjectStorage,
	pipeline *Pipeline,
	cacheSize int,
) (*AnalyzeDocumentUseCase, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultRunCacheSize
	}
	runs, err := lru.New[string, *Run](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create run cache: %w", err)
	}
	topK := pipeline.opts.DefaultTopK
	if topK <= 0 {
		topK = 5
	}
	return &AnalyzeDocumentUseCase{
		storage:  storage,
		pipeline: pipeline,
		runs:     runs,
		topK:     topK,
	}, nil
}

func (uc *AnalyzeDocumentUseCase) AnalyzeUpload(
	ctx context.Context,
	filename string,
	body io.Reader,
) (*domain.AnalysisResult, error) {
	if uc.storage == nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "analyze upload", errors.New("object storage is not configured"))
	}
	storageKey := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(filename))
	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	run, err := uc.pipeline.AnalyzeFile(ctx, uc.storage.Path(storageKey))
	if run != nil {
		run.Result.SourceFile = filepath.Base(filename)
	}
	return uc.keep(run, err)
}

func (uc *AnalyzeDocumentUseCase) AnalyzeFile(ctx context.Context, path string) (*domain.AnalysisResult, error) {
	return uc.keep(uc.pipeline.AnalyzeFile(ctx, path))
}

// keep caches every run that produced a result. An interrupted run is cached and
// returned together with its error so callers can still read the partial clauses.
func (uc *AnalyzeDocumentUseCase) keep(run *Run, err error) (*domain.AnalysisResult, error) {
	if run == nil {
		if err == nil {
			err = errors.New("pipeline returned no run")
		}
		return nil, fmt.Errorf("analyze document: %w", err)
	}
	uc.runs.Add(run.Result.RunID, run)
	if err != nil {
		return run.Result, fmt.Errorf("analyze document: %w", err)
	}
	return run.Result, nil
}

func (uc *AnalyzeDocumentUseCase) GetRun(_ context.Context, runID string) (*domain.AnalysisResult, error) {
	run, ok := uc.runs.Get(runID)
	if !ok {
		return nil, domain.WrapError(domain.ErrRunNotFound, "get run", fmt.Errorf("run %q", runID))
	}
	return run.Result, nil
}

func (uc *AnalyzeDocumentUseCase) QueryRun(
	ctx context.Context,
	runID, question string,
	k int,
) ([]domain.RetrievedClause, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "query run", errors.New("question is required"))
	}
	run, ok := uc.runs.Get(runID)
	if !ok {
		return nil, domain.WrapError(domain.ErrRunNotFound, "query run", fmt.Errorf("run %q", runID))
	}
	if k <= 0 {
		k = uc.topK
	}
	hits, err := run.Index.Query(ctx, question, k)
	if err != nil {
		return nil, fmt.Errorf("query clause index: %w", err)
	}
	return hits, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "_" {
		return "document.bin"
	}
	return base
}
