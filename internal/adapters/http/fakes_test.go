package httpadapter

import (
	"context"
	"errors"
	"io"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
)

type analyzerFake struct {
	result   *domain.AnalysisResult
	err      error
	filename string
	body     string
}

func (f *analyzerFake) AnalyzeUpload(_ context.Context, filename string, body io.Reader) (*domain.AnalysisResult, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.filename = filename
	f.body = string(raw)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *analyzerFake) AnalyzeFile(context.Context, string) (*domain.AnalysisResult, error) {
	return nil, errors.New("not used")
}

type runsFake struct {
	runs map[string]*domain.AnalysisResult
}

func (f runsFake) GetRun(_ context.Context, runID string) (*domain.AnalysisResult, error) {
	if res, ok := f.runs[runID]; ok {
		return res, nil
	}
	return nil, domain.WrapError(domain.ErrRunNotFound, "get run", errors.New("run_id="+runID))
}

type searcherFake struct {
	hits     []domain.RetrievedClause
	err      error
	question string
	k        int
}

func (f *searcherFake) QueryRun(_ context.Context, _ string, question string, k int) ([]domain.RetrievedClause, error) {
	f.question = question
	f.k = k
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func sampleRun() *domain.AnalysisResult {
	clause, _ := domain.NewClause("page_1_clause_1", "Either party may terminate with notice.", 1)
	clause.Label = domain.CategoryTermination
	clause.SetObligation(true, "Give notice")
	clauses := []domain.Clause{clause}
	return &domain.AnalysisResult{
		RunID:   "run-1",
		Clauses: clauses,
		Outcome: domain.OutcomeDegradedComplete,
		Stats:   domain.ComputeStats(clauses, 0, nil),
	}
}
