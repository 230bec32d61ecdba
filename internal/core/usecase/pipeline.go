package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/core/ports"
)

const (
	stageSegmentation = "segmentation"
	stageIndexing     = "indexing"
	stageRetrieval    = "retrieval"
)

const DefaultQuery = "What are the termination conditions?"

type PipelineOptions struct {
	BatchSize    int
	DefaultQuery string
	DefaultTopK  int
	Summary      SummaryOptions
	// RuleBasedSummary controls whether a degraded run still gets a deterministic summary.
	RuleBasedSummary bool
}

func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		BatchSize:        DefaultBatchSize,
		DefaultQuery:     DefaultQuery,
		DefaultTopK:      5,
		Summary:          DefaultSummaryOptions(),
		RuleBasedSummary: true,
	}
}

// Run is one finished (or aborted) analysis together with the index it built.
type Run struct {
	Result *domain.AnalysisResult
	Index  *ClauseIndex
}

type Pipeline struct {
	pages     ports.PageSource
	annotator ports.Annotator
	embedder  ports.Embedder
	newStore  func() ports.VectorStore
	observer  ports.PipelineObserver
	logger    *slog.Logger
	opts      PipelineOptions

	// unavailable explains why annotator is nil.
	unavailable error

	classifier *ClassificationStage
	extractor  *ObligationStage
	summarizer *Summarizer
}

// NewPipeline wires the stages. A nil annotator routes every run to the degraded path.
// newStore is called once per run so that runs never share an index.
func NewPipeline(
	pages ports.PageSource,
	annotator ports.Annotator,
	embedder ports.Embedder,
	newStore func() ports.VectorStore,
	observer ports.PipelineObserver,
	logger *slog.Logger,
	opts PipelineOptions,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	opts.Summary = opts.Summary.normalize()
	return &Pipeline{
		pages:      pages,
		annotator:  annotator,
		embedder:   embedder,
		newStore:   newStore,
		observer:   observer,
		logger:     logger,
		opts:       opts,
		classifier: NewClassificationStage(annotator, opts.BatchSize, observer, logger),
		extractor:  NewObligationStage(annotator, opts.BatchSize, observer, logger),
		summarizer: NewSummarizer(annotator, opts.Summary, observer),
	}
}

// WithClassificationAnnotator routes classification prompts to a separate model.
// It has no effect on a pipeline built without an annotator.
func (p *Pipeline) WithClassificationAnnotator(annotator ports.Annotator) *Pipeline {
	if p.annotator == nil || annotator == nil {
		return p
	}
	p.classifier = NewClassificationStage(annotator, p.opts.BatchSize, p.observer, p.logger)
	return p
}

// WithAnnotatorUnavailable records why no annotator is configured so degraded runs
// report the cause, for example a missing credential.
func (p *Pipeline) WithAnnotatorUnavailable(reason error) *Pipeline {
	p.unavailable = reason
	return p
}

func (p *Pipeline) AnalyzeFile(ctx context.Context, path string) (*Run, error) {
	if p.pages == nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "analyze file", errors.New("page source is not configured"))
	}
	pages, err := p.pages.ExtractPages(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract pages: %w", err)
	}
	return p.RunPipeline(ctx, filepath.Base(path), pages)
}

// RunPipeline analyzes one document. Annotator failures never fail the run; they switch
// it to the rule-based path. A cancelled context returns the partial run with the
// context error, keeping every mutation already made.
func (p *Pipeline) RunPipeline(ctx context.Context, source string, pages []domain.Page) (*Run, error) {
	run := &runState{
		pipeline: p,
		result: &domain.AnalysisResult{
			RunID:      uuid.NewString(),
			SourceFile: source,
			StartedAt:  time.Now().UTC(),
			States:     []domain.RunState{domain.StateIngested},
		},
		logger: p.logger.With("source_file", source),
	}
	if p.annotator == nil {
		reason := p.unavailable
		if reason == nil {
			reason = errors.New("annotator not configured")
		}
		run.degrade(reason)
	}
	run.logger = run.logger.With("run_id", run.result.RunID)
	run.logger.Info("pipeline_started", "pages", len(pages), "degraded", run.result.Degraded)

	err := run.execute(ctx, pages)
	run.finish()
	if err != nil {
		run.logger.Warn("pipeline_aborted", "error", err)
		return &Run{Result: run.result, Index: run.index}, err
	}
	return &Run{Result: run.result, Index: run.index}, nil
}

type runState struct {
	pipeline *Pipeline
	result   *domain.AnalysisResult
	index    *ClauseIndex
	logger   *slog.Logger
}

func (r *runState) execute(ctx context.Context, pages []domain.Page) error {
	p := r.pipeline

	started := time.Now()
	clauses := SegmentPages(pages)
	r.result.Clauses = clauses
	r.observeStage(stageSegmentation, started)

	r.index = NewClauseIndex(p.embedder, p.newStore())
	if len(clauses) == 0 {
		r.result.Outcome = domain.OutcomeEmpty
		r.logger.Warn("pipeline_empty_document", "error", domain.ErrEmptyDocument)
		return nil
	}

	if err := r.classify(ctx, clauses); err != nil {
		return err
	}
	if err := r.extract(ctx, clauses); err != nil {
		return err
	}
	if err := r.buildIndex(ctx, clauses); err != nil {
		return err
	}
	if err := r.defaultQuery(ctx); err != nil {
		return err
	}
	return r.summarize(ctx, clauses)
}

func (r *runState) classify(ctx context.Context, clauses []domain.Clause) error {
	started := time.Now()
	if !r.result.Degraded {
		report, err := r.pipeline.classifier.Classify(ctx, clauses)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.degrade(err)
		} else {
			r.logger.Debug("stage_completed", "stage", stageClassification, "batches", report.Batches, "parse_failures", report.ParseFailures)
		}
	}
	if r.result.Degraded {
		RuleClassifier{}.Classify(clauses)
	}
	r.transition(domain.StateClassified)
	r.observeStage(stageClassification, started)
	return nil
}

func (r *runState) extract(ctx context.Context, clauses []domain.Clause) error {
	started := time.Now()
	if !r.result.Degraded {
		report, err := r.pipeline.extractor.Extract(ctx, clauses)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.degrade(err)
		} else {
			r.logger.Debug("stage_completed", "stage", stageExtraction, "batches", report.Batches, "parse_failures", report.ParseFailures)
		}
	}
	if r.result.Degraded {
		RuleExtractor{}.Extract(clauses)
	}
	r.transition(domain.StateExtracted)
	r.observeStage(stageExtraction, started)
	return nil
}

// buildIndex records a failed build on the result instead of failing the run; queries
// against an unbuilt index answer empty.
func (r *runState) buildIndex(ctx context.Context, clauses []domain.Clause) error {
	started := time.Now()
	if err := r.index.Build(ctx, clauses); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.result.IndexError = err.Error()
		r.logger.Warn("index_build_failed", "error", err)
		r.observeStage(stageIndexing, started)
		return nil
	}
	r.transition(domain.StateIndexed)
	r.observeStage(stageIndexing, started)
	return nil
}

func (r *runState) defaultQuery(ctx context.Context) error {
	opts := r.pipeline.opts
	if opts.DefaultQuery == "" || opts.DefaultTopK <= 0 || !r.index.Built() {
		return nil
	}
	started := time.Now()
	r.result.DefaultQuery = opts.DefaultQuery
	hits, err := r.index.Query(ctx, opts.DefaultQuery, opts.DefaultTopK)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.logger.Warn("default_query_failed", "error", err)
		return nil
	}
	r.result.Retrieved = hits
	r.observeStage(stageRetrieval, started)
	return nil
}

func (r *runState) summarize(ctx context.Context, clauses []domain.Clause) error {
	p := r.pipeline
	started := time.Now()
	if !r.result.Degraded {
		summary, err := p.summarizer.Summarize(ctx, clauses)
		if err == nil {
			r.result.Summary = summary
			r.result.Outcome = domain.OutcomeSummarized
			r.transition(domain.StateSummarized)
			r.observeStage(stageSummarization, started)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.degrade(err)
	}
	if p.opts.RuleBasedSummary {
		r.result.Summary = RuleBasedSummary(clauses, p.opts.Summary)
	}
	r.result.Outcome = domain.OutcomeDegradedComplete
	r.transition(domain.StateDegradedComplete)
	r.observeStage(stageSummarization, started)
	return nil
}

// degrade switches the rest of the run to the rule-based path. Only the first reason is kept.
func (r *runState) degrade(reason error) {
	if r.result.Degraded {
		return
	}
	r.result.Degraded = true
	r.result.DegradedReason = reason.Error()
	r.result.States = append(r.result.States, domain.StateDegraded)
	if r.logger != nil {
		r.logger.Warn("pipeline_degraded", "reason", reason)
	}
}

func (r *runState) transition(state domain.RunState) {
	r.result.States = append(r.result.States, state)
}

func (r *runState) observeStage(stage string, started time.Time) {
	if r.pipeline.observer != nil {
		r.pipeline.observer.ObserveStage(stage, time.Since(started), r.result.Degraded)
	}
}

func (r *runState) finish() {
	res := r.result
	res.FinishedAt = time.Now().UTC()
	res.Stats = domain.ComputeStats(res.Clauses, len(res.Retrieved), res.Summary)
	if r.pipeline.observer != nil && res.Outcome != "" {
		r.pipeline.observer.ObserveRun(res.Outcome, res.FinishedAt.Sub(res.StartedAt))
	}
	r.logger.Info("pipeline_finished",
		"outcome", res.Outcome,
		"degraded", res.Degraded,
		"clauses", res.Stats.TotalClauses,
		"with_obligations", res.Stats.WithObligations,
		"duration_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	)
}
