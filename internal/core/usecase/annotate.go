package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/core/ports"
)

const DefaultBatchSize = 10

const (
	annotationStatusOK           = "ok"
	annotationStatusParseFailure = "parse_failure"
	annotationStatusError        = "error"
)

// batchItem is one decoded element of a model response, addressed by its batch-local index.
type batchItem interface {
	position() int
	validate() error
}

// annotationTask carries the stage-specific parts of the shared batching contract.
type annotationTask[T batchItem] struct {
	stage        string
	buildPrompt  func(batch []domain.Clause) string
	apply        func(clause *domain.Clause, item T)
	isSet        func(clause *domain.Clause) bool
	applyDefault func(clause *domain.Clause)
}

type batchReport struct {
	Batches       int
	ParseFailures int
	// Processed is the number of leading clauses whose batch completed, successfully or not.
	Processed int
}

type annotationRunner struct {
	annotator ports.Annotator
	batchSize int
	observer  ports.PipelineObserver
	logger    *slog.Logger
}

// runAnnotation walks the clauses in fixed-size batches, one annotator call per batch.
// Parse failures are absorbed per batch. An annotator error stops the walk and is returned
// wrapped as ErrAnnotatorFailure; batches already applied stay applied.
func runAnnotation[T batchItem](ctx context.Context, r annotationRunner, clauses []domain.Clause, task annotationTask[T]) (batchReport, error) {
	var report batchReport
	size := r.batchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	for start := 0; start < len(clauses); start += size {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		end := start + size
		if end > len(clauses) {
			end = len(clauses)
		}
		batch := clauses[start:end]
		report.Batches++

		raw, err := r.annotator.Complete(ctx, task.buildPrompt(batch))
		if err != nil {
			r.observe(task.stage, annotationStatusError)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			return report, domain.WrapError(domain.ErrAnnotatorFailure, task.stage, err)
		}

		items, err := decodeBatchResponse[T](raw)
		if err != nil {
			report.ParseFailures++
			r.observe(task.stage, annotationStatusParseFailure)
			r.logger.Warn("annotation_parse_failure",
				"stage", task.stage,
				"batch_start", start,
				"batch_size", len(batch),
				"error", err,
			)
			for i := range batch {
				if !task.isSet(&batch[i]) {
					task.applyDefault(&batch[i])
				}
			}
			report.Processed = end
			continue
		}

		r.observe(task.stage, annotationStatusOK)
		for _, item := range items {
			idx := item.position()
			if idx < 0 || idx >= len(batch) {
				continue
			}
			// Duplicate indices: last write wins.
			task.apply(&batch[idx], item)
		}
		report.Processed = end
	}
	return report, nil
}

func (r annotationRunner) observe(stage, status string) {
	if r.observer != nil {
		r.observer.ObserveAnnotation(stage, status)
	}
}

// decodeBatchResponse validates the whole response before anything is applied, so a batch
// is either applied from a well-formed array or treated as one parse failure.
func decodeBatchResponse[T batchItem](raw string) ([]T, error) {
	body := []byte(UnwrapCodeFence(raw))
	if len(body) == 0 || body[0] != '[' {
		return nil, domain.WrapError(domain.ErrParseFailure, "decode batch", errors.New("response is not a json array"))
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(body, &elements); err != nil {
		return nil, domain.WrapError(domain.ErrParseFailure, "decode batch", err)
	}

	out := make([]T, 0, len(elements))
	for i, element := range elements {
		element = bytes.TrimSpace(element)
		if len(element) == 0 || element[0] != '{' {
			return nil, domain.WrapError(domain.ErrParseFailure, "decode batch", fmt.Errorf("element %d is not an object", i))
		}
		var item T
		if err := json.Unmarshal(element, &item); err != nil {
			return nil, domain.WrapError(domain.ErrParseFailure, "decode batch", fmt.Errorf("element %d: %w", i, err))
		}
		if err := item.validate(); err != nil {
			return nil, domain.WrapError(domain.ErrParseFailure, "decode batch", fmt.Errorf("element %d: %w", i, err))
		}
		out = append(out, item)
	}
	return out, nil
}

// UnwrapCodeFence strips a Markdown code fence (with an optional "json" tag) around a
// model response. Input without a fence is only trimmed.
func UnwrapCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = text[3:]
		if len(text) >= 4 && strings.EqualFold(text[:4], "json") {
			text = text[4:]
		}
	}
	text = strings.TrimSpace(text)
	if strings.HasSuffix(text, "```") {
		text = text[:len(text)-3]
	}
	return strings.TrimSpace(text)
}

func enumerateClauses(batch []domain.Clause) string {
	var b strings.Builder
	for idx, clause := range batch {
		fmt.Fprintf(&b, "\n\nClause %d:\n%s", idx, clause.Text)
	}
	return b.String()
}
