package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/core/ports"
)

const stageClassification = "classification"

type classificationItem struct {
	Index    *int    `json:"index"`
	Category *string `json:"category"`
}

func (i classificationItem) position() int { return *i.Index }

func (i classificationItem) validate() error {
	if i.Index == nil {
		return errors.New("missing index")
	}
	if i.Category == nil {
		return errors.New("missing category")
	}
	return nil
}

type ClassificationStage struct {
	runner annotationRunner
}

func NewClassificationStage(annotator ports.Annotator, batchSize int, observer ports.PipelineObserver, logger *slog.Logger) *ClassificationStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClassificationStage{runner: annotationRunner{
		annotator: annotator,
		batchSize: batchSize,
		observer:  observer,
		logger:    logger,
	}}
}

// Classify labels the clauses in place. On annotator failure the clauses of earlier
// batches keep their labels and the error is returned for the caller's fallback.
func (s *ClassificationStage) Classify(ctx context.Context, clauses []domain.Clause) (batchReport, error) {
	logger := s.runner.logger
	report, err := runAnnotation(ctx, s.runner, clauses, annotationTask[classificationItem]{
		stage:       stageClassification,
		buildPrompt: buildClassificationPrompt,
		apply: func(clause *domain.Clause, item classificationItem) {
			category, ok := domain.ParseCategory(*item.Category)
			if !ok {
				logger.Debug("annotation_unknown_category", "clause_id", clause.ID, "category", *item.Category)
				if clause.Labeled() {
					return
				}
				category = domain.CategoryGeneral
			}
			clause.Label = category
		},
		isSet: func(clause *domain.Clause) bool { return clause.Labeled() },
		applyDefault: func(clause *domain.Clause) {
			clause.Label = domain.CategoryGeneral
		},
	})
	if err != nil {
		return report, err
	}
	ForceGeneral(clauses)
	return report, nil
}

// ForceGeneral labels every still-unlabelled clause General.
func ForceGeneral(clauses []domain.Clause) {
	for i := range clauses {
		if !clauses[i].Labeled() {
			clauses[i].Label = domain.CategoryGeneral
		}
	}
}

func buildClassificationPrompt(batch []domain.Clause) string {
	return fmt.Sprintf(`You are a Legal Classification Agent. Your task is to analyze legal clauses and categorize them.

Classify each of the following legal clauses into ONE of these categories:
- Termination: Clauses about ending agreements or contracts
- Indemnification: Clauses about liability, compensation, or holding harmless
- Confidentiality: Clauses about non-disclosure or confidential information
- Payment: Clauses about fees, payment terms, or compensation
- Intellectual Property: Clauses about IP rights, ownership, or licensing
- Liability: Clauses about limitations of liability or warranties
- Dispute Resolution: Clauses about arbitration, mediation, or legal jurisdiction
- Term: Clauses about contract duration or renewal
- General: Any other type of clause

Clauses to classify:%s

Respond with a JSON array containing objects with "index" (the clause number) and "category" (the classification).
Example format: [{"index": 0, "category": "Termination"}, {"index": 1, "category": "Confidentiality"}]

Only return the JSON array, nothing else.`, enumerateClauses(batch))
}

type keywordRule struct {
	stems    []string
	category domain.Category
}

var classificationRules = []keywordRule{
	{stems: []string{"terminat"}, category: domain.CategoryTermination},
	{stems: []string{"indemnif"}, category: domain.CategoryIndemnification},
	{stems: []string{"confidential"}, category: domain.CategoryConfidentiality},
}

// RuleClassifier is the deterministic keyword classifier of the degraded path.
type RuleClassifier struct{}

// Classify labels only clauses that are still unlabelled; first matching rule wins.
func (RuleClassifier) Classify(clauses []domain.Clause) {
	for i := range clauses {
		if clauses[i].Labeled() {
			continue
		}
		clauses[i].Label = classifyByKeywords(clauses[i].Text)
	}
}

func classifyByKeywords(text string) domain.Category {
	lower := strings.ToLower(text)
	for _, rule := range classificationRules {
		for _, stem := range rule.stems {
			if strings.Contains(lower, stem) {
				return rule.category
			}
		}
	}
	return domain.CategoryGeneral
}
