package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/core/ports"
)

const stageExtraction = "extraction"

type obligationItem struct {
	Index             *int   `json:"index"`
	HasObligation     *bool  `json:"has_obligation"`
	ObligationDetails string `json:"obligation_details"`
}

func (i obligationItem) position() int { return *i.Index }

func (i obligationItem) validate() error {
	if i.Index == nil {
		return errors.New("missing index")
	}
	if i.HasObligation == nil {
		return errors.New("missing has_obligation")
	}
	return nil
}

type ObligationStage struct {
	runner annotationRunner
}

func NewObligationStage(annotator ports.Annotator, batchSize int, observer ports.PipelineObserver, logger *slog.Logger) *ObligationStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObligationStage{runner: annotationRunner{
		annotator: annotator,
		batchSize: batchSize,
		observer:  observer,
		logger:    logger,
	}}
}

func (s *ObligationStage) Extract(ctx context.Context, clauses []domain.Clause) (batchReport, error) {
	report, err := runAnnotation(ctx, s.runner, clauses, annotationTask[obligationItem]{
		stage:       stageExtraction,
		buildPrompt: buildExtractionPrompt,
		apply: func(clause *domain.Clause, item obligationItem) {
			clause.SetObligation(*item.HasObligation, item.ObligationDetails)
		},
		isSet: func(clause *domain.Clause) bool { return clause.ObligationKnown() },
		applyDefault: func(clause *domain.Clause) {
			clause.SetObligation(false, "")
		},
	})
	if err != nil {
		return report, err
	}
	DefaultNoObligation(clauses)
	return report, nil
}

// DefaultNoObligation settles every still-unknown clause to has_obligation=false.
func DefaultNoObligation(clauses []domain.Clause) {
	for i := range clauses {
		if !clauses[i].ObligationKnown() {
			clauses[i].SetObligation(false, "")
		}
	}
}

func buildExtractionPrompt(batch []domain.Clause) string {
	return fmt.Sprintf(`You are a Legal Obligation Extraction Agent. Your task is to identify binding obligations, requirements, and duties in legal clauses.

An obligation exists when:
- The clause contains mandatory language (shall, must, will, required to, obligated to, etc.)
- The clause imposes a duty or requirement on a party
- The clause creates a binding commitment or responsibility
- The clause specifies actions that must be taken or avoided

For each clause below, determine:
1. Whether it contains a legal obligation (true/false)
2. If true, extract the specific obligation(s) and the party responsible

Clauses to analyze:%s

Respond with a JSON array containing objects with:
- "index": the clause number
- "has_obligation": true or false
- "obligation_details": (if has_obligation is true) a brief description of the obligation and who must perform it

Example format:
[
  {"index": 0, "has_obligation": true, "obligation_details": "The Buyer shall pay the purchase price within 30 days"},
  {"index": 1, "has_obligation": false, "obligation_details": ""}
]

Only return the JSON array, nothing else.`, enumerateClauses(batch))
}

var mandatoryModal = regexp.MustCompile(`(?i)\b(shall|must)\b`)

// RuleExtractor flags clauses containing "shall" or "must" on the degraded path.
type RuleExtractor struct{}

func (RuleExtractor) Extract(clauses []domain.Clause) {
	for i := range clauses {
		if clauses[i].ObligationKnown() {
			continue
		}
		clauses[i].SetObligation(mandatoryModal.MatchString(clauses[i].Text), "")
	}
}
