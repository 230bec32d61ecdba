package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
)

func TestUnwrapCodeFence(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: `  [{"index":0}]  `, want: `[{"index":0}]`},
		{name: "json tag", in: "```json\n[{\"index\":0}]\n```", want: `[{"index":0}]`},
		{name: "upper tag", in: "```JSON\n[]\n```", want: `[]`},
		{name: "bare fence", in: "```\n[1]\n```", want: `[1]`},
		{name: "unterminated", in: "```json\n[]", want: `[]`},
		{name: "not json", in: "not json", want: "not json"},
		{name: "empty", in: "   ", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := UnwrapCodeFence(tc.in); got != tc.want {
				t.Fatalf("UnwrapCodeFence(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestClassifyNotJSONDefaultsToGeneral(t *testing.T) {
	annotator := &annotatorFake{steps: []annotatorStep{{text: "not json"}}}
	stage := NewClassificationStage(annotator, 10, nil, nil)
	clauses := mustClauses("Payment is due monthly.", "The licence is perpetual.")

	report, err := stage.Classify(context.Background(), clauses)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if report.ParseFailures != 1 {
		t.Fatalf("expected one parse failure, got %d", report.ParseFailures)
	}
	for _, clause := range clauses {
		if clause.Label != domain.CategoryGeneral {
			t.Fatalf("expected General, got %s", clause.Label)
		}
	}
}

func TestClassifyAppliesFencedResponse(t *testing.T) {
	annotator := &annotatorFake{steps: []annotatorStep{{
		text: "```json\n[{\"index\": 0, \"category\": \"Payment\"}, {\"index\": 1, \"category\": \"intellectual property\"}]\n```",
	}}}
	stage := NewClassificationStage(annotator, 10, nil, nil)
	clauses := mustClauses("Payment is due monthly.", "All IP remains with the Licensor.")

	if _, err := stage.Classify(context.Background(), clauses); err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if clauses[0].Label != domain.CategoryPayment {
		t.Fatalf("expected Payment, got %s", clauses[0].Label)
	}
	if clauses[1].Label != domain.CategoryIntellectualProp {
		t.Fatalf("expected Intellectual Property, got %s", clauses[1].Label)
	}
}

func TestClassifyIgnoresOutOfRangeAndLastDuplicateWins(t *testing.T) {
	annotator := &annotatorFake{steps: []annotatorStep{{
		text: `[{"index": -1, "category": "Payment"}, {"index": 5, "category": "Payment"},
			{"index": 0, "category": "Term"}, {"index": 0, "category": "Liability"}]`,
	}}}
	stage := NewClassificationStage(annotator, 10, nil, nil)
	clauses := mustClauses("first", "second")

	if _, err := stage.Classify(context.Background(), clauses); err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if clauses[0].Label != domain.CategoryLiability {
		t.Fatalf("expected last duplicate to win, got %s", clauses[0].Label)
	}
	if clauses[1].Label != domain.CategoryGeneral {
		t.Fatalf("expected unaddressed clause forced to General, got %s", clauses[1].Label)
	}
}

func TestClassifyUnknownCategoryKeepsExistingLabel(t *testing.T) {
	annotator := &annotatorFake{steps: []annotatorStep{{
		text: `[{"index": 0, "category": "Warranty-ish"}, {"index": 1, "category": "Warranty"}, {"index": 2, "category": "Payment"}]`,
	}}}
	stage := NewClassificationStage(annotator, 10, nil, nil)
	clauses := mustClauses(
		"Either party may terminate this Agreement.",
		"The goods are warranted for one year.",
		"Fees are payable within 30 days.",
	)
	clauses[0].Label = domain.CategoryTermination

	if _, err := stage.Classify(context.Background(), clauses); err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if clauses[0].Label != domain.CategoryTermination {
		t.Fatalf("expected confirmed label to survive, got %s", clauses[0].Label)
	}
	if clauses[1].Label != domain.CategoryGeneral {
		t.Fatalf("expected unlabelled clause to become General, got %s", clauses[1].Label)
	}
	if clauses[2].Label != domain.CategoryPayment {
		t.Fatalf("expected Payment, got %s", clauses[2].Label)
	}
}

func TestClassifyMalformedElementFailsWholeBatch(t *testing.T) {
	annotator := &annotatorFake{steps: []annotatorStep{{
		text: `[{"index": 0, "category": "Payment"}, {"index": 1}]`,
	}}}
	observer := &observerFake{}
	stage := NewClassificationStage(annotator, 10, observer, nil)
	clauses := mustClauses("Payment is due monthly.", "second")

	report, err := stage.Classify(context.Background(), clauses)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if report.ParseFailures != 1 {
		t.Fatalf("expected parse failure, got %+v", report)
	}
	if clauses[0].Label != domain.CategoryGeneral {
		t.Fatalf("expected no partial apply, got %s", clauses[0].Label)
	}
	if observer.annotations["classification/parse_failure"] != 1 {
		t.Fatalf("expected parse failure observation, got %v", observer.annotations)
	}
}

func TestClassifyParseFailureKeepsExistingLabels(t *testing.T) {
	annotator := &annotatorFake{steps: []annotatorStep{{text: "{oops"}}}
	stage := NewClassificationStage(annotator, 10, nil, nil)
	clauses := mustClauses("first", "second")
	clauses[0].Label = domain.CategoryTermination

	if _, err := stage.Classify(context.Background(), clauses); err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if clauses[0].Label != domain.CategoryTermination {
		t.Fatalf("expected existing label to survive, got %s", clauses[0].Label)
	}
	if clauses[1].Label != domain.CategoryGeneral {
		t.Fatalf("expected default label, got %s", clauses[1].Label)
	}
}

func TestClassifyFailingAnnotatorIsIdempotentOnLabelledClauses(t *testing.T) {
	annotator := &annotatorFake{steps: []annotatorStep{{err: errors.New("upstream unavailable")}}}
	stage := NewClassificationStage(annotator, 10, nil, nil)
	clauses := mustClauses("first", "second")
	clauses[0].Label = domain.CategoryPayment
	clauses[1].Label = domain.CategoryTerm

	_, err := stage.Classify(context.Background(), clauses)
	if !errors.Is(err, domain.ErrAnnotatorFailure) {
		t.Fatalf("expected annotator failure, got %v", err)
	}
	if clauses[0].Label != domain.CategoryPayment || clauses[1].Label != domain.CategoryTerm {
		t.Fatalf("labels changed: %s, %s", clauses[0].Label, clauses[1].Label)
	}
}

func TestClassifyBatchesAndPreservesEarlierBatchesOnFailure(t *testing.T) {
	texts := make([]string, 25)
	for i := range texts {
		texts[i] = fmt.Sprintf("clause number %d", i)
	}
	clauses := mustClauses(texts...)
	annotator := &annotatorFake{steps: []annotatorStep{
		{text: batchOf(10, "Payment")},
		{err: errors.New("timeout")},
	}}
	stage := NewClassificationStage(annotator, 10, nil, nil)

	report, err := stage.Classify(context.Background(), clauses)
	if !errors.Is(err, domain.ErrAnnotatorFailure) {
		t.Fatalf("expected annotator failure, got %v", err)
	}
	if report.Processed != 10 || report.Batches != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	for i := 0; i < 10; i++ {
		if clauses[i].Label != domain.CategoryPayment {
			t.Fatalf("clause %d lost its label: %s", i, clauses[i].Label)
		}
	}
	for i := 10; i < 25; i++ {
		if clauses[i].Labeled() {
			t.Fatalf("clause %d should stay unset for the fallback, got %s", i, clauses[i].Label)
		}
	}
	if !strings.Contains(annotator.prompts[1], "clause number 10") {
		t.Fatalf("second batch should start at clause 10")
	}
	if strings.Contains(annotator.prompts[1], "Clause 10:") {
		t.Fatalf("batch indices must be batch-local")
	}
}

func TestClassifyCancelledContextStopsBeforeNextBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	annotator := &annotatorFake{steps: []annotatorStep{{text: "[]"}}}
	stage := NewClassificationStage(annotator, 10, nil, nil)

	_, err := stage.Classify(ctx, mustClauses("first"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if annotator.calls() != 0 {
		t.Fatalf("expected no annotator calls, got %d", annotator.calls())
	}
}

func TestExtractAppliesAndDefaults(t *testing.T) {
	annotator := &annotatorFake{steps: []annotatorStep{{
		text: `[{"index": 0, "has_obligation": true, "obligation_details": "The Buyer shall pay within 30 days"},
			{"index": 1, "has_obligation": true, "obligation_details": "  "},
			{"index": 2, "has_obligation": false, "obligation_details": "ignored"}]`,
	}}}
	stage := NewObligationStage(annotator, 10, nil, nil)
	clauses := mustClauses("The Buyer shall pay.", "The Seller must deliver.", "Headings are for convenience.", "Unaddressed.")

	if _, err := stage.Extract(context.Background(), clauses); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !clauses[0].Obligation() || clauses[0].Details() != "The Buyer shall pay within 30 days" {
		t.Fatalf("unexpected clause 0: %+v", clauses[0])
	}
	if !clauses[1].Obligation() || clauses[1].ObligationDetails != nil {
		t.Fatalf("blank details must be absent: %+v", clauses[1])
	}
	if clauses[2].Obligation() || clauses[2].ObligationDetails != nil {
		t.Fatalf("negative verdict must carry no details: %+v", clauses[2])
	}
	if !clauses[3].ObligationKnown() || clauses[3].Obligation() {
		t.Fatalf("unaddressed clause must default to false: %+v", clauses[3])
	}
}

func TestExtractParseFailureDefaultsOnlyUnknownClauses(t *testing.T) {
	annotator := &annotatorFake{steps: []annotatorStep{{text: `{"index": 0}`}}}
	stage := NewObligationStage(annotator, 10, nil, nil)
	clauses := mustClauses("first", "second")
	clauses[0].SetObligation(true, "keep me")

	if _, err := stage.Extract(context.Background(), clauses); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !clauses[0].Obligation() || clauses[0].Details() != "keep me" {
		t.Fatalf("existing verdict overwritten: %+v", clauses[0])
	}
	if !clauses[1].ObligationKnown() || clauses[1].Obligation() {
		t.Fatalf("expected default false: %+v", clauses[1])
	}
}

func TestRuleBasedTwoPageScenario(t *testing.T) {
	clauses := SegmentPages(twoPageDocument())
	RuleClassifier{}.Classify(clauses)
	RuleExtractor{}.Extract(clauses)

	wantLabels := []domain.Category{domain.CategoryTermination, domain.CategoryConfidentiality, domain.CategoryGeneral}
	wantObligation := []bool{true, true, false}
	for i, clause := range clauses {
		if clause.Label != wantLabels[i] {
			t.Fatalf("clause %d: expected %s, got %s", i, wantLabels[i], clause.Label)
		}
		if !clause.ObligationKnown() || clause.Obligation() != wantObligation[i] {
			t.Fatalf("clause %d: expected obligation %v, got %+v", i, wantObligation[i], clause)
		}
		if clause.ObligationDetails != nil {
			t.Fatalf("clause %d: rule-based extraction must not invent details", i)
		}
	}
}

func TestRuleClassifierKeywords(t *testing.T) {
	clauses := mustClauses(
		"The Supplier shall indemnify the Customer.",
		"Either party may end this by TERMINATION notice.",
		"Shallow water is not a modal.",
	)
	RuleClassifier{}.Classify(clauses)
	RuleExtractor{}.Extract(clauses)

	if clauses[0].Label != domain.CategoryIndemnification {
		t.Fatalf("expected Indemnification, got %s", clauses[0].Label)
	}
	if clauses[1].Label != domain.CategoryTermination {
		t.Fatalf("expected Termination, got %s", clauses[1].Label)
	}
	if clauses[2].Obligation() {
		t.Fatalf("\"Shallow\" must not match the shall modal")
	}
}

func batchOf(n int, category string) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"index": %d, "category": %q}`, i, category)
	}
	return "[" + strings.Join(items, ",") + "]"
}
