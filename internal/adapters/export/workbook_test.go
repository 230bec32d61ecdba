package export

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
)

func sampleResult() *domain.AnalysisResult {
	termination, _ := domain.NewClause("page_1_clause_1", "Either party may terminate with notice.", 1)
	termination.Label = domain.CategoryTermination
	termination.SetObligation(true, "Give 30 days notice")
	general, _ := domain.NewClause("page_2_clause_1", "Headings are for convenience.", 2)
	general.Label = domain.CategoryGeneral

	clauses := []domain.Clause{termination, general}
	summary := &domain.Summary{
		Text:      "## Document Overview\nService agreement.",
		Sections:  map[domain.SummarySection]string{domain.SectionDocumentOverview: "Service agreement."},
		RuleBased: true,
	}
	retrieved := []domain.RetrievedClause{{Clause: termination, Position: 0, Distance: 0.25, Score: 0.8}}
	return &domain.AnalysisResult{
		RunID:        "run-1",
		SourceFile:   "contract.pdf",
		Clauses:      clauses,
		Summary:      summary,
		Degraded:     true,
		Outcome:      domain.OutcomeDegradedComplete,
		DefaultQuery: "What are the termination conditions?",
		Retrieved:    retrieved,
		Stats:        domain.ComputeStats(clauses, len(retrieved), summary),
	}
}

func TestWriteWorkbookSheets(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, sampleResult()); err != nil {
		t.Fatalf("WriteWorkbook() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetClauses)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and two clauses, got %d rows", len(rows))
	}
	if rows[1][0] != "page_1_clause_1" || rows[1][2] != "Termination" || rows[1][3] != "true" || rows[1][4] != "Give 30 days notice" {
		t.Fatalf("unexpected clause row %v", rows[1])
	}
	if rows[2][3] != "unknown" {
		t.Fatalf("unknown obligation must be explicit, got %v", rows[2])
	}

	summary, _ := f.GetRows(SheetSummary)
	if len(summary) != 6 || summary[1][1] != "Service agreement." {
		t.Fatalf("unexpected summary rows %v", summary)
	}

	overview, _ := f.GetRows(SheetOverview)
	found := false
	for _, row := range overview {
		if len(row) == 2 && row[0] == "Category: Termination" && row[1] == "1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected per-category counts in overview, got %v", overview)
	}

	retrieved, _ := f.GetRows(SheetRetrieved)
	if len(retrieved) != 2 || retrieved[1][2] != "page_1_clause_1" {
		t.Fatalf("unexpected retrieved rows %v", retrieved)
	}
}

func TestWriteWorkbookWithoutSummary(t *testing.T) {
	res := sampleResult()
	res.Summary = nil

	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, res); err != nil {
		t.Fatalf("WriteWorkbook() error = %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	summary, _ := f.GetRows(SheetSummary)
	if len(summary) != 1 {
		t.Fatalf("expected only the header row, got %v", summary)
	}
}

func TestWriteWorkbookRejectsNil(t *testing.T) {
	if err := WriteWorkbook(&bytes.Buffer{}, nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
