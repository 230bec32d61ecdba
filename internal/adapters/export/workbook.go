// Package export renders a finished analysis run as an Excel workbook.
package export

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
)

const (
	SheetClauses   = "Clauses"
	SheetSummary   = "Summary"
	SheetOverview  = "Overview"
	SheetRetrieved = "Retrieved"
)

// WriteWorkbook writes the clause table, summary sections, run statistics and the
// default query hits as separate sheets.
func WriteWorkbook(w io.Writer, res *domain.AnalysisResult) error {
	if res == nil {
		return domain.WrapError(domain.ErrInvalidInput, "export workbook", errors.New("nil result"))
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetClauses); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetSummary, SheetOverview, SheetRetrieved} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	writers := []func(*excelize.File, *domain.AnalysisResult, int) error{
		writeClauses,
		writeSummary,
		writeOverview,
		writeRetrieved,
	}
	for _, write := range writers {
		if err := write(f, res, header); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeClauses(f *excelize.File, res *domain.AnalysisResult, header int) error {
	rows := [][]any{{"Clause ID", "Page", "Category", "Has Obligation", "Obligation Details", "Text"}}
	for i := range res.Clauses {
		c := &res.Clauses[i]
		obligation := "unknown"
		if c.ObligationKnown() {
			obligation = strconv.FormatBool(c.Obligation())
		}
		rows = append(rows, []any{c.ID, c.Page, string(c.Label), obligation, c.Details(), c.Text})
	}
	if err := setRows(f, SheetClauses, rows, header); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetClauses, "A", "A", 22); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(SheetClauses, "E", "F", 80); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, res *domain.AnalysisResult, header int) error {
	rows := [][]any{{"Section", "Content"}}
	if res.Summary != nil {
		for _, section := range domain.SummarySections {
			rows = append(rows, []any{string(section), res.Summary.Sections[section]})
		}
		rows = append(rows, []any{"Rule Based", strconv.FormatBool(res.Summary.RuleBased)})
	}
	if err := setRows(f, SheetSummary, rows, header); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetSummary, "B", "B", 100); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	return nil
}

func writeOverview(f *excelize.File, res *domain.AnalysisResult, header int) error {
	rows := [][]any{
		{"Metric", "Value"},
		{"Run ID", res.RunID},
		{"Source File", res.SourceFile},
		{"Outcome", string(res.Outcome)},
		{"Degraded", strconv.FormatBool(res.Degraded)},
		{"Degraded Reason", res.DegradedReason},
		{"Total Clauses", res.Stats.TotalClauses},
		{"Clauses With Obligations", res.Stats.WithObligations},
		{"Retrieved Matches", res.Stats.RetrievedMatches},
		{"Summary Generated", strconv.FormatBool(res.Stats.SummaryGenerated)},
	}
	for _, category := range domain.Categories() {
		if n := res.Stats.ByCategory[category]; n > 0 {
			rows = append(rows, []any{"Category: " + string(category), n})
		}
	}
	if n := res.Stats.ByCategory[domain.CategoryUnclassified]; n > 0 {
		rows = append(rows, []any{"Category: " + string(domain.CategoryUnclassified), n})
	}
	return setRows(f, SheetOverview, rows, header)
}

func writeRetrieved(f *excelize.File, res *domain.AnalysisResult, header int) error {
	rows := [][]any{{"Query", "Rank", "Clause ID", "Category", "Distance", "Score", "Text"}}
	for i, hit := range res.Retrieved {
		rows = append(rows, []any{res.DefaultQuery, i + 1, hit.Clause.ID, string(hit.Clause.Label), hit.Distance, hit.Score, hit.Clause.Text})
	}
	return setRows(f, SheetRetrieved, rows, header)
}

func setRows(f *excelize.File, sheet string, rows [][]any, header int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	if err := f.SetRowStyle(sheet, 1, 1, header); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	return nil
}
