package domain

import "time"

type Page struct {
	Number     int    `json:"page_number"`
	Text       string `json:"raw_text"`
	SourceFile string `json:"source_file,omitempty"`
	CharCount  int    `json:"character_count"`
}

type RunState string

const (
	StateIngested         RunState = "ingested"
	StateClassified       RunState = "classified"
	StateExtracted        RunState = "extracted"
	StateIndexed          RunState = "indexed"
	StateSummarized       RunState = "summarized"
	StateDegraded         RunState = "degraded"
	StateDegradedComplete RunState = "degraded_complete"
)

type Outcome string

const (
	OutcomeSummarized       Outcome = "summarized"
	OutcomeDegradedComplete Outcome = "degraded_complete"
	OutcomeEmpty            Outcome = "empty"
)

type SummarySection string

const (
	SectionDocumentOverview   SummarySection = "Document Overview"
	SectionKeyProvisions      SummarySection = "Key Provisions"
	SectionCriticalObligation SummarySection = "Critical Obligations"
	SectionRiskHighlights     SummarySection = "Risk Highlights"
)

// SummarySections is the fixed section order of every summary artifact.
var SummarySections = []SummarySection{
	SectionDocumentOverview,
	SectionKeyProvisions,
	SectionCriticalObligation,
	SectionRiskHighlights,
}

type Summary struct {
	Text      string                    `json:"text"`
	Sections  map[SummarySection]string `json:"sections"`
	RuleBased bool                      `json:"rule_based"`
}

type VectorHit struct {
	Position int     `json:"position"`
	Distance float64 `json:"distance"`
}

type RetrievedClause struct {
	Clause   Clause  `json:"clause"`
	Position int     `json:"position"`
	Distance float64 `json:"distance"`
	Score    float64 `json:"score"`
}

type AnalysisStats struct {
	TotalClauses     int              `json:"total_clauses"`
	WithObligations  int              `json:"with_obligations"`
	ByCategory       map[Category]int `json:"by_category"`
	RetrievedMatches int              `json:"retrieved_matches"`
	SummaryGenerated bool             `json:"summary_generated"`
}

type AnalysisResult struct {
	RunID          string            `json:"run_id"`
	SourceFile     string            `json:"source_file,omitempty"`
	Clauses        []Clause          `json:"clauses"`
	Summary        *Summary          `json:"summary,omitempty"`
	Degraded       bool              `json:"degraded"`
	DegradedReason string            `json:"degraded_reason,omitempty"`
	Outcome        Outcome           `json:"outcome"`
	States         []RunState        `json:"states"`
	DefaultQuery   string            `json:"default_query,omitempty"`
	Retrieved      []RetrievedClause `json:"retrieved,omitempty"`
	IndexError     string            `json:"index_error,omitempty"`
	Stats          AnalysisStats     `json:"stats"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// ComputeStats rebuilds the overview counters from the clause sequence.
func ComputeStats(clauses []Clause, retrieved int, summary *Summary) AnalysisStats {
	stats := AnalysisStats{
		TotalClauses:     len(clauses),
		ByCategory:       make(map[Category]int),
		RetrievedMatches: retrieved,
		SummaryGenerated: summary != nil && summary.Text != "",
	}
	for i := range clauses {
		stats.ByCategory[clauses[i].Label]++
		if clauses[i].Obligation() {
			stats.WithObligations++
		}
	}
	return stats
}
