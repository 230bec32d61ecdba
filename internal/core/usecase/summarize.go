package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/core/ports"
)

const stageSummarization = "summarization"

type SummaryOptions struct {
	PreviewsPerCategory int
	PreviewChars        int
	MaxObligations      int
}

func DefaultSummaryOptions() SummaryOptions {
	return SummaryOptions{
		PreviewsPerCategory: 3,
		PreviewChars:        200,
		MaxObligations:      5,
	}
}

func (o SummaryOptions) normalize() SummaryOptions {
	def := DefaultSummaryOptions()
	if o.PreviewsPerCategory <= 0 {
		o.PreviewsPerCategory = def.PreviewsPerCategory
	}
	if o.PreviewChars <= 0 {
		o.PreviewChars = def.PreviewChars
	}
	if o.MaxObligations <= 0 {
		o.MaxObligations = def.MaxObligations
	}
	return o
}

// categoryGroup keeps every clause of one label; caps apply only when rendering.
type categoryGroup struct {
	Category domain.Category
	Texts    []string
}

type clauseDigest struct {
	Total       int
	Groups      []categoryGroup
	Obligations []domain.Clause
}

// digestClauses groups clauses by label in first-appearance order.
func digestClauses(clauses []domain.Clause) clauseDigest {
	digest := clauseDigest{Total: len(clauses)}
	positions := make(map[domain.Category]int)
	for _, clause := range clauses {
		label := clause.Label
		if !label.Valid() {
			label = domain.CategoryGeneral
		}
		pos, ok := positions[label]
		if !ok {
			pos = len(digest.Groups)
			positions[label] = pos
			digest.Groups = append(digest.Groups, categoryGroup{Category: label})
		}
		digest.Groups[pos].Texts = append(digest.Groups[pos].Texts, clause.Text)
		if clause.Obligation() {
			digest.Obligations = append(digest.Obligations, clause)
		}
	}
	return digest
}

// surfacedObligations prefers clauses with explicit details and fills the remaining
// slots with truncated clause text.
func surfacedObligations(obligations []domain.Clause, opts SummaryOptions) []string {
	out := make([]string, 0, opts.MaxObligations)
	for _, clause := range obligations {
		if len(out) == opts.MaxObligations {
			return out
		}
		if clause.ObligationDetails != nil {
			out = append(out, *clause.ObligationDetails)
		}
	}
	for _, clause := range obligations {
		if len(out) == opts.MaxObligations {
			break
		}
		if clause.ObligationDetails == nil {
			out = append(out, truncateRunes(clause.Text, opts.PreviewChars))
		}
	}
	return out
}

type Summarizer struct {
	annotator ports.Annotator
	opts      SummaryOptions
	observer  ports.PipelineObserver
}

func NewSummarizer(annotator ports.Annotator, opts SummaryOptions, observer ports.PipelineObserver) *Summarizer {
	return &Summarizer{annotator: annotator, opts: opts.normalize(), observer: observer}
}

func (s *Summarizer) Summarize(ctx context.Context, clauses []domain.Clause) (*domain.Summary, error) {
	if s.annotator == nil {
		return nil, domain.WrapError(domain.ErrConfiguration, stageSummarization, errors.New("annotator is not configured"))
	}
	text, err := s.annotator.Complete(ctx, BuildSummaryPrompt(clauses, s.opts))
	if err != nil {
		s.observe(annotationStatusError)
		return nil, domain.WrapError(domain.ErrAnnotatorFailure, stageSummarization, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.observe(annotationStatusError)
		return nil, domain.WrapError(domain.ErrAnnotatorFailure, stageSummarization, errors.New("empty summary"))
	}
	s.observe(annotationStatusOK)
	return &domain.Summary{
		Text:     text,
		Sections: ParseSummarySections(text),
	}, nil
}

func (s *Summarizer) observe(status string) {
	if s.observer != nil {
		s.observer.ObserveAnnotation(stageSummarization, status)
	}
}

func BuildSummaryPrompt(clauses []domain.Clause, opts SummaryOptions) string {
	opts = opts.normalize()
	digest := digestClauses(clauses)

	var b strings.Builder
	fmt.Fprintf(&b, `You are a Legal Document Summarization Agent. Your task is to create a comprehensive yet concise summary of a legal document.

Document Analysis:
- Total Clauses: %d
- Clauses with Obligations: %d

Clauses by Category:
`, digest.Total, len(digest.Obligations))

	for _, group := range digest.Groups {
		fmt.Fprintf(&b, "\n%s (%d clauses):\n", group.Category, len(group.Texts))
		for i, text := range group.Texts {
			if i == opts.PreviewsPerCategory {
				break
			}
			fmt.Fprintf(&b, "  - %s...\n", truncateRunes(text, opts.PreviewChars))
		}
	}

	if len(digest.Obligations) > 0 {
		fmt.Fprintf(&b, "\n\nKey Obligations (%d found):\n", len(digest.Obligations))
		for _, line := range surfacedObligations(digest.Obligations, opts) {
			fmt.Fprintf(&b, "  - %s\n", line)
		}
	}

	b.WriteString(`

Please provide a structured summary with the following sections:

1. **Document Overview**: Brief description of the document type and purpose (2-3 sentences)
2. **Key Provisions**: Main categories covered and their significance (3-4 bullet points)
3. **Critical Obligations**: Most important binding requirements identified (3-4 bullet points)
4. **Risk Highlights**: Any notable liability, termination, or dispute resolution clauses (2-3 bullet points)

Format your response in markdown with clear section headers.`)
	return b.String()
}

var riskCategories = map[domain.Category]bool{
	domain.CategoryLiability:         true,
	domain.CategoryTermination:       true,
	domain.CategoryDisputeResolution: true,
	domain.CategoryIndemnification:   true,
}

// RuleBasedSummary renders the same four sections deterministically from the digest.
func RuleBasedSummary(clauses []domain.Clause, opts SummaryOptions) *domain.Summary {
	opts = opts.normalize()
	digest := digestClauses(clauses)
	sections := make(map[domain.SummarySection]string, len(domain.SummarySections))

	sections[domain.SectionDocumentOverview] = fmt.Sprintf(
		"The document contains %d clauses across %d categories; %d clauses carry binding obligations.",
		digest.Total, len(digest.Groups), len(digest.Obligations),
	)

	var provisions strings.Builder
	for _, group := range digest.Groups {
		fmt.Fprintf(&provisions, "- %s: %d clauses\n", group.Category, len(group.Texts))
	}
	sections[domain.SectionKeyProvisions] = strings.TrimSpace(provisions.String())

	var obligations strings.Builder
	for _, line := range surfacedObligations(digest.Obligations, opts) {
		fmt.Fprintf(&obligations, "- %s\n", line)
	}
	sections[domain.SectionCriticalObligation] = nonEmpty(obligations.String(), "- No binding obligations detected.")

	var risks strings.Builder
	for _, group := range digest.Groups {
		if !riskCategories[group.Category] {
			continue
		}
		for i, text := range group.Texts {
			if i == opts.PreviewsPerCategory {
				break
			}
			fmt.Fprintf(&risks, "- %s: %s\n", group.Category, truncateRunes(text, opts.PreviewChars))
		}
	}
	sections[domain.SectionRiskHighlights] = nonEmpty(risks.String(), "- No liability, termination, or dispute clauses detected.")

	var text strings.Builder
	for _, section := range domain.SummarySections {
		fmt.Fprintf(&text, "## %s\n\n%s\n\n", section, sections[section])
	}
	return &domain.Summary{
		Text:      strings.TrimSpace(text.String()),
		Sections:  sections,
		RuleBased: true,
	}
}

// ParseSummarySections splits generated markdown on the four known section headers.
// Missing sections map to an empty string so the key set is always complete.
func ParseSummarySections(text string) map[domain.SummarySection]string {
	sections := make(map[domain.SummarySection]string, len(domain.SummarySections))
	for _, section := range domain.SummarySections {
		sections[section] = ""
	}

	var current domain.SummarySection
	var body strings.Builder
	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(sections[current] + "\n" + body.String())
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if section, rest, ok := matchSectionHeader(line); ok {
			flush()
			current = section
			body.WriteString(rest)
			body.WriteString("\n")
			continue
		}
		if current != "" {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()
	return sections
}

func matchSectionHeader(line string) (domain.SummarySection, string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", "", false
	}
	first := trimmed[0]
	if first != '#' && first != '*' && (first < '0' || first > '9') {
		return "", "", false
	}
	head := strings.TrimLeft(trimmed, "#*0123456789. ")
	for _, section := range domain.SummarySections {
		name := string(section)
		if len(head) < len(name) || !strings.EqualFold(head[:len(name)], name) {
			continue
		}
		rest := strings.TrimLeft(head[len(name):], "*:# ")
		return section, strings.TrimSpace(rest), true
	}
	return "", "", false
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}

func nonEmpty(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
