package domain

import (
	"errors"
	"strings"
)

type Category string

const (
	CategoryTermination       Category = "Termination"
	CategoryIndemnification   Category = "Indemnification"
	CategoryConfidentiality   Category = "Confidentiality"
	CategoryPayment           Category = "Payment"
	CategoryIntellectualProp  Category = "Intellectual Property"
	CategoryLiability         Category = "Liability"
	CategoryDisputeResolution Category = "Dispute Resolution"
	CategoryTerm              Category = "Term"
	CategoryGeneral           Category = "General"

	// CategoryUnclassified marks a clause no classification pass has labelled yet.
	// It is never a valid result of classification.
	CategoryUnclassified Category = "Unclassified"
)

var categories = []Category{
	CategoryTermination,
	CategoryIndemnification,
	CategoryConfidentiality,
	CategoryPayment,
	CategoryIntellectualProp,
	CategoryLiability,
	CategoryDisputeResolution,
	CategoryTerm,
	CategoryGeneral,
}

// Categories returns the closed label set in prompt order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory matches raw model output against the closed set, ignoring case and
// surrounding whitespace.
func ParseCategory(raw string) (Category, bool) {
	needle := strings.TrimSpace(raw)
	for _, c := range categories {
		if strings.EqualFold(needle, string(c)) {
			return c, true
		}
	}
	return "", false
}

func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// Clause is the unit of work shared by every pipeline stage.
// Label and the obligation fields only ever move from unset to set.
type Clause struct {
	ID                string   `json:"id"`
	Text              string   `json:"text"`
	Page              int      `json:"page"`
	Label             Category `json:"label"`
	HasObligation     *bool    `json:"has_obligation,omitempty"`
	ObligationDetails *string  `json:"obligation_details,omitempty"`
}

func NewClause(id, text string, page int) (Clause, error) {
	text = strings.TrimSpace(text)
	switch {
	case strings.TrimSpace(id) == "":
		return Clause{}, WrapError(ErrInvalidInput, "new clause", errors.New("empty id"))
	case text == "":
		return Clause{}, WrapError(ErrInvalidInput, "new clause", errors.New("empty text"))
	case page < 1:
		return Clause{}, WrapError(ErrInvalidInput, "new clause", errors.New("page must be 1-based"))
	}
	return Clause{
		ID:    id,
		Text:  text,
		Page:  page,
		Label: CategoryUnclassified,
	}, nil
}

func (c *Clause) Labeled() bool {
	return c.Label != "" && c.Label != CategoryUnclassified
}

func (c *Clause) ObligationKnown() bool {
	return c.HasObligation != nil
}

// Obligation reports the flag, treating an unknown state as false.
func (c *Clause) Obligation() bool {
	return c.HasObligation != nil && *c.HasObligation
}

// SetObligation records the extraction verdict. Details are kept only for a positive
// verdict with non-blank text; absence means no detail is available.
func (c *Clause) SetObligation(has bool, details string) {
	c.HasObligation = &has
	c.ObligationDetails = nil
	details = strings.TrimSpace(details)
	if has && details != "" {
		c.ObligationDetails = &details
	}
}

func (c *Clause) Details() string {
	if c.ObligationDetails == nil {
		return ""
	}
	return *c.ObligationDetails
}
