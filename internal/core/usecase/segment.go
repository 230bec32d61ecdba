package usecase

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
)

var blankLineBoundary = regexp.MustCompile(`\n[ \t\f\v]*\n`)

// SegmentPages splits every page on blank-line boundaries. The ordinal in the id is the
// segment's position in the page split, so blank segments still consume a position.
func SegmentPages(pages []domain.Page) []domain.Clause {
	out := make([]domain.Clause, 0, len(pages)*4)
	for _, page := range pages {
		if page.Number < 1 {
			continue
		}
		text := strings.ReplaceAll(page.Text, "\r\n", "\n")
		text = strings.ReplaceAll(text, "\r", "\n")
		for i, segment := range blankLineBoundary.Split(text, -1) {
			clause, err := domain.NewClause(clauseID(page.Number, i+1), segment, page.Number)
			if err != nil {
				continue
			}
			out = append(out, clause)
		}
	}
	return out
}

func clauseID(page, ordinal int) string {
	return fmt.Sprintf("page_%d_clause_%d", page, ordinal)
}
