package plaintext

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
)

const maxFileBytes = 32 << 20

// Extractor reads UTF-8 text files. A form feed starts a new page, as in text
// exported from paginated documents.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) ExtractPages(ctx context.Context, path string) ([]domain.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	if len(raw) > maxFileBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read source document", fmt.Errorf("file exceeds %d bytes", maxFileBytes))
	}
	if !utf8.Valid(raw) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read source document", fmt.Errorf("unsupported binary format: %s", filepath.Base(path)))
	}

	source := filepath.Base(path)
	chunks := strings.Split(string(raw), "\f")
	pages := make([]domain.Page, 0, len(chunks))
	for i, text := range chunks {
		pages = append(pages, domain.Page{
			Number:     i + 1,
			Text:       text,
			SourceFile: source,
			CharCount:  utf8.RuneCountInString(text),
		})
	}
	return pages, nil
}
