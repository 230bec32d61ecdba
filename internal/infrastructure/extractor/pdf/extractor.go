package pdf

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
)

// Extractor yields the plain text of every page of a PDF, numbered from 1.
// Pages whose text cannot be decoded are kept with empty text so numbering stays aligned.
type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

func (e *Extractor) ExtractPages(ctx context.Context, path string) ([]domain.Page, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open pdf", err)
	}
	defer file.Close()

	source := filepath.Base(path)
	total := reader.NumPage()
	pages := make([]domain.Page, 0, total)
	for number := 1; number <= total; number++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(number)
		text := ""
		if !page.V.IsNull() {
			text, err = plainText(page)
			if err != nil {
				e.logger.Warn("pdf_page_text_failed", "source_file", source, "page", number, "error", err)
				text = ""
			}
		}
		pages = append(pages, domain.Page{
			Number:     number,
			Text:       text,
			SourceFile: source,
			CharCount:  utf8.RuneCountInString(text),
		})
	}
	return pages, nil
}

// plainText recovers from panics inside the decoder on malformed content streams.
func plainText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode page text: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}
