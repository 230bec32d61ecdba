package extractor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/core/ports"
)

// Router dispatches on file extension; anything unknown goes to the fallback source.
type Router struct {
	byExtension map[string]ports.PageSource
	fallback    ports.PageSource
}

func NewRouter(fallback ports.PageSource) *Router {
	return &Router{byExtension: make(map[string]ports.PageSource), fallback: fallback}
}

func (r *Router) Register(extension string, source ports.PageSource) *Router {
	r.byExtension[normalizeExtension(extension)] = source
	return r
}

func (r *Router) ExtractPages(ctx context.Context, path string) ([]domain.Page, error) {
	if source, ok := r.byExtension[normalizeExtension(filepath.Ext(path))]; ok {
		return source.ExtractPages(ctx, path)
	}
	return r.fallback.ExtractPages(ctx, path)
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
