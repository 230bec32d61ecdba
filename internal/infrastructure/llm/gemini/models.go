package gemini

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

const generateContentMethod = "generateContent"

type modelInfo struct {
	Name                       string   `json:"name"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

type listModelsResponse struct {
	Models        []modelInfo `json:"models"`
	NextPageToken string      `json:"nextPageToken"`
}

// ListModels returns the names of models that support generateContent, in API order.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	pageToken := ""
	for {
		query := url.Values{"pageSize": {"1000"}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var page listModelsResponse
		endpoint := c.baseURL + "/v1beta/models?" + query.Encode()
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &page, "list models"); err != nil {
			return nil, err
		}
		for _, model := range page.Models {
			if slices.Contains(model.SupportedGenerationMethods, generateContentMethod) {
				names = append(names, normalizeModelName(model.Name))
			}
		}
		if page.NextPageToken == "" {
			return names, nil
		}
		pageToken = page.NextPageToken
	}
}

// SelectModel picks the first preferred model the key can use, else the first capable
// model, else keeps the configured one. Listing failures are logged, not returned.
func (c *Client) SelectModel(ctx context.Context, preferred []string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	available, err := c.ListModels(ctx)
	if err != nil {
		logger.Warn("gemini_list_models_failed", "error", err, "model", c.model)
		return c.model
	}
	chosen := chooseModel(available, preferred, c.model)
	logger.Info("gemini_model_selected", "model", chosen, "available", len(available))
	return chosen
}

func chooseModel(available, preferred []string, fallback string) string {
	if len(available) == 0 {
		return fallback
	}
	for _, name := range preferred {
		name = normalizeModelName(name)
		if slices.Contains(available, name) {
			return name
		}
	}
	return available[0]
}

func normalizeModelName(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "models/")
}
