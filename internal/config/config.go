package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIPort  string
	LogLevel string

	APIRateLimitRPS       float64
	APIRateLimitBurst     int
	APIMaxInFlight        int
	APIBackpressureWaitMS int
	APIMaxUploadMB        int

	StoragePath string

	// AnnotatorProvider selects the model-backed path: gemini, ollama or none.
	AnnotatorProvider string

	GeminiAPIKey                  string
	GeminiBaseURL                 string
	GeminiModel                   string
	GeminiPreferredModels         []string
	GeminiClassifyPreferredModels []string

	OllamaURL        string
	OllamaGenModel   string
	OllamaEmbedModel string

	EmbedderProvider string
	EmbedDimensions  int

	VectorBackend          string
	QdrantURL              string
	QdrantCollectionPrefix string

	BatchSize                  int
	SummaryPreviewsPerCategory int
	SummaryPreviewChars        int
	SummaryMaxObligations      int
	RuleBasedSummary           bool
	DefaultQuery               string
	DefaultTopK                int

	AnnotatorRPM     int
	RetryMaxAttempts int
	BreakerEnabled   bool

	RunCacheSize int

	NATSURL     string
	NATSSubject string

	WorkerMetricsPort string
}

// fileOverlay is the optional CONFIG_FILE document. Only fields present in the file
// replace environment values.
type fileOverlay struct {
	Annotator *struct {
		Provider string `yaml:"provider"`
	} `yaml:"annotator"`
	Gemini *struct {
		Model                  string   `yaml:"model"`
		PreferredModels        []string `yaml:"preferred_models"`
		ClassifyPreferredModel []string `yaml:"classify_preferred_models"`
	} `yaml:"gemini"`
	Pipeline *struct {
		BatchSize        *int   `yaml:"batch_size"`
		DefaultQuery     string `yaml:"default_query"`
		DefaultTopK      *int   `yaml:"default_top_k"`
		RuleBasedSummary *bool  `yaml:"rule_based_summary"`
	} `yaml:"pipeline"`
	Summary *struct {
		PreviewsPerCategory *int `yaml:"previews_per_category"`
		PreviewChars        *int `yaml:"preview_chars"`
		MaxObligations      *int `yaml:"max_obligations"`
	} `yaml:"summary"`
}

var defaultPreferredModels = []string{
	"gemini-2.5-pro-latest",
	"gemini-2.5-pro",
	"gemini-1.5-flash-latest",
	"gemini-1.5-pro-latest",
	"gemini-1.5-flash",
	"gemini-1.5-pro",
}

// Load reads the environment and then applies CONFIG_FILE when it is set.
func Load() (Config, error) {
	cfg := Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		APIRateLimitRPS:       mustEnvFloat("API_RATE_LIMIT_RPS", 0),
		APIRateLimitBurst:     mustEnvInt("API_RATE_LIMIT_BURST", 5),
		APIMaxInFlight:        mustEnvInt("API_MAX_IN_FLIGHT", 8),
		APIBackpressureWaitMS: mustEnvInt("API_BACKPRESSURE_WAIT_MS", 250),
		APIMaxUploadMB:        mustEnvInt("API_MAX_UPLOAD_MB", 32),

		StoragePath: mustEnv("STORAGE_PATH", "./data/storage"),

		AnnotatorProvider: strings.ToLower(mustEnv("ANNOTATOR_PROVIDER", "gemini")),

		GeminiAPIKey:                  mustEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:                 mustEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiModel:                   mustEnv("GEMINI_MODEL", "gemini-2.5-pro"),
		GeminiPreferredModels:         mustEnvList("GEMINI_PREFERRED_MODELS", defaultPreferredModels),
		GeminiClassifyPreferredModels: mustEnvList("GEMINI_CLASSIFY_PREFERRED_MODELS", []string{"gemini-2.0-flash-lite"}),

		OllamaURL:        mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel:   mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),
		OllamaEmbedModel: mustEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),

		EmbedderProvider: strings.ToLower(mustEnv("EMBEDDER_PROVIDER", "hashing")),
		EmbedDimensions:  mustEnvInt("EMBED_DIMENSIONS", 384),

		VectorBackend:          strings.ToLower(mustEnv("VECTOR_BACKEND", "flat")),
		QdrantURL:              mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollectionPrefix: mustEnv("QDRANT_COLLECTION_PREFIX", "clauses"),

		BatchSize:                  mustEnvInt("BATCH_SIZE", 10),
		SummaryPreviewsPerCategory: mustEnvInt("SUMMARY_PREVIEWS_PER_CATEGORY", 3),
		SummaryPreviewChars:        mustEnvInt("SUMMARY_PREVIEW_CHARS", 200),
		SummaryMaxObligations:      mustEnvInt("SUMMARY_MAX_OBLIGATIONS", 5),
		RuleBasedSummary:           mustEnvBool("RULE_BASED_SUMMARY", true),
		DefaultQuery:               mustEnv("DEFAULT_QUERY", "What are the termination conditions?"),
		DefaultTopK:                mustEnvInt("DEFAULT_TOP_K", 5),

		AnnotatorRPM:     mustEnvInt("ANNOTATOR_RPM", 0),
		RetryMaxAttempts: mustEnvInt("RETRY_MAX_ATTEMPTS", 3),
		BreakerEnabled:   mustEnvBool("BREAKER_ENABLED", true),

		RunCacheSize: mustEnvInt("RUN_CACHE_SIZE", 64),

		NATSURL:     mustEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject: mustEnv("NATS_SUBJECT", "contracts.analyze"),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return cfg, nil
	}
	if err := applyFile(&cfg, path); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if a := overlay.Annotator; a != nil && a.Provider != "" {
		cfg.AnnotatorProvider = strings.ToLower(a.Provider)
	}
	if g := overlay.Gemini; g != nil {
		if g.Model != "" {
			cfg.GeminiModel = g.Model
		}
		if len(g.PreferredModels) > 0 {
			cfg.GeminiPreferredModels = g.PreferredModels
		}
		if len(g.ClassifyPreferredModel) > 0 {
			cfg.GeminiClassifyPreferredModels = g.ClassifyPreferredModel
		}
	}
	if p := overlay.Pipeline; p != nil {
		setInt(&cfg.BatchSize, p.BatchSize)
		setInt(&cfg.DefaultTopK, p.DefaultTopK)
		if p.DefaultQuery != "" {
			cfg.DefaultQuery = p.DefaultQuery
		}
		if p.RuleBasedSummary != nil {
			cfg.RuleBasedSummary = *p.RuleBasedSummary
		}
	}
	if s := overlay.Summary; s != nil {
		setInt(&cfg.SummaryPreviewsPerCategory, s.PreviewsPerCategory)
		setInt(&cfg.SummaryPreviewChars, s.PreviewChars)
		setInt(&cfg.SummaryMaxObligations, s.MaxObligations)
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil && *v > 0 {
		*dst = *v
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
