package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/contract-analyzer/internal/config"
	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/core/ports"
	"github.com/kirillkom/contract-analyzer/internal/core/usecase"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/embedding/hashing"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/extractor"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/queue/nats"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/resilience"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/vector/flat"
	"github.com/kirillkom/contract-analyzer/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/contract-analyzer/internal/observability/metrics"
)

type Options struct {
	Service string
	Logger  *slog.Logger
	// Registry, when set, receives the pipeline collectors instead of a private registry.
	Registry *prometheus.Registry
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Storage  ports.ObjectStorage
	Pipeline *usecase.Pipeline
	Analyzer *usecase.AnalyzeDocumentUseCase
	Metrics  *metrics.PipelineMetrics

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	service := opts.Service
	if service == "" {
		service = "contract-analyzer"
	}

	var pipelineMetrics *metrics.PipelineMetrics
	if opts.Registry != nil {
		pipelineMetrics = metrics.NewPipelineMetricsWithRegistry(service, opts.Registry)
	} else {
		pipelineMetrics = metrics.NewPipelineMetrics(service)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	annotatorExec := resilience.NewExecutor(annotatorPolicy(cfg), logger)
	annotatorExec.OnRetry(pipelineMetrics.RecordRetry)
	backendExec := resilience.NewExecutor(backendPolicy(cfg), logger)
	backendExec.OnRetry(pipelineMetrics.RecordRetry)

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, annotatorExec)

	embedder, err := buildEmbedder(cfg, ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, backendExec))
	if err != nil {
		return nil, err
	}
	newStore, err := buildStoreFactory(cfg)
	if err != nil {
		return nil, err
	}

	pages := extractor.NewRouter(plaintext.NewExtractor()).
		Register(".pdf", pdf.NewExtractor(logger))

	pipelineOpts := usecase.PipelineOptions{
		BatchSize:    cfg.BatchSize,
		DefaultQuery: cfg.DefaultQuery,
		DefaultTopK:  cfg.DefaultTopK,
		Summary: usecase.SummaryOptions{
			PreviewsPerCategory: cfg.SummaryPreviewsPerCategory,
			PreviewChars:        cfg.SummaryPreviewChars,
			MaxObligations:      cfg.SummaryMaxObligations,
		},
		RuleBasedSummary: cfg.RuleBasedSummary,
	}

	annotators, unavailable := buildAnnotators(ctx, cfg, annotatorExec, ollamaClient, logger)
	pipeline := usecase.NewPipeline(pages, annotators.main, embedder, newStore, pipelineMetrics, logger, pipelineOpts)
	if unavailable != nil {
		logger.Warn("annotator_unavailable", "provider", cfg.AnnotatorProvider, "error", unavailable)
		pipeline.WithAnnotatorUnavailable(unavailable)
	}
	pipeline.WithClassificationAnnotator(annotators.classify)

	analyzer, err := usecase.NewAnalyzeDocumentUseCase(storage, pipeline, cfg.RunCacheSize)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Storage:  storage,
		Pipeline: pipeline,
		Analyzer: analyzer,
		Metrics:  pipelineMetrics,
	}, nil
}

// OpenQueue connects to NATS for the analysis job subject. The connection is closed by Close.
func (a *App) OpenQueue() (*nats.Queue, error) {
	backendExec := resilience.NewExecutor(backendPolicy(a.Config), a.Logger)
	backendExec.OnRetry(a.Metrics.RecordRetry)
	queue, err := nats.NewWithOptions(a.Config.NATSURL, a.Config.NATSSubject, nats.Options{
		ResilienceExecutor: backendExec,
		Logger:             a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	a.closeFns = append(a.closeFns, queue.Close)
	return queue, nil
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

type annotatorSet struct {
	main     ports.Annotator
	classify ports.Annotator
}

// buildAnnotators returns a nil set and the reason when the model-backed path cannot be used.
// Runs then go straight to the rule-based path.
func buildAnnotators(
	ctx context.Context,
	cfg config.Config,
	executor *resilience.Executor,
	ollamaClient *ollama.Client,
	logger *slog.Logger,
) (annotatorSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.AnnotatorProvider {
	case "gemini":
		client, err := gemini.New(gemini.Config{
			BaseURL: cfg.GeminiBaseURL,
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
		}, executor)
		if err != nil {
			return annotatorSet{}, err
		}
		main := client.WithModel(client.SelectModel(ctx, cfg.GeminiPreferredModels, logger))
		set := annotatorSet{main: main}
		if len(cfg.GeminiClassifyPreferredModels) > 0 {
			set.classify = client.WithModel(client.SelectModel(ctx, cfg.GeminiClassifyPreferredModels, logger.With("stage", "classification")))
		}
		return set, nil
	case "ollama":
		return annotatorSet{main: ollama.NewAnnotator(ollamaClient)}, nil
	case "none", "":
		return annotatorSet{}, errors.New("annotator disabled")
	default:
		return annotatorSet{}, domain.WrapError(
			domain.ErrConfiguration,
			"annotator provider",
			fmt.Errorf("unknown provider %q", cfg.AnnotatorProvider),
		)
	}
}

func buildEmbedder(cfg config.Config, client *ollama.Client) (ports.Embedder, error) {
	switch cfg.EmbedderProvider {
	case "hashing", "":
		return hashing.New(cfg.EmbedDimensions), nil
	case "ollama":
		return ollama.NewEmbedder(client), nil
	default:
		return nil, domain.WrapError(
			domain.ErrConfiguration,
			"embedder provider",
			fmt.Errorf("unknown provider %q", cfg.EmbedderProvider),
		)
	}
}

func buildStoreFactory(cfg config.Config) (func() ports.VectorStore, error) {
	switch cfg.VectorBackend {
	case "flat", "":
		return func() ports.VectorStore { return flat.New() }, nil
	case "qdrant":
		return func() ports.VectorStore { return qdrant.New(cfg.QdrantURL, cfg.QdrantCollectionPrefix) }, nil
	default:
		return nil, domain.WrapError(
			domain.ErrConfiguration,
			"vector backend",
			fmt.Errorf("unknown backend %q", cfg.VectorBackend),
		)
	}
}

func annotatorPolicy(cfg config.Config) resilience.Config {
	policy := backendPolicy(cfg)
	policy.RequestsPerMinute = cfg.AnnotatorRPM
	return policy
}

func backendPolicy(cfg config.Config) resilience.Config {
	policy := resilience.DefaultConfig()
	if cfg.RetryMaxAttempts > 0 {
		policy.RetryMaxAttempts = cfg.RetryMaxAttempts
	}
	policy.BreakerEnabled = cfg.BreakerEnabled
	return policy
}
