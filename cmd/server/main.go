// Package main provides the entry point for the paper review HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-review-service/internal/config"
	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/llm"
	"github.com/helixir/paper-review-service/internal/observability"
	"github.com/helixir/paper-review-service/internal/papersources"
	"github.com/helixir/paper-review-service/internal/papersources/arxiv"
	"github.com/helixir/paper-review-service/internal/papersources/openalex"
	"github.com/helixir/paper-review-service/internal/papersources/semanticscholar"
	"github.com/helixir/paper-review-service/internal/pdf"
	"github.com/helixir/paper-review-service/internal/pipeline"
	"github.com/helixir/paper-review-service/internal/retrieval"
	"github.com/helixir/paper-review-service/internal/review"
	httpserver "github.com/helixir/paper-review-service/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("paper-review-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	completer, err := llm.NewCompleter(llm.FactoryConfig{
		Provider: cfg.LLM.Provider,
		Options: llm.ClientOptions{
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
			MaxRetries:  cfg.LLM.MaxRetries,
			Metrics:     metrics,
		},
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			Model:   cfg.LLM.OpenAI.Model,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.LLM.Anthropic.APIKey,
			Model:   cfg.LLM.Anthropic.Model,
			BaseURL: cfg.LLM.Anthropic.BaseURL,
		},
	})
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	logger.Info().
		Str("provider", completer.Provider()).
		Str("model", completer.Model()).
		Msg("LLM client initialized")

	var scorer retrieval.Scorer
	if cfg.LLM.Embedding.Enabled {
		scorer = retrieval.NewEmbeddingScorer(llm.NewEmbedder(llm.EmbedderConfig{
			APIKey:  cfg.LLM.Embedding.APIKey,
			Model:   cfg.LLM.Embedding.Model,
			BaseURL: cfg.LLM.Embedding.BaseURL,
			Timeout: cfg.LLM.Embedding.Timeout,
			Metrics: metrics,
		}))
		logger.Info().Str("model", cfg.LLM.Embedding.Model).Msg("similarity scoring enabled")
	}

	engine := newEngine(cfg.Retrieval, newRegistry(cfg, metrics, logger), scorer, metrics, logger)

	orchestrator, err := pipeline.New(pipeline.Dependencies{
		Extractor: pdf.NewExtractor(pdf.Config{
			MaxBytes:     cfg.PDF.MaxBytes,
			MaxTextRunes: cfg.PDF.MaxTextRunes,
		}),
		Fields:    review.NewFieldExtractor(completer, logger),
		Analyst:   review.NewAnalyst(completer, logger),
		Retriever: engine,
		Scorer:    scorer,
	}, pipelineConfig(cfg.Pipeline), pipeline.Options{
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	httpCfg := httpserver.Config{
		Address:              cfg.Server.HTTPAddress(),
		ReadTimeout:          cfg.Server.ReadTimeout,
		WriteTimeout:         cfg.Server.WriteTimeout,
		IdleTimeout:          2 * time.Minute,
		ShutdownTimeout:      cfg.Server.ShutdownTimeout,
		MaxConcurrentReviews: cfg.Server.MaxConcurrentReviews,
		MaxBodyBytes:         cfg.Server.MaxBodyBytes,
		Framing:              cfg.Pipeline.Framing,
		Model:                completer.Model(),
		StreamBuffer:         cfg.Pipeline.StreamBuffer,
		MetricsPath:          metricsPath,
	}
	httpSrv, err := httpserver.NewServer(httpCfg, orchestrator, httpserver.Options{
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("create HTTP server: %w", err)
	}

	// Channel to collect server errors.
	errCh := make(chan error, 1)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Str("http_address", httpCfg.Address).
		Str("framing", httpCfg.Framing).
		Int("max_concurrent_reviews", httpCfg.MaxConcurrentReviews).
		Msg("paper-review-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown. In-flight reviews finish or hit the timeout.
	logger.Info().Int("in_flight", httpSrv.InFlight()).Msg("shutting down paper-review-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("paper-review-service shutdown complete")
	return nil
}

// newRegistry registers every enabled paper source.
func newRegistry(cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) *papersources.Registry {
	registry := papersources.NewRegistry()

	if ssCfg := cfg.PaperSources.SemanticScholar; ssCfg.Enabled {
		registry.Register(semanticscholar.NewClient(semanticscholar.Config{
			BaseURL:    ssCfg.BaseURL,
			APIKey:     ssCfg.APIKey,
			Timeout:    ssCfg.Timeout,
			RateLimit:  ssCfg.RateLimit,
			MaxResults: ssCfg.MaxResults,
			Enabled:    true,
			Metrics:    metrics,
		}, nil))
		logger.Info().Msg("registered paper source: Semantic Scholar")
	}

	if oaCfg := cfg.PaperSources.OpenAlex; oaCfg.Enabled {
		registry.Register(openalex.New(openalex.Config{
			BaseURL:    oaCfg.BaseURL,
			Email:      oaCfg.APIKey,
			Timeout:    oaCfg.Timeout,
			RateLimit:  oaCfg.RateLimit,
			MaxResults: oaCfg.MaxResults,
			Enabled:    true,
			Metrics:    metrics,
		}))
		logger.Info().Msg("registered paper source: OpenAlex")
	}

	if axCfg := cfg.PaperSources.ArXiv; axCfg.Enabled {
		registry.Register(arxiv.New(arxiv.Config{
			BaseURL:    axCfg.BaseURL,
			Timeout:    axCfg.Timeout,
			RateLimit:  axCfg.RateLimit,
			MaxResults: axCfg.MaxResults,
			Enabled:    true,
			Metrics:    metrics,
		}))
		logger.Info().Msg("registered paper source: arXiv")
	}

	return registry
}

// newEngine builds the retrieval engine. A configured scorer is handed to the
// engine so candidates are ranked before the result cap is applied.
func newEngine(rc config.RetrievalConfig, registry *papersources.Registry, scorer retrieval.Scorer, metrics *observability.Metrics, logger zerolog.Logger) *retrieval.Engine {
	opts := []retrieval.Option{retrieval.WithLogger(logger), retrieval.WithMetrics(metrics)}
	if scorer != nil {
		opts = append(opts, retrieval.WithScorer(scorer))
	}
	return retrieval.NewEngine(registry, retrieval.Config{
		Priority:        sourcePriority(rc.Sources),
		MaxTries:        rc.MaxTries,
		InitialInterval: rc.InitialInterval,
		MaxInterval:     rc.MaxInterval,
		Cooldown:        rc.Cooldown,
		MaxResults:      rc.MaxResults,
		MaxPerQuery:     rc.MaxPerQuery,
		CacheTTL:        rc.CacheTTL,
		CacheCapacity:   rc.CacheCapacity,
		Deadline:        rc.Deadline,
	}, opts...)
}

func sourcePriority(names []string) []domain.SourceType {
	out := make([]domain.SourceType, 0, len(names))
	for _, n := range names {
		out = append(out, domain.SourceType(n))
	}
	return out
}

// pipelineConfig overlays configured stage settings on the built-in defaults.
func pipelineConfig(pc config.PipelineConfig) pipeline.Config {
	out := pipeline.DefaultConfig()
	if pc.ReviewTimeout > 0 {
		out.ReviewTimeout = pc.ReviewTimeout
	}
	for name, sc := range pc.Stages.All() {
		cur := out.Stages[name]
		if sc.Deadline > 0 {
			cur.Deadline = sc.Deadline
		}
		if sc.Heartbeat > 0 {
			cur.Heartbeat = sc.Heartbeat
		}
		out.Stages[name] = cur
	}
	return out
}
