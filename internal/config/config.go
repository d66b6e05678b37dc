// Package config provides configuration management for the paper review service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Framing modes for the outbound event stream.
const (
	// FramingSSE writes one named server-sent event per progress event.
	FramingSSE = "sse"
	// FramingChatChunk writes OpenAI-style chat.completion.chunk frames.
	FramingChatChunk = "chat_chunk"
)

// Known retrieval source names.
const (
	SourceSemanticScholar = "semantic_scholar"
	SourceOpenAlex        = "openalex"
	SourceArXiv           = "arxiv"
)

// Config holds all configuration for the paper review service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// LLM contains language-model client settings.
	LLM LLMConfig `mapstructure:"llm"`
	// PDF contains document text extraction settings.
	PDF PDFConfig `mapstructure:"pdf"`
	// Retrieval contains related-work fallback engine settings.
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	// PaperSources contains paper source API configurations.
	PaperSources PaperSourcesConfig `mapstructure:"paper_sources"`
	// Pipeline contains per-stage deadlines and streaming settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading the request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response. Zero
	// disables it, which streaming reviews need.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxConcurrentReviews caps in-flight review streams; extra requests get 503.
	MaxConcurrentReviews int `mapstructure:"max_concurrent_reviews"`
	// MaxBodyBytes caps the inbound request body.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// LLMConfig holds language-model client configuration.
type LLMConfig struct {
	// Provider is the completion provider (openai, anthropic).
	Provider string `mapstructure:"provider"`
	// Timeout bounds a single completion call.
	Timeout time.Duration `mapstructure:"timeout"`
	// Temperature is the sampling temperature.
	Temperature float64 `mapstructure:"temperature"`
	// MaxTokens caps the completion length.
	MaxTokens int `mapstructure:"max_tokens"`
	// MaxRetries is the number of retries for transient provider errors.
	MaxRetries int `mapstructure:"max_retries"`
	// OpenAI contains settings for any OpenAI-compatible endpoint.
	OpenAI OpenAIConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	// Embedding contains settings for the similarity scorer.
	Embedding EmbeddingConfig `mapstructure:"embedding"`
}

// OpenAIConfig holds OpenAI-compatible endpoint settings.
type OpenAIConfig struct {
	// APIKey is loaded from PAPERREVIEW_LLM_OPENAI_API_KEY.
	APIKey string `mapstructure:"-"`
	// Model is the chat model identifier.
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic-specific settings.
type AnthropicConfig struct {
	// APIKey is loaded from PAPERREVIEW_LLM_ANTHROPIC_API_KEY.
	APIKey string `mapstructure:"-"`
	// Model is the model identifier.
	Model string `mapstructure:"model"`
	// BaseURL overrides the API base URL (empty means the SDK default).
	BaseURL string `mapstructure:"base_url"`
}

// EmbeddingConfig holds settings for the OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	// Enabled turns on similarity scoring of retrieved papers.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is loaded from PAPERREVIEW_LLM_EMBEDDING_API_KEY, falling back to the OpenAI key.
	APIKey string `mapstructure:"-"`
	// Model is the embedding model identifier.
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout bounds a single embeddings call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// PDFConfig holds text extraction settings.
type PDFConfig struct {
	// MaxBytes caps the decoded document size.
	MaxBytes int64 `mapstructure:"max_bytes"`
	// MaxTextRunes truncates the extracted text.
	MaxTextRunes int `mapstructure:"max_text_runes"`
}

// RetrievalConfig holds related-work retrieval settings.
type RetrievalConfig struct {
	// Sources lists source names in priority order.
	Sources []string `mapstructure:"sources"`
	// MaxTries is the per-variant attempt ceiling, first try included.
	MaxTries uint `mapstructure:"max_tries"`
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	// MaxInterval caps each backoff delay.
	MaxInterval time.Duration `mapstructure:"max_interval"`
	// Cooldown is the minimum suspension after a rate-limit signal.
	Cooldown time.Duration `mapstructure:"cooldown"`
	// MaxResults caps the records returned to the pipeline.
	MaxResults int `mapstructure:"max_results"`
	// MaxPerQuery caps the records requested per query variant.
	MaxPerQuery int `mapstructure:"max_per_query"`
	// CacheTTL is how long a successful result set is reused; zero disables caching.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// CacheCapacity bounds the number of cached result sets.
	CacheCapacity uint64 `mapstructure:"cache_capacity"`
	// Deadline bounds one whole search across all sources; zero leaves it to the stage deadline.
	Deadline time.Duration `mapstructure:"deadline"`
}

// PaperSourcesConfig holds configuration for all paper sources.
type PaperSourcesConfig struct {
	// SemanticScholar contains Semantic Scholar API settings.
	SemanticScholar PaperSourceConfig `mapstructure:"semantic_scholar"`
	// OpenAlex contains OpenAlex API settings.
	OpenAlex PaperSourceConfig `mapstructure:"openalex"`
	// ArXiv contains arXiv API settings.
	ArXiv PaperSourceConfig `mapstructure:"arxiv"`
}

// PaperSourceConfig holds configuration for a single paper source.
type PaperSourceConfig struct {
	// Enabled enables this paper source.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key for authentication, loaded from the environment.
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxResults is the maximum results per request.
	MaxResults int `mapstructure:"max_results"`
}

// StageConfig holds the deadline and heartbeat interval of one pipeline stage.
type StageConfig struct {
	// Deadline bounds the stage body.
	Deadline time.Duration `mapstructure:"deadline"`
	// Heartbeat is the keep-alive interval; must be below Deadline.
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// StagesConfig holds per-stage settings in pipeline order.
type StagesConfig struct {
	ExtractText       StageConfig `mapstructure:"extract_text"`
	ExtractFields     StageConfig `mapstructure:"extract_fields"`
	ExtractKeywords   StageConfig `mapstructure:"extract_keywords"`
	RetrieveRelated   StageConfig `mapstructure:"retrieve_related"`
	ScoreSimilarity   StageConfig `mapstructure:"score_similarity"`
	AnalyzeInnovation StageConfig `mapstructure:"analyze_innovation"`
	Evaluate          StageConfig `mapstructure:"evaluate"`
	GenerateReport    StageConfig `mapstructure:"generate_report"`
}

// PipelineConfig holds orchestrator settings.
type PipelineConfig struct {
	// ReviewTimeout is the wall-clock deadline of a whole review run.
	ReviewTimeout time.Duration `mapstructure:"review_timeout"`
	// Framing selects the wire format (sse, chat_chunk).
	Framing string `mapstructure:"framing"`
	// StreamBuffer is the number of events buffered ahead of the writer.
	StreamBuffer int `mapstructure:"stream_buffer"`
	// Stages contains per-stage deadlines and heartbeat intervals.
	Stages StagesConfig `mapstructure:"stages"`
}

// All returns the stage settings keyed by stage name.
func (s StagesConfig) All() map[string]StageConfig {
	return map[string]StageConfig{
		"extract_text":       s.ExtractText,
		"extract_fields":     s.ExtractFields,
		"extract_keywords":   s.ExtractKeywords,
		"retrieve_related":   s.RetrieveRelated,
		"score_similarity":   s.ScoreSimilarity,
		"analyze_innovation": s.AnalyzeInnovation,
		"evaluate":           s.Evaluate,
		"generate_report":    s.GenerateReport,
	}
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load loads configuration from environment variables and config files.
// Environment variables take precedence over config file values.
// Environment variable names are prefixed with PAPERREVIEW_ and use underscores.
// Example: PAPERREVIEW_SERVER_HTTP_PORT=8080
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PAPERREVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/paper-review-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates sensitive fields from environment variables.
// These fields use mapstructure:"-" so they are never read from config files.
func loadSecrets(cfg *Config) {
	cfg.LLM.OpenAI.APIKey = os.Getenv("PAPERREVIEW_LLM_OPENAI_API_KEY")
	cfg.LLM.Anthropic.APIKey = os.Getenv("PAPERREVIEW_LLM_ANTHROPIC_API_KEY")
	cfg.LLM.Embedding.APIKey = os.Getenv("PAPERREVIEW_LLM_EMBEDDING_API_KEY")
	if cfg.LLM.Embedding.APIKey == "" {
		cfg.LLM.Embedding.APIKey = cfg.LLM.OpenAI.APIKey
	}

	cfg.PaperSources.SemanticScholar.APIKey = os.Getenv("PAPERREVIEW_PAPER_SOURCES_SEMANTIC_SCHOLAR_API_KEY")
	cfg.PaperSources.OpenAlex.APIKey = os.Getenv("PAPERREVIEW_PAPER_SOURCES_OPENALEX_API_KEY")
	cfg.PaperSources.ArXiv.APIKey = os.Getenv("PAPERREVIEW_PAPER_SOURCES_ARXIV_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_concurrent_reviews", 100)
	v.SetDefault("server.max_body_bytes", 64<<20)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "paper_review")

	// LLM defaults
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("llm.anthropic.base_url", "")
	v.SetDefault("llm.embedding.enabled", true)
	v.SetDefault("llm.embedding.model", "text-embedding-3-small")
	v.SetDefault("llm.embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.embedding.timeout", "30s")

	// PDF defaults
	v.SetDefault("pdf.max_bytes", 50<<20)
	v.SetDefault("pdf.max_text_runes", 60000)

	// Retrieval defaults
	v.SetDefault("retrieval.sources", []string{SourceSemanticScholar, SourceOpenAlex, SourceArXiv})
	v.SetDefault("retrieval.max_tries", 3)
	v.SetDefault("retrieval.initial_interval", "1s")
	v.SetDefault("retrieval.max_interval", "5s")
	v.SetDefault("retrieval.cooldown", "60s")
	v.SetDefault("retrieval.max_results", 10)
	v.SetDefault("retrieval.max_per_query", 5)
	v.SetDefault("retrieval.cache_ttl", "10m")
	v.SetDefault("retrieval.cache_capacity", 256)
	v.SetDefault("retrieval.deadline", "150s")

	// Paper source defaults
	v.SetDefault("paper_sources.semantic_scholar.enabled", true)
	v.SetDefault("paper_sources.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("paper_sources.semantic_scholar.timeout", "30s")
	v.SetDefault("paper_sources.semantic_scholar.rate_limit", 1.0)
	v.SetDefault("paper_sources.semantic_scholar.max_results", 5)

	v.SetDefault("paper_sources.openalex.enabled", true)
	v.SetDefault("paper_sources.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("paper_sources.openalex.timeout", "30s")
	v.SetDefault("paper_sources.openalex.rate_limit", 10.0)
	v.SetDefault("paper_sources.openalex.max_results", 5)

	v.SetDefault("paper_sources.arxiv.enabled", true)
	v.SetDefault("paper_sources.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("paper_sources.arxiv.timeout", "30s")
	v.SetDefault("paper_sources.arxiv.rate_limit", 0.3) // arXiv asks for one request every three seconds
	v.SetDefault("paper_sources.arxiv.max_results", 5)

	// Pipeline defaults
	v.SetDefault("pipeline.review_timeout", "1200s")
	v.SetDefault("pipeline.framing", FramingSSE)
	v.SetDefault("pipeline.stream_buffer", 64)
	setStageDefaults(v, "extract_text", "180s", "15s")
	setStageDefaults(v, "extract_fields", "120s", "15s")
	setStageDefaults(v, "extract_keywords", "120s", "15s")
	setStageDefaults(v, "retrieve_related", "180s", "15s")
	setStageDefaults(v, "score_similarity", "120s", "15s")
	setStageDefaults(v, "analyze_innovation", "120s", "15s")
	setStageDefaults(v, "evaluate", "480s", "15s")
	setStageDefaults(v, "generate_report", "240s", "25s")
}

func setStageDefaults(v *viper.Viper, stage, deadline, heartbeat string) {
	v.SetDefault("pipeline.stages."+stage+".deadline", deadline)
	v.SetDefault("pipeline.stages."+stage+".heartbeat", heartbeat)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MaxConcurrentReviews <= 0 {
		return fmt.Errorf("server max_concurrent_reviews must be positive")
	}
	if c.Server.WriteTimeout != 0 && c.Server.WriteTimeout < c.Pipeline.ReviewTimeout {
		return fmt.Errorf("server write_timeout (%s) must be zero or at least the review timeout (%s)",
			c.Server.WriteTimeout, c.Pipeline.ReviewTimeout)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires PAPERREVIEW_LLM_OPENAI_API_KEY to be set", c.LLM.Provider)
		}
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires PAPERREVIEW_LLM_ANTHROPIC_API_KEY to be set", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %q", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM timeout must be positive")
	}

	if len(c.Retrieval.Sources) == 0 {
		return fmt.Errorf("retrieval sources must not be empty")
	}
	for _, name := range c.Retrieval.Sources {
		switch name {
		case SourceSemanticScholar, SourceOpenAlex, SourceArXiv:
		default:
			return fmt.Errorf("unknown retrieval source: %q", name)
		}
	}
	if c.Retrieval.MaxTries == 0 {
		return fmt.Errorf("retrieval max_tries must be at least 1")
	}
	if c.Retrieval.InitialInterval <= 0 || c.Retrieval.MaxInterval < c.Retrieval.InitialInterval {
		return fmt.Errorf("retrieval backoff bounds invalid: initial %s, max %s",
			c.Retrieval.InitialInterval, c.Retrieval.MaxInterval)
	}
	if c.Retrieval.MaxResults <= 0 || c.Retrieval.MaxPerQuery <= 0 {
		return fmt.Errorf("retrieval result caps must be positive")
	}
	if c.Retrieval.Deadline < 0 {
		return fmt.Errorf("retrieval deadline must not be negative")
	}

	switch c.Pipeline.Framing {
	case FramingSSE, FramingChatChunk:
	default:
		return fmt.Errorf("invalid pipeline framing: %q", c.Pipeline.Framing)
	}
	if c.Pipeline.ReviewTimeout <= 0 {
		return fmt.Errorf("pipeline review_timeout must be positive")
	}
	if c.Pipeline.StreamBuffer < 0 {
		return fmt.Errorf("pipeline stream_buffer must not be negative")
	}
	for name, stage := range c.Pipeline.Stages.All() {
		if stage.Deadline <= 0 {
			return fmt.Errorf("stage %s: deadline must be positive", name)
		}
		if stage.Heartbeat <= 0 || stage.Heartbeat >= stage.Deadline {
			return fmt.Errorf("stage %s: heartbeat (%s) must be positive and below the deadline (%s)",
				name, stage.Heartbeat, stage.Deadline)
		}
	}

	return nil
}
