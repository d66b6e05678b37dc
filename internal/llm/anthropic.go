package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/observability"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicConfig holds the parameters needed to create an Anthropic client.
// This is defined in the llm package to avoid importing the config package.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key.
	APIKey string
	// Model is the model identifier.
	Model string
	// BaseURL overrides the SDK default endpoint.
	BaseURL string
}

// AnthropicCompleter implements Completer using the Anthropic Messages API.
// Retries of transient failures are delegated to the SDK.
type AnthropicCompleter struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
	timeout     time.Duration
	metrics     *observability.Metrics
}

// NewAnthropicCompleter creates a new Anthropic completion client.
func NewAnthropicCompleter(cfg AnthropicConfig, opts ClientOptions) *AnthropicCompleter {
	opts = opts.withDefaults()

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	reqOpts := []option.RequestOption{
		option.WithMaxRetries(opts.MaxRetries),
		option.WithRequestTimeout(opts.Timeout),
	}
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicCompleter{
		client:      anthropic.NewClient(reqOpts...),
		model:       anthropic.Model(model),
		maxTokens:   int64(opts.MaxTokens),
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
		metrics:     opts.Metrics,
	}
}

// Complete implements Completer.
func (p *AnthropicCompleter) Complete(ctx context.Context, prompt Prompt) (string, error) {
	op := operationName(prompt)
	maxTokens := p.maxTokens
	if prompt.MaxTokens > 0 {
		maxTokens = int64(prompt.MaxTokens)
	}

	system := prompt.System
	if prompt.JSON {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object and nothing else.")
	}

	params := anthropic.MessageNewParams{
		Model:       p.model,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(p.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		err = toDomainError(ctx, p.Provider(), op, p.timeout, fromSDKError(err))
		p.metrics.RecordLLMRequestFailed(p.Provider(), op, domain.Classify(err).String())
		return "", err
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			p.metrics.RecordLLMRequest(p.Provider(), op, time.Since(start).Seconds())
			return block.Text, nil
		}
	}

	err = domain.NewServiceError(p.Provider(), 0, "response contains no text content blocks", nil)
	p.metrics.RecordLLMRequestFailed(p.Provider(), op, domain.Classify(err).String())
	return "", err
}

// Provider returns the provider name.
func (p *AnthropicCompleter) Provider() string {
	return "anthropic"
}

// Model returns the model identifier being used.
func (p *AnthropicCompleter) Model() string {
	return string(p.model)
}

// fromSDKError converts an SDK API error into an APIError, leaving other
// errors untouched.
func fromSDKError(err error) error {
	var sdkErr *anthropic.Error
	if !errors.As(err, &sdkErr) {
		return err
	}
	return &APIError{
		Provider:   "anthropic",
		StatusCode: sdkErr.StatusCode,
		Message:    sdkErr.Error(),
	}
}
