// Package llm provides language-model completion and embedding clients for
// the paper review pipeline.
//
// Two completion providers are supported: any OpenAI-compatible chat
// completions endpoint, and Anthropic through its official SDK. Errors are
// reported in the domain taxonomy: deadline and client timeouts become
// domain.TimeoutError, everything else from the provider becomes
// domain.ServiceError.
package llm

import (
	"context"
	"strings"
	"time"

	"github.com/helixir/paper-review-service/internal/observability"
)

// Prompt is one completion request.
type Prompt struct {
	// System carries the role and output-format instructions.
	System string

	// User carries the material to analyze.
	User string

	// JSON asks the provider for a JSON object response where supported.
	JSON bool

	// MaxTokens overrides the client default when positive.
	MaxTokens int

	// Operation labels the call in logs and metrics (e.g. "extract_fields").
	Operation string
}

// Completer produces a single text completion for a prompt.
type Completer interface {
	// Complete returns the model's text. Cancelling ctx abandons the call.
	Complete(ctx context.Context, p Prompt) (string, error)

	// Provider returns the provider name ("openai", "anthropic").
	Provider() string

	// Model returns the model identifier in use.
	Model() string
}

// ClientOptions holds settings shared by every provider.
type ClientOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	Metrics     *observability.Metrics
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	return o
}

func operationName(p Prompt) string {
	if p.Operation == "" {
		return "complete"
	}
	return p.Operation
}

// StripCodeFence removes a surrounding Markdown code fence from a model
// response so that JSON wrapped in ```json ... ``` can be decoded.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
