package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompleter_OpenAI(t *testing.T) {
	t.Parallel()

	cfg := FactoryConfig{
		Provider: "openai",
		Options:  ClientOptions{Timeout: 30 * time.Second, MaxRetries: 3, Temperature: 0.7},
		OpenAI: OpenAIConfig{
			APIKey:  "sk-test-key",
			Model:   "gpt-4o",
			BaseURL: "https://api.openai.com/v1/",
		},
	}

	completer, err := NewCompleter(cfg)

	require.NoError(t, err)
	require.NotNil(t, completer)
	assert.Equal(t, "openai", completer.Provider())
	assert.Equal(t, "gpt-4o", completer.Model())

	oc, ok := completer.(*OpenAICompleter)
	require.True(t, ok)
	assert.Equal(t, "https://api.openai.com/v1", oc.baseURL)
	assert.Equal(t, 3, oc.maxRetries)
}

func TestNewCompleter_Anthropic(t *testing.T) {
	t.Parallel()

	cfg := FactoryConfig{
		Provider: "Anthropic",
		Options:  ClientOptions{Timeout: 45 * time.Second, MaxRetries: 2, Temperature: 0.5},
		Anthropic: AnthropicConfig{
			APIKey: "sk-ant-test-key",
			Model:  "claude-sonnet-4-5",
		},
	}

	completer, err := NewCompleter(cfg)

	require.NoError(t, err)
	assert.Equal(t, "anthropic", completer.Provider())
	assert.Equal(t, "claude-sonnet-4-5", completer.Model())
}

func TestNewCompleter_DefaultModels(t *testing.T) {
	t.Parallel()

	oc, err := NewCompleter(FactoryConfig{Provider: "openai"})
	require.NoError(t, err)
	assert.Equal(t, defaultOpenAIModel, oc.Model())

	ac, err := NewCompleter(FactoryConfig{Provider: "anthropic"})
	require.NoError(t, err)
	assert.Equal(t, defaultAnthropicModel, ac.Model())
}

func TestNewCompleter_Unknown(t *testing.T) {
	t.Parallel()

	for _, provider := range []string{"", "gemini", "bedrock"} {
		completer, err := NewCompleter(FactoryConfig{Provider: provider})
		require.Error(t, err, provider)
		assert.Nil(t, completer)
		assert.Contains(t, err.Error(), "unsupported LLM provider")
	}
}
