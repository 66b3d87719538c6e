package llms

import (
	"context"
	"fmt"

	"github.com/nestor-home/nestor/pkg/config"
)

// LLMProvider is a chat-completion backend. The model is chosen per call so a
// single provider can serve both the classification and generation roles.
type LLMProvider interface {
	Generate(ctx context.Context, model string, messages []Message, tools []ToolDefinition, opts GenerateOptions) (*Result, error)

	Close() error
}

// NewProviderFromConfig constructs the provider named by cfg.Provider.
func NewProviderFromConfig(cfg *config.LLMConfig) (LLMProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("LLM config cannot be nil")
	}

	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		return NewOpenAIProviderFromConfig(cfg)
	case config.LLMProviderOllama:
		return NewOllamaProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: openai, ollama)", cfg.Provider)
	}
}
