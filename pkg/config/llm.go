package config

import (
	"fmt"
	"os"
)

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	LLMProviderOpenAI LLMProvider = "openai"
	LLMProviderOllama LLMProvider = "ollama"
)

// LLMConfig configures the two LLM roles: a fast classification model and a
// high-quality generation model, both served by the same provider.
type LLMConfig struct {
	// Provider type (openai, ollama).
	Provider LLMProvider `yaml:"provider" mapstructure:"provider"`

	// ClassificationModel is the fast, cheap model used for intent
	// classification and requirements extraction.
	ClassificationModel string `yaml:"classificationLlm" mapstructure:"classificationLlm"`

	// GenerationModel is the high-quality model used for code generation,
	// library extraction, repair, and conversational answers.
	GenerationModel string `yaml:"generationLlm" mapstructure:"generationLlm"`

	// APIKey for authentication. Supports ${VAR} expansion. Falls back to
	// OPENAI_API_KEY for the openai provider.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// GenerationTemperature applies to code generation, extraction and repair.
	GenerationTemperature float64 `yaml:"generationTemperature" mapstructure:"generationTemperature"`

	// ConversationTemperature applies to conversational answers.
	ConversationTemperature float64 `yaml:"conversationTemperature" mapstructure:"conversationTemperature"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens"`

	// GenerationTimeout is the per-call deadline in seconds for generation calls.
	GenerationTimeout int `yaml:"generation_timeout" mapstructure:"generation_timeout"`

	// ClassificationTimeout is the per-call deadline in seconds for
	// classification calls.
	ClassificationTimeout int `yaml:"classification_timeout" mapstructure:"classification_timeout"`

	// ConnectTimeout bounds connection establishment in seconds.
	ConnectTimeout int `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// MaxToolSteps bounds the tool-use loop per gateway call.
	MaxToolSteps int `yaml:"max_tool_steps" mapstructure:"max_tool_steps"`

	// MaxConcurrentCalls caps outstanding LLM calls process-wide.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls" mapstructure:"max_concurrent_calls"`

	// MaxRetries for transport-level retry on the provider API.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = LLMProviderOpenAI
	}
	if c.ClassificationModel == "" {
		switch c.Provider {
		case LLMProviderOllama:
			c.ClassificationModel = "llama3.2"
		default:
			c.ClassificationModel = "gpt-4o-mini"
		}
	}
	if c.GenerationModel == "" {
		switch c.Provider {
		case LLMProviderOllama:
			c.GenerationModel = "qwen2.5-coder:14b"
		default:
			c.GenerationModel = "gpt-4o"
		}
	}
	if c.APIKey == "" && c.Provider == LLMProviderOpenAI {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case LLMProviderOllama:
			c.BaseURL = "http://localhost:11434"
		default:
			c.BaseURL = "https://api.openai.com/v1"
		}
	}
	if c.GenerationTemperature == 0 {
		c.GenerationTemperature = 0.3
	}
	if c.ConversationTemperature == 0 {
		c.ConversationTemperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.GenerationTimeout == 0 {
		c.GenerationTimeout = 300
	}
	if c.ClassificationTimeout == 0 {
		c.ClassificationTimeout = 30
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30
	}
	if c.MaxToolSteps == 0 {
		c.MaxToolSteps = 8
	}
	if c.MaxConcurrentCalls == 0 {
		c.MaxConcurrentCalls = 16
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderOpenAI, LLMProviderOllama:
	default:
		return fmt.Errorf("unsupported LLM provider: %s (supported: openai, ollama)", c.Provider)
	}
	if c.Provider == LLMProviderOpenAI && c.APIKey == "" {
		return fmt.Errorf("api_key is required for the openai provider (set OPENAI_API_KEY)")
	}
	if c.GenerationTemperature < 0 || c.GenerationTemperature > 1 {
		return fmt.Errorf("generationTemperature must be in [0,1], got %v", c.GenerationTemperature)
	}
	if c.ConversationTemperature < 0 || c.ConversationTemperature > 1 {
		return fmt.Errorf("conversationTemperature must be in [0,1], got %v", c.ConversationTemperature)
	}
	if c.MaxToolSteps < 1 {
		return fmt.Errorf("max_tool_steps must be at least 1, got %d", c.MaxToolSteps)
	}
	return nil
}
