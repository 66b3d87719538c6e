package config

import "fmt"

// EmbedderConfig configures the embedding model client.
type EmbedderConfig struct {
	// Type of embedder backend. Only "ollama" is supported.
	Type string `yaml:"type" mapstructure:"type"`

	// Model name served by the backend.
	Model string `yaml:"model" mapstructure:"model"`

	// Host is the backend base URL.
	Host string `yaml:"host" mapstructure:"host"`

	// Dimension of produced vectors.
	Dimension int `yaml:"embeddingDimension" mapstructure:"embeddingDimension"`

	// MaxTokens bounds input truncation.
	MaxTokens int `yaml:"embeddingMaxTokens" mapstructure:"embeddingMaxTokens"`

	// Timeout per request in seconds.
	Timeout int `yaml:"timeout" mapstructure:"timeout"`

	// MaxRetries per embed call.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.Model == "" {
		c.Model = "nomic-embed-text"
	}
	if c.Host == "" {
		c.Host = "http://localhost:11434"
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 8192
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *EmbedderConfig) Validate() error {
	if c.Type != "ollama" {
		return fmt.Errorf("unsupported embedder type: %s", c.Type)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("embeddingDimension must be positive, got %d", c.Dimension)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("embeddingMaxTokens must be positive, got %d", c.MaxTokens)
	}
	return nil
}
