package config

import "fmt"

// EngineConfig configures the external execution engine REST client.
type EngineConfig struct {
	// BaseURL of the engine REST API.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Timeout per request in seconds.
	Timeout int `yaml:"timeout" mapstructure:"timeout"`

	// MaxRetries for transient transport failures.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`

	// MaxBodyBytes caps accepted response bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

func (c *EngineConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8090"
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 2 << 20
	}
}

func (c *EngineConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", c.MaxBodyBytes)
	}
	return nil
}
