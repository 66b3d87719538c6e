package config

import "fmt"

// PlannerConfig tunes the planning engine.
type PlannerConfig struct {
	// MaxFixAttempts bounds the validate/fix retry loop.
	MaxFixAttempts int `yaml:"maxFixAttempts" mapstructure:"maxFixAttempts"`

	// MaxConcurrency caps the context-gathering fan-out.
	MaxConcurrency int `yaml:"maxConcurrency" mapstructure:"maxConcurrency"`

	// ContextGatheringTimeout bounds the fan-out join in seconds.
	ContextGatheringTimeout int `yaml:"contextGatheringTimeout" mapstructure:"contextGatheringTimeout"`

	// SessionTimeout caps one end-to-end session in seconds.
	SessionTimeout int `yaml:"session_timeout" mapstructure:"session_timeout"`

	// SimilarCodeTopK is the semantic search depth during context gathering.
	SimilarCodeTopK int `yaml:"similar_code_top_k" mapstructure:"similar_code_top_k"`

	// CountTransportFailures controls whether validation transport errors
	// consume fix attempts. Default true: an unreachable engine still burns
	// attempts rather than looping forever.
	CountTransportFailures *bool `yaml:"count_transport_failures" mapstructure:"count_transport_failures"`

	// MaxIterations is a hard backstop on planner loop iterations.
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations"`
}

func (c *PlannerConfig) SetDefaults() {
	if c.MaxFixAttempts == 0 {
		c.MaxFixAttempts = 3
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 4
	}
	if c.ContextGatheringTimeout == 0 {
		c.ContextGatheringTimeout = 30
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 600
	}
	if c.SimilarCodeTopK == 0 {
		c.SimilarCodeTopK = 5
	}
	if c.CountTransportFailures == nil {
		t := true
		c.CountTransportFailures = &t
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 50
	}
}

func (c *PlannerConfig) Validate() error {
	if c.MaxFixAttempts < 1 {
		return fmt.Errorf("maxFixAttempts must be at least 1, got %d", c.MaxFixAttempts)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("maxConcurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.SimilarCodeTopK < 0 {
		return fmt.Errorf("similar_code_top_k cannot be negative, got %d", c.SimilarCodeTopK)
	}
	return nil
}
