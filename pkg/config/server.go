package config

import "fmt"

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`

	// ReadTimeout in seconds for request headers and bodies.
	ReadTimeout int `yaml:"read_timeout" mapstructure:"read_timeout"`

	// ShutdownTimeout in seconds for graceful shutdown.
	ShutdownTimeout int `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// MetricsEnabled exposes Prometheus metrics at /metrics.
	MetricsEnabled bool `yaml:"metrics_enabled" mapstructure:"metrics_enabled"`

	// TracingEnabled turns on OTLP trace export.
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`

	// TracingEndpoint is the OTLP gRPC collector endpoint.
	TracingEndpoint string `yaml:"tracing_endpoint" mapstructure:"tracing_endpoint"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15
	}
	if c.TracingEndpoint == "" {
		c.TracingEndpoint = "localhost:4317"
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in [1,65535], got %d", c.Port)
	}
	return nil
}
