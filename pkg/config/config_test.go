package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, LLMProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.ClassificationModel)
	assert.Equal(t, "gpt-4o", cfg.LLM.GenerationModel)
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.Model)
	assert.Equal(t, 768, cfg.Embedder.Dimension)
	assert.Equal(t, 3, cfg.Planner.MaxFixAttempts)
	assert.Equal(t, 50, cfg.Planner.MaxIterations)
	require.NotNil(t, cfg.Planner.CountTransportFailures)
	assert.True(t, *cfg.Planner.CountTransportFailures)

	require.NoError(t, cfg.Validate())
}

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 9000
llm:
  provider: ollama
  classificationLlm: llama3.2
  generationLlm: qwen2.5-coder:14b
  generationTemperature: 0.2
planner:
  maxFixAttempts: 5
  contextGatheringTimeout: 10
repository:
  path: /srv/automations
  watch: true
`))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, LLMProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, 0.2, cfg.LLM.GenerationTemperature)
	assert.Equal(t, 5, cfg.Planner.MaxFixAttempts)
	assert.Equal(t, 10, cfg.Planner.ContextGatheringTimeout)
	assert.Equal(t, "/srv/automations", cfg.Repository.Path)
	assert.True(t, cfg.Repository.Watch)

	// Untouched sections still get defaults.
	assert.Equal(t, "nestor-index.db", cfg.Store.Path)
	assert.Equal(t, 4, cfg.Planner.MaxConcurrency)
}

func TestParseExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-from-env")

	cfg, err := Parse([]byte(`
llm:
  provider: openai
  api_key: ${TEST_LLM_KEY}
  base_url: ${TEST_LLM_URL:-https://proxy.local/v1}
`))
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
	assert.Equal(t, "https://proxy.local/v1", cfg.LLM.BaseURL)
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [not a map"))
	assert.Error(t, err)
}

func TestParseRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad provider", "llm:\n  provider: anthropic\n"},
		{"bad port", "server:\n  port: 99999\nllm:\n  provider: ollama\n"},
		{"bad temperature", "llm:\n  provider: ollama\n  generationTemperature: 1.5\n"},
		{"bad embedder", "llm:\n  provider: ollama\nembedder:\n  type: openai\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestOpenAIRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Parse([]byte("llm:\n  provider: openai\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nestor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: ollama\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, LLMProviderOllama, cfg.LLM.Provider)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOllamaDefaults(t *testing.T) {
	cfg := &LLMConfig{Provider: LLMProviderOllama}
	cfg.SetDefaults()

	assert.Equal(t, "llama3.2", cfg.ClassificationModel)
	assert.Equal(t, "qwen2.5-coder:14b", cfg.GenerationModel)
	assert.Equal(t, "http://localhost:11434", cfg.BaseURL)
	require.NoError(t, cfg.Validate())
}
