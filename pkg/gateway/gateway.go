package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/nestor-home/nestor/pkg/config"
	"github.com/nestor-home/nestor/pkg/llms"
	"github.com/nestor-home/nestor/pkg/observability"
	"github.com/nestor-home/nestor/pkg/tools"
)

// ModelClass selects which of the two configured models serves a call.
type ModelClass string

const (
	// ModelClassification is the fast, cheap model for intent parsing and
	// requirements extraction.
	ModelClassification ModelClass = "classification"

	// ModelGeneration is the high-quality model for code generation, repair
	// and conversational answers.
	ModelGeneration ModelClass = "generation"
)

// Options tunes a single gateway call.
type Options struct {
	Model ModelClass

	// Temperature overrides the configured default when > 0.
	Temperature float64

	// SystemPrompt prefixes the conversation when non-empty.
	SystemPrompt string

	// Tools enables the tool-use loop when non-empty. Only the tools listed
	// here may be invoked; the gateway rejects any other name the model asks
	// for.
	Tools []tools.Tool

	// MaxToolSteps overrides the configured loop bound when > 0.
	MaxToolSteps int
}

// Gateway drives an LLM provider with optional system prompt, tool loop and
// structured-output extraction. It is safe for concurrent use; a process-wide
// semaphore caps outstanding provider calls.
type Gateway struct {
	provider llms.LLMProvider
	cfg      *config.LLMConfig
	sem      chan struct{}
	metrics  *observability.Metrics
}

func New(provider llms.LLMProvider, cfg *config.LLMConfig) *Gateway {
	return &Gateway{
		provider: provider,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrentCalls),
	}
}

// Instrument attaches metrics recording. Call before serving traffic.
func (g *Gateway) Instrument(m *observability.Metrics) {
	g.metrics = m
}

// Invoke runs one prompt to a terminal text response, executing any tool
// calls the model requests along the way.
func (g *Gateway) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	return g.invoke(ctx, prompt, opts, nil)
}

// InvokeJSON is Invoke in generic JSON-object mode: the provider is asked for
// a JSON response but the raw text is returned for the caller to decode,
// typically via DecodeJSON.
func (g *Gateway) InvokeJSON(ctx context.Context, prompt string, opts Options) (string, error) {
	return g.invoke(ctx, prompt, opts, &llms.StructuredOutputConfig{Format: "json"})
}

// InvokeStructured runs one prompt and parses the terminal response into T.
// The JSON schema of T is reflected and handed to the provider so models with
// schema enforcement produce conforming output; the response is still passed
// through best-effort extraction for models that wrap JSON in prose or
// fences. Returns *ParseError when no parse succeeds.
func InvokeStructured[T any](ctx context.Context, g *Gateway, prompt string, opts Options) (T, error) {
	var out T

	structured := &llms.StructuredOutputConfig{
		Format:     "json",
		Schema:     reflectSchema(reflect.TypeOf(out)),
		SchemaName: schemaName(reflect.TypeOf(out)),
	}

	raw, err := g.invoke(ctx, prompt, opts, structured)
	if err != nil {
		return out, err
	}
	if err := DecodeJSON(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (g *Gateway) invoke(ctx context.Context, prompt string, opts Options, structured *llms.StructuredOutputConfig) (string, error) {
	if err := g.acquire(ctx); err != nil {
		return "", err
	}
	defer g.release()

	ctx, cancel := context.WithTimeout(ctx, g.deadline(opts.Model))
	defer cancel()

	model := g.modelFor(opts.Model)
	genOpts := llms.GenerateOptions{
		Temperature: g.temperature(opts),
		MaxTokens:   g.cfg.MaxTokens,
		Structured:  structured,
	}

	messages := []llms.Message{}
	if opts.SystemPrompt != "" {
		messages = append(messages, llms.Message{Role: llms.RoleSystem, Content: opts.SystemPrompt})
	}
	messages = append(messages, llms.Message{Role: llms.RoleUser, Content: prompt})

	defs, byName := toolSet(opts.Tools)

	maxSteps := opts.MaxToolSteps
	if maxSteps <= 0 {
		maxSteps = g.cfg.MaxToolSteps
	}

	for step := 0; step < maxSteps; step++ {
		result, err := g.generate(ctx, model, messages, defs, genOpts)
		if err != nil {
			return "", fmt.Errorf("LLM call failed: %w", err)
		}

		if len(result.ToolCalls) == 0 {
			return result.Text, nil
		}

		messages = append(messages, llms.Message{
			Role:      llms.RoleAssistant,
			Content:   result.Text,
			ToolCalls: result.ToolCalls,
		})

		for _, call := range result.ToolCalls {
			tool, ok := byName[call.Name]
			if !ok {
				return "", fmt.Errorf("model requested tool %q which is not in the offered set", call.Name)
			}

			slog.Debug("executing tool call", "tool", call.Name, "model", model)
			g.metrics.RecordToolCall(ctx, call.Name)
			res, err := tool.Execute(ctx, call.Arguments)

			content := res.Content
			if err != nil || !res.Success {
				content = fmt.Sprintf("tool error: %s", res.Error)
			}
			messages = append(messages, llms.Message{
				Role:       llms.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	// The loop bound was hit. Force a terminal answer from the context
	// gathered so far by withholding the tool set.
	slog.Warn("tool-use loop bound reached, forcing final answer", "max_steps", maxSteps)
	result, err := g.generate(ctx, model, messages, nil, genOpts)
	if err != nil {
		return "", fmt.Errorf("LLM call failed: %w", err)
	}
	return result.Text, nil
}

func (g *Gateway) generate(ctx context.Context, model string, messages []llms.Message, defs []llms.ToolDefinition, opts llms.GenerateOptions) (*llms.Result, error) {
	start := time.Now()
	result, err := g.provider.Generate(ctx, model, messages, defs, opts)

	tokens := 0
	if result != nil {
		tokens = result.Tokens
	}
	g.metrics.RecordLLMCall(ctx, model, time.Since(start), tokens, err)
	return result, err
}

func (g *Gateway) acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) release() { <-g.sem }

func (g *Gateway) modelFor(class ModelClass) string {
	if class == ModelClassification {
		return g.cfg.ClassificationModel
	}
	return g.cfg.GenerationModel
}

func (g *Gateway) deadline(class ModelClass) time.Duration {
	if class == ModelClassification {
		return time.Duration(g.cfg.ClassificationTimeout) * time.Second
	}
	return time.Duration(g.cfg.GenerationTimeout) * time.Second
}

func (g *Gateway) temperature(opts Options) float64 {
	if opts.Temperature > 0 {
		return opts.Temperature
	}
	return g.cfg.GenerationTemperature
}

func toolSet(available []tools.Tool) ([]llms.ToolDefinition, map[string]tools.Tool) {
	if len(available) == 0 {
		return nil, nil
	}
	defs := make([]llms.ToolDefinition, 0, len(available))
	byName := make(map[string]tools.Tool, len(available))
	for _, t := range available {
		defs = append(defs, tools.Definition(t.GetInfo()))
		byName[t.GetName()] = t
	}
	return defs, byName
}

func reflectSchema(t reflect.Type) map[string]interface{} {
	if t == nil {
		return nil
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	reflector := jsonschema.Reflector{
		DoNotReference:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: false,
	}
	schema := reflector.ReflectFromType(t)

	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	// Providers reject schemas carrying a $schema marker inside json_schema
	// response formats.
	delete(m, "$schema")
	return m
}

func schemaName(t reflect.Type) string {
	if t == nil {
		return "response"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "response"
	}
	return t.Name()
}
