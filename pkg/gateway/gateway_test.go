package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestor-home/nestor/pkg/config"
	"github.com/nestor-home/nestor/pkg/llms"
	"github.com/nestor-home/nestor/pkg/tools"
)

// scriptedProvider returns queued results and records every call.
type scriptedProvider struct {
	results []*llms.Result
	calls   []providerCall
}

type providerCall struct {
	model    string
	messages []llms.Message
	tools    []llms.ToolDefinition
}

func (p *scriptedProvider) Generate(_ context.Context, model string, messages []llms.Message, defs []llms.ToolDefinition, _ llms.GenerateOptions) (*llms.Result, error) {
	p.calls = append(p.calls, providerCall{model: model, messages: messages, tools: defs})
	if len(p.results) == 0 {
		return &llms.Result{Text: "done"}, nil
	}
	result := p.results[0]
	p.results = p.results[1:]
	return result, nil
}

func (p *scriptedProvider) Close() error { return nil }

// echoTool records its arguments and returns a fixed payload.
type echoTool struct {
	name  string
	calls []map[string]interface{}
}

func (t *echoTool) GetName() string        { return t.name }
func (t *echoTool) GetDescription() string { return "test tool" }

func (t *echoTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{Name: t.name, Description: "test tool"}
}

func (t *echoTool) Execute(_ context.Context, args map[string]interface{}) (tools.ToolResult, error) {
	t.calls = append(t.calls, args)
	return tools.ToolResult{Success: true, Content: `["zigbee2mqtt/kitchen_light"]`, ToolName: t.name}, nil
}

func testLLMConfig() *config.LLMConfig {
	cfg := &config.LLMConfig{APIKey: "test"}
	cfg.SetDefaults()
	return cfg
}

func TestInvokeToolLoop(t *testing.T) {
	provider := &scriptedProvider{results: []*llms.Result{
		{ToolCalls: []llms.ToolCall{{ID: "call_1", Name: "getAllTopics", Arguments: map[string]interface{}{}}}},
		{Text: "You have a kitchen light."},
	}}
	tool := &echoTool{name: "getAllTopics"}

	g := New(provider, testLLMConfig())
	text, err := g.Invoke(context.Background(), "what lights exist?", Options{
		Model: ModelGeneration,
		Tools: []tools.Tool{tool},
	})

	require.NoError(t, err)
	assert.Equal(t, "You have a kitchen light.", text)
	assert.Len(t, tool.calls, 1)

	// The second provider call must carry the tool result message.
	require.Len(t, provider.calls, 2)
	last := provider.calls[1].messages
	toolMsg := last[len(last)-1]
	assert.Equal(t, llms.RoleTool, toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, "kitchen_light")
}

func TestInvokeRejectsUnknownTool(t *testing.T) {
	provider := &scriptedProvider{results: []*llms.Result{
		{ToolCalls: []llms.ToolCall{{ID: "call_1", Name: "deleteEverything"}}},
	}}

	g := New(provider, testLLMConfig())
	_, err := g.Invoke(context.Background(), "hi", Options{
		Tools: []tools.Tool{&echoTool{name: "getAllTopics"}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "deleteEverything")
}

func TestInvokeToolStepBound(t *testing.T) {
	// The provider keeps asking for tools; the gateway must force a final
	// text answer after MaxToolSteps.
	var results []*llms.Result
	for i := 0; i < 20; i++ {
		results = append(results, &llms.Result{
			ToolCalls: []llms.ToolCall{{ID: "c", Name: "getAllTopics", Arguments: map[string]interface{}{}}},
		})
	}
	provider := &scriptedProvider{results: results}
	tool := &echoTool{name: "getAllTopics"}

	g := New(provider, testLLMConfig())
	_, err := g.Invoke(context.Background(), "hi", Options{
		Tools:        []tools.Tool{tool},
		MaxToolSteps: 3,
	})

	require.NoError(t, err)
	assert.Len(t, tool.calls, 3)

	// The forced final call carries no tool definitions.
	final := provider.calls[len(provider.calls)-1]
	assert.Empty(t, final.tools)
}

func TestInvokeModelSelection(t *testing.T) {
	provider := &scriptedProvider{}
	cfg := testLLMConfig()
	g := New(provider, cfg)

	_, err := g.Invoke(context.Background(), "classify", Options{Model: ModelClassification})
	require.NoError(t, err)
	_, err = g.Invoke(context.Background(), "generate", Options{Model: ModelGeneration})
	require.NoError(t, err)

	require.Len(t, provider.calls, 2)
	assert.Equal(t, cfg.ClassificationModel, provider.calls[0].model)
	assert.Equal(t, cfg.GenerationModel, provider.calls[1].model)
}

func TestInvokeStructured(t *testing.T) {
	provider := &scriptedProvider{results: []*llms.Result{
		{Text: "```json\n{\"name\":\"kitchen\",\"count\":2}\n```"},
	}}

	g := New(provider, testLLMConfig())
	got, err := InvokeStructured[target](context.Background(), g, "extract", Options{})

	require.NoError(t, err)
	assert.Equal(t, target{Name: "kitchen", Count: 2}, got)
}

func TestInvokeStructuredParseError(t *testing.T) {
	provider := &scriptedProvider{results: []*llms.Result{{Text: "not json"}}}

	g := New(provider, testLLMConfig())
	_, err := InvokeStructured[target](context.Background(), g, "extract", Options{})

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestSystemPromptLeadsConversation(t *testing.T) {
	provider := &scriptedProvider{}
	g := New(provider, testLLMConfig())

	_, err := g.Invoke(context.Background(), "hello", Options{SystemPrompt: "You are Nestor."})
	require.NoError(t, err)

	msgs := provider.calls[0].messages
	require.Len(t, msgs, 2)
	assert.Equal(t, llms.RoleSystem, msgs[0].Role)
	assert.Equal(t, "You are Nestor.", msgs[0].Content)
	assert.Equal(t, llms.RoleUser, msgs[1].Role)
}
