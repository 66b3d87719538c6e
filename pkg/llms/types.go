package llms

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a provider conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls carries tool invocations requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name of the tool for tool-role messages.
	Name string `json:"name,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a callable tool in provider-neutral JSON schema form.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// StructuredOutputConfig requests machine-parseable output from the provider.
type StructuredOutputConfig struct {
	// Format is "json" for generic JSON-object mode.
	Format string `json:"format,omitempty"`

	// Schema is an optional JSON schema the output must satisfy. Providers
	// without schema enforcement fall back to generic JSON mode.
	Schema map[string]interface{} `json:"schema,omitempty"`

	// SchemaName labels the schema for providers that require one.
	SchemaName string `json:"schema_name,omitempty"`
}

// GenerateOptions tunes a single Generate call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	Structured  *StructuredOutputConfig
}

// Result is the provider response for one Generate call.
type Result struct {
	Text      string
	ToolCalls []ToolCall
	Tokens    int
}
