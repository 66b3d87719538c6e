package tools

import (
	"context"
	"time"

	"github.com/nestor-home/nestor/pkg/llms"
)

type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
}

type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

type ToolResult struct {
	Success       bool          `json:"success"`
	Content       string        `json:"content,omitempty"`
	Error         string        `json:"error,omitempty"`
	ToolName      string        `json:"tool_name"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
}

// Tool is one allow-listed context-gathering function the LLM may invoke.
// Every tool must be read-only and idempotent: nothing in this package is
// allowed to mutate the repository or the engine.
type Tool interface {
	GetInfo() ToolInfo

	Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error)

	GetName() string

	GetDescription() string
}

// Definition converts tool metadata into the provider-neutral JSON schema
// form the LLM layer expects.
func Definition(info ToolInfo) llms.ToolDefinition {
	properties := make(map[string]interface{}, len(info.Parameters))
	required := []string{}

	for _, p := range info.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return llms.ToolDefinition{
		Name:        info.Name,
		Description: info.Description,
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

func successResult(toolName, content string, start time.Time) ToolResult {
	return ToolResult{
		Success:       true,
		Content:       content,
		ToolName:      toolName,
		ExecutionTime: time.Since(start),
	}
}

func errorResult(toolName, errorMsg string, start time.Time) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         errorMsg,
		ToolName:      toolName,
		ExecutionTime: time.Since(start),
	}
}
