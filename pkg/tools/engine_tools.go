package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GetAllTopicsTool lists every MQTT topic the engine has discovered.
type GetAllTopicsTool struct {
	engine EngineReader
}

func NewGetAllTopicsTool(engine EngineReader) *GetAllTopicsTool {
	return &GetAllTopicsTool{engine: engine}
}

func (t *GetAllTopicsTool) GetName() string { return "getAllTopics" }

func (t *GetAllTopicsTool) GetDescription() string {
	return "List all MQTT topics discovered on the smart-home broker"
}

func (t *GetAllTopicsTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Returns every MQTT topic currently known to the execution engine. Use this to discover which devices and sensors exist.",
	}
}

func (t *GetAllTopicsTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	topics, err := t.engine.Topics(ctx)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}
	return marshalResult(t.GetName(), topics, start)
}

// SearchTopicsTool filters topics by a case-insensitive substring pattern.
type SearchTopicsTool struct {
	engine EngineReader
}

func NewSearchTopicsTool(engine EngineReader) *SearchTopicsTool {
	return &SearchTopicsTool{engine: engine}
}

func (t *SearchTopicsTool) GetName() string { return "searchTopics" }

func (t *SearchTopicsTool) GetDescription() string {
	return "Search MQTT topics by substring pattern"
}

func (t *SearchTopicsTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Returns topics whose name contains the given pattern (case-insensitive). Prefer this over getAllTopics when looking for a specific device.",
		Parameters: []ToolParameter{
			{
				Name:        "pattern",
				Type:        "string",
				Description: "Substring to match against topic names",
				Required:    true,
			},
		},
	}
}

func (t *SearchTopicsTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	pattern, ok := args["pattern"].(string)
	if !ok || pattern == "" {
		err := fmt.Errorf("pattern parameter is required")
		return errorResult(t.GetName(), err.Error(), start), err
	}

	topics, err := t.engine.Topics(ctx)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	needle := strings.ToLower(pattern)
	matches := []string{}
	for _, topic := range topics {
		if strings.Contains(strings.ToLower(topic), needle) {
			matches = append(matches, topic)
		}
	}
	return marshalResult(t.GetName(), matches, start)
}

// GetAutomationsTool lists deployed automations.
type GetAutomationsTool struct {
	engine EngineReader
}

func NewGetAutomationsTool(engine EngineReader) *GetAutomationsTool {
	return &GetAutomationsTool{engine: engine}
}

func (t *GetAutomationsTool) GetName() string { return "getAutomations" }

func (t *GetAutomationsTool) GetDescription() string {
	return "List deployed automations with their enabled state"
}

func (t *GetAutomationsTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Returns the automations currently deployed on the engine, with name, description and whether each is enabled.",
	}
}

func (t *GetAutomationsTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	automations, err := t.engine.Automations(ctx)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}
	return marshalResult(t.GetName(), automations, start)
}

// GetLibraryModulesTool lists reusable library modules.
type GetLibraryModulesTool struct {
	engine EngineReader
}

func NewGetLibraryModulesTool(engine EngineReader) *GetLibraryModulesTool {
	return &GetLibraryModulesTool{engine: engine}
}

func (t *GetLibraryModulesTool) GetName() string { return "getLibraryModules" }

func (t *GetLibraryModulesTool) GetDescription() string {
	return "List reusable library modules and their exported functions"
}

func (t *GetLibraryModulesTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Returns deployed library modules with name, description and exported function names. Reuse a library function instead of regenerating its logic.",
	}
}

func (t *GetLibraryModulesTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	libraries, err := t.engine.Libraries(ctx)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}
	return marshalResult(t.GetName(), libraries, start)
}

// GetLibraryCodeTool fetches a library module's source.
type GetLibraryCodeTool struct {
	engine EngineReader
}

func NewGetLibraryCodeTool(engine EngineReader) *GetLibraryCodeTool {
	return &GetLibraryCodeTool{engine: engine}
}

func (t *GetLibraryCodeTool) GetName() string { return "getLibraryCode" }

func (t *GetLibraryCodeTool) GetDescription() string {
	return "Fetch the source code of a library module"
}

func (t *GetLibraryCodeTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Returns the full source of one library module, for inspecting exact function signatures before calling them.",
		Parameters: []ToolParameter{
			{
				Name:        "moduleName",
				Type:        "string",
				Description: "Name of the library module",
				Required:    true,
			},
		},
	}
}

func (t *GetLibraryCodeTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	moduleName, ok := args["moduleName"].(string)
	if !ok || moduleName == "" {
		err := fmt.Errorf("moduleName parameter is required")
		return errorResult(t.GetName(), err.Error(), start), err
	}

	source, err := t.engine.LibrarySource(ctx, moduleName)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}
	if source == "" {
		return successResult(t.GetName(), fmt.Sprintf("library module %q not found", moduleName), start), nil
	}
	return successResult(t.GetName(), source, start), nil
}

// GetGlobalStateSchemaTool reports which automations write which global-state keys.
type GetGlobalStateSchemaTool struct {
	engine EngineReader
}

func NewGetGlobalStateSchemaTool(engine EngineReader) *GetGlobalStateSchemaTool {
	return &GetGlobalStateSchemaTool{engine: engine}
}

func (t *GetGlobalStateSchemaTool) GetName() string { return "getGlobalStateSchema" }

func (t *GetGlobalStateSchemaTool) GetDescription() string {
	return "Map global-state key patterns to the automations writing them"
}

func (t *GetGlobalStateSchemaTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Returns the global-state schema: each key pattern with the automation ids that write it. Use this to avoid key collisions between automations.",
	}
}

func (t *GetGlobalStateSchemaTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	schema, err := t.engine.GlobalStateSchema(ctx)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}
	return marshalResult(t.GetName(), schema, start)
}

func marshalResult(toolName string, payload interface{}, start time.Time) (ToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorResult(toolName, err.Error(), start), err
	}
	return successResult(toolName, string(data), start), nil
}
