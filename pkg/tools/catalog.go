package tools

import (
	"context"
	"fmt"

	"github.com/nestor-home/nestor/pkg/engine"
	"github.com/nestor-home/nestor/pkg/llms"
	"github.com/nestor-home/nestor/pkg/registry"
	"github.com/nestor-home/nestor/pkg/vector"
)

// Catalog is the fixed allow-list of tools exposed to the LLM. Tool names are
// a stable external contract; the gateway refuses any name not registered
// here.
type Catalog struct {
	*registry.BaseRegistry[Tool]
}

// EngineReader is the read-only slice of the engine adapter the tools use.
// The validate endpoint is deliberately absent.
type EngineReader interface {
	Topics(ctx context.Context) ([]string, error)
	Automations(ctx context.Context) ([]engine.Automation, error)
	Libraries(ctx context.Context) ([]engine.LibraryModule, error)
	LibrarySource(ctx context.Context, name string) (string, error)
	GlobalStateSchema(ctx context.Context) (map[string][]string, error)
}

// CodeSearcher is the slice of the code index the catalog uses.
type CodeSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]vector.CodeSearchResult, error)
	Ready() bool
}

func NewCatalog(eng EngineReader, searcher CodeSearcher, defaultTopK int) (*Catalog, error) {
	c := &Catalog{BaseRegistry: registry.NewBaseRegistry[Tool]()}

	all := []Tool{
		NewGetAllTopicsTool(eng),
		NewSearchTopicsTool(eng),
		NewGetAutomationsTool(eng),
		NewGetLibraryModulesTool(eng),
		NewGetLibraryCodeTool(eng),
		NewGetGlobalStateSchemaTool(eng),
		NewSearchSimilarCodeTool(searcher, defaultTopK),
	}
	for _, tool := range all {
		if err := c.Register(tool.GetName(), tool); err != nil {
			return nil, fmt.Errorf("failed to register tool: %w", err)
		}
	}
	return c, nil
}

// Definitions returns the catalog in the form the LLM layer consumes, in
// stable name order.
func (c *Catalog) Definitions() []llms.ToolDefinition {
	names := c.Names()
	defs := make([]llms.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool, _ := c.Get(name)
		defs = append(defs, Definition(tool.GetInfo()))
	}
	return defs
}

// Execute runs a registered tool. Unknown names are an error: the allow-list
// is closed.
func (c *Catalog) Execute(ctx context.Context, name string, args map[string]interface{}) (ToolResult, error) {
	tool, ok := c.Get(name)
	if !ok {
		return ToolResult{}, fmt.Errorf("tool %q is not in the catalog", name)
	}
	return tool.Execute(ctx, args)
}
