package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SearchSimilarCodeTool runs a semantic search over indexed automation and
// library code. When the embedding model is not ready it returns an empty
// list rather than failing.
type SearchSimilarCodeTool struct {
	searcher    CodeSearcher
	defaultTopK int
}

func NewSearchSimilarCodeTool(searcher CodeSearcher, defaultTopK int) *SearchSimilarCodeTool {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &SearchSimilarCodeTool{searcher: searcher, defaultTopK: defaultTopK}
}

func (t *SearchSimilarCodeTool) GetName() string { return "searchSimilarCode" }

func (t *SearchSimilarCodeTool) GetDescription() string {
	return "Semantic search over existing automation and library code"
}

func (t *SearchSimilarCodeTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Finds existing automations and libraries semantically similar to a natural-language query. Use results as style and structure references.",
		Parameters: []ToolParameter{
			{
				Name:        "query",
				Type:        "string",
				Description: "Natural-language description of the code to find",
				Required:    true,
			},
			{
				Name:        "topK",
				Type:        "integer",
				Description: "Maximum number of results",
				Required:    false,
				Default:     t.defaultTopK,
			},
		},
	}
}

func (t *SearchSimilarCodeTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	query, ok := args["query"].(string)
	if !ok || query == "" {
		err := fmt.Errorf("query parameter is required")
		return errorResult(t.GetName(), err.Error(), start), err
	}

	topK := t.defaultTopK
	// JSON numbers arrive as float64.
	if raw, ok := args["topK"].(float64); ok && int(raw) > 0 {
		topK = int(raw)
	}

	if !t.searcher.Ready() {
		return successResult(t.GetName(), "[]", start), nil
	}

	hits, err := t.searcher.Search(ctx, query, topK)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	type hit struct {
		Kind       string  `json:"kind"`
		Name       string  `json:"name"`
		SourceCode string  `json:"sourceCode"`
		Similarity float64 `json:"similarity"`
	}
	out := make([]hit, 0, len(hits))
	for _, h := range hits {
		out = append(out, hit{
			Kind:       string(h.Kind),
			Name:       h.Name,
			SourceCode: h.SourceCode,
			Similarity: h.Similarity,
		})
	}

	data, err := json.Marshal(out)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}
	return successResult(t.GetName(), string(data), start), nil
}
