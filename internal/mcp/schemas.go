package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codemorph/internal/searcher"
)

// indexRepositoryTool returns the tool definition for index_repository
func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Index a source repository so it can be searched. Unchanged files are skipped.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository root (defaults to the served repository)",
				},
			},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name: "search_code",
		Description: "Search indexed code with natural language. Upper-case AND, OR, NOT and " +
			"parentheses combine phrases, e.g. 'payment AND NOT (tests OR mocks)'.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to an indexed repository (defaults to the served repository)",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     searcher.DefaultK,
					"minimum":     1,
					"maximum":     searcher.MaxK,
				},
				"kinds": map[string]interface{}{
					"type":        "array",
					"description": "Symbol kinds to search (default: function, method, class)",
					"items": map[string]interface{}{
						"type": "string",
						"enum": []string{"module", "class", "function", "method", "block"},
					},
				},
				"format": map[string]interface{}{
					"type":        "string",
					"description": "Result format",
					"enum":        []string{string(searcher.FormatMarkdown), string(searcher.FormatJSON)},
					"default":     string(searcher.FormatMarkdown),
				},
			},
			Required: []string{"query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics and the last indexing run of a repository",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository root (defaults to the served repository)",
				},
			},
		},
	}
}
