package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codemorph/internal/config"
	"github.com/dshills/codemorph/internal/embedder"
	"github.com/dshills/codemorph/internal/logger"
	"github.com/dshills/codemorph/internal/searcher"
	"github.com/dshills/codemorph/internal/workspace"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("def checkout():\n    return 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.py"), []byte("def get_balance():\n    return 2\n"), 0o644))

	pool := workspace.NewPoolWithProvider(config.NewDefaultConfig(), logger.Discard(), func() (embedder.Embedder, error) {
		return embedder.NewLocalProvider(embedder.ProviderOptions{Dimension: 64})
	})
	t.Cleanup(func() { _ = pool.Close() })

	return NewServer(pool, root, logger.Discard()), root
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error
	switch name {
	case "index_repository":
		result, err = srv.handleIndexRepository(ctx, req)
	case "search_code":
		result, err = srv.handleSearchCode(ctx, req)
	case "get_status":
		result, err = srv.handleGetStatus(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}
	require.NoError(t, err, "tool %s", name)
	require.NotNil(t, result)
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func resultJSON(t *testing.T, r *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(r)), &out), resultText(r))
	return out
}

func errorCode(t *testing.T, r *mcp.CallToolResult) int {
	t.Helper()
	require.True(t, r.IsError, "expected an error result, got %s", resultText(r))
	var body ToolError
	require.NoError(t, json.Unmarshal([]byte(resultText(r)), &body))
	return body.Code
}

func TestToolsLifecycle(t *testing.T) {
	srv, root := testServer(t)

	status := resultJSON(t, callTool(t, srv, "get_status", nil))
	assert.Equal(t, false, status["indexed"])

	r := callTool(t, srv, "search_code", map[string]interface{}{"query": "checkout"})
	assert.Equal(t, ErrorCodeNotIndexed, errorCode(t, r))

	r = callTool(t, srv, "index_repository", map[string]interface{}{"path": root})
	require.False(t, r.IsError, resultText(r))
	stats := resultJSON(t, r)
	assert.Equal(t, float64(2), stats["files_indexed"])
	assert.Equal(t, float64(4), stats["symbols_indexed"])

	r = callTool(t, srv, "search_code", map[string]interface{}{"query": "checkout", "k": 1})
	require.False(t, r.IsError, resultText(r))
	text := resultText(r)
	assert.Contains(t, text, "Displaying top **1**")
	assert.Contains(t, text, "a.py#checkout")
	assert.Contains(t, text, "```python")

	status = resultJSON(t, callTool(t, srv, "get_status", map[string]interface{}{}))
	assert.Equal(t, true, status["indexed"])
	statistics := status["statistics"].(map[string]interface{})
	assert.Equal(t, float64(2), statistics["files"])
	assert.Equal(t, float64(4), statistics["symbols"])
	lastRun := status["last_run"].(map[string]interface{})
	assert.Equal(t, "completed", lastRun["status"])

	r = callTool(t, srv, "index_repository", nil)
	stats = resultJSON(t, r)
	assert.Equal(t, float64(0), stats["files_indexed"])
	assert.Equal(t, float64(2), stats["files_unchanged"])
}

func TestSearchCode_JSONFormat(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "index_repository", nil)

	r := callTool(t, srv, "search_code", map[string]interface{}{
		"query":  "balance",
		"format": "json",
		"kinds":  []interface{}{"function"},
	})
	require.False(t, r.IsError, resultText(r))

	var view searcher.ResponseView
	require.NoError(t, json.Unmarshal([]byte(resultText(r)), &view))
	assert.Equal(t, "balance", view.Query)
	require.NotEmpty(t, view.Results)
	assert.Equal(t, "get_balance", view.Results[0].Name)
	for _, res := range view.Results {
		assert.Equal(t, "function", res.Kind)
	}
}

func TestSearchCode_InvalidParams(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "index_repository", nil)

	tests := []struct {
		name string
		args map[string]interface{}
		code int
	}{
		{"missing query", map[string]interface{}{}, ErrorCodeEmptyQuery},
		{"empty query", map[string]interface{}{"query": ""}, ErrorCodeEmptyQuery},
		{"relative path", map[string]interface{}{"query": "x", "path": "relative/dir"}, ErrorCodeInvalidParams},
		{"missing path", map[string]interface{}{"query": "x", "path": "/definitely/not/here"}, ErrorCodeInvalidParams},
		{"k too large", map[string]interface{}{"query": "x", "k": 500}, ErrorCodeInvalidParams},
		{"bad kind", map[string]interface{}{"query": "x", "kinds": []interface{}{"widget"}}, ErrorCodeInvalidParams},
		{"bad format", map[string]interface{}{"query": "x", "format": "text"}, ErrorCodeInvalidParams},
		{"bad query", map[string]interface{}{"query": "(x"}, ErrorCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := callTool(t, srv, "search_code", tt.args)
			assert.Equal(t, tt.code, errorCode(t, r))
		})
	}
}

func TestResolvePath_NoDefault(t *testing.T) {
	srv, _ := testServer(t)
	srv.root = ""

	r := callTool(t, srv, "get_status", nil)
	assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, r))
}

func TestValidatePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.py")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.NoError(t, validatePath(dir))
	assert.ErrorIs(t, validatePath(""), ErrPathRequired)
	assert.ErrorIs(t, validatePath("rel"), ErrPathNotAbsolute)
	assert.ErrorIs(t, validatePath(filepath.Join(dir, "missing")), ErrPathNotFound)
	assert.ErrorIs(t, validatePath(file), ErrNotDirectory)
}

func TestStatisticsResponse_TruncatesErrors(t *testing.T) {
	response := map[string]interface{}{}
	addErrors(response, "errors", []string{"1", "2", "3", "4", "5", "6", "7"})
	assert.Len(t, response["errors"], maxReportedErrors)
	assert.Equal(t, 7, response["errors_count"])

	response = map[string]interface{}{}
	addErrors(response, "errors", nil)
	assert.Empty(t, response)
}

func TestToolDefinitions(t *testing.T) {
	assert.Equal(t, "index_repository", indexRepositoryTool().Name)
	search := searchCodeTool()
	assert.Equal(t, "search_code", search.Name)
	assert.Equal(t, []string{"query"}, search.InputSchema.Required)
	assert.Equal(t, "get_status", getStatusTool().Name)
	assert.NotNil(t, NewServer(nil, "", nil).MCPServer())
}
