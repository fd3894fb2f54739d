package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codemorph/internal/indexer"
	"github.com/dshills/codemorph/internal/searcher"
	"github.com/dshills/codemorph/internal/workspace"
	"github.com/dshills/codemorph/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Repository not indexed
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeModelMismatch      = -32005 // Index was built with another embedding model
)

// maxReportedErrors bounds the error lists in index responses
const maxReportedErrors = 5

// handleIndexRepository handles the index_repository tool invocation
func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	root, err := s.resolvePath(args)
	if err != nil {
		return toolError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		}), nil
	}

	ws, err := s.pool.Get(root, true)
	if err != nil {
		return toolError(ErrorCodeInternalError, "failed to open index", map[string]interface{}{
			"error": err.Error(),
		}), nil
	}

	stats, err := ws.Index(ctx)
	if err != nil {
		return indexError(err), nil
	}
	s.logger.Info("indexed repository",
		"root", ws.Root,
		"files", stats.FilesIndexed,
		"symbols", stats.SymbolsIndexed,
		"duration", stats.Duration)

	return mcp.NewToolResultText(formatJSON(statisticsResponse(ws.Root, stats))), nil
}

func statisticsResponse(root string, stats *indexer.Statistics) map[string]interface{} {
	response := map[string]interface{}{
		"indexed":            true,
		"path":               root,
		"run_id":             stats.RunID,
		"files_discovered":   stats.FilesDiscovered,
		"files_indexed":      stats.FilesIndexed,
		"files_unchanged":    stats.FilesUnchanged,
		"files_unsupported":  stats.FilesUnsupported,
		"files_skipped":      stats.FilesSkipped,
		"files_failed":       stats.FilesFailed,
		"files_removed":      stats.FilesRemoved,
		"symbols_indexed":    stats.SymbolsIndexed,
		"embedding_failures": stats.EmbeddingFailures,
		"duration_ms":        stats.Duration.Milliseconds(),
	}
	addErrors(response, "parse_errors", stats.ParseErrors)
	addErrors(response, "errors", stats.ErrorMessages)
	if len(stats.Interrupted) > 0 {
		response["interrupted_runs"] = stats.Interrupted
	}
	return response
}

// addErrors includes the first few messages and the total count
func addErrors(response map[string]interface{}, key string, messages []string) {
	if len(messages) == 0 {
		return
	}
	if len(messages) > maxReportedErrors {
		response[key] = messages[:maxReportedErrors]
		response[key+"_count"] = len(messages)
		return
	}
	response[key] = messages
}

func indexError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, indexer.ErrIndexInProgress):
		return toolError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	case errors.Is(err, types.ErrModelMismatch):
		return toolError(ErrorCodeModelMismatch, "embedding model mismatch", map[string]interface{}{
			"error": err.Error(),
		})
	default:
		return toolError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query := getStringDefault(args, "query", "")
	if query == "" {
		return toolError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		}), nil
	}

	root, err := s.resolvePath(args)
	if err != nil {
		return toolError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		}), nil
	}

	k := getIntDefault(args, "k", 0)
	if k < 0 || k > searcher.MaxK {
		return toolError(ErrorCodeInvalidParams, fmt.Sprintf("k must be between 1 and %d", searcher.MaxK), map[string]interface{}{
			"param": "k",
			"value": k,
		}), nil
	}

	var kinds []types.SymbolKind
	for _, name := range getStringSlice(args, "kinds") {
		kind, err := types.ParseKind(name)
		if err != nil {
			return toolError(ErrorCodeInvalidParams, "invalid kind", map[string]interface{}{
				"param": "kinds",
				"value": name,
			}), nil
		}
		kinds = append(kinds, kind)
	}

	format, err := searcher.ParseFormat(getStringDefault(args, "format", string(searcher.FormatMarkdown)))
	if err != nil || format == searcher.FormatText {
		return toolError(ErrorCodeInvalidParams, "invalid format", map[string]interface{}{
			"param":   "format",
			"allowed": []string{string(searcher.FormatMarkdown), string(searcher.FormatJSON)},
		}), nil
	}

	ws, err := s.pool.Get(root, false)
	if err != nil {
		return openError(root, err), nil
	}

	resp, err := ws.Search(ctx, query, k, kinds)
	switch {
	case errors.Is(err, types.ErrModelMismatch):
		return toolError(ErrorCodeModelMismatch, "embedding model mismatch", map[string]interface{}{
			"error": err.Error(),
		}), nil
	case errors.Is(err, searcher.ErrInvalidQuery):
		return toolError(ErrorCodeInvalidParams, "invalid query", map[string]interface{}{
			"param":  "query",
			"reason": err.Error(),
		}), nil
	case err != nil:
		return toolError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		}), nil
	}

	var buf bytes.Buffer
	if err := searcher.Write(&buf, resp, format, ws.Root, false); err != nil {
		return toolError(ErrorCodeInternalError, "failed to format results", map[string]interface{}{
			"error": err.Error(),
		}), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	root, err := s.resolvePath(args)
	if err != nil {
		return toolError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		}), nil
	}

	ws, err := s.pool.Get(root, false)
	if errors.Is(err, workspace.ErrNotIndexed) {
		response := map[string]interface{}{
			"indexed": false,
			"path":    root,
			"message": "Repository not indexed. Use the index_repository tool to index it.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}
	if err != nil {
		return openError(root, err), nil
	}

	status, err := ws.Status(ctx)
	if err != nil {
		return toolError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		}), nil
	}
	return mcp.NewToolResultText(formatJSON(statusResponse(status))), nil
}

func statusResponse(status *workspace.Status) map[string]interface{} {
	st := status.Index
	response := map[string]interface{}{
		"indexed":  true,
		"path":     status.Root,
		"index":    status.IndexPath,
		"model":    st.Model,
		"indexing": status.Indexing,
		"statistics": map[string]interface{}{
			"generation":             st.Generation,
			"files":                  st.Files,
			"symbols":                st.Symbols,
			"edges":                  st.Edges,
			"embeddings":             st.Embeddings,
			"unavailable_embeddings": st.UnavailableEmbeddings,
			"dimension":              st.Dimension,
			"schema_version":         st.SchemaVersion,
			"index_size":             humanize.Bytes(uint64(st.SizeBytes)),
		},
		"cache": map[string]interface{}{
			"memory_hits":    status.Cache.MemoryHits,
			"store_hits":     status.Cache.StoreHits,
			"computed":       status.Cache.Computed,
			"failed":         status.Cache.Failed,
			"provider_calls": status.Cache.ProviderCalls,
			"memory_entries": status.Cache.MemoryEntries,
		},
	}
	if run := st.LastRun; run != nil {
		last := map[string]interface{}{
			"id":                 run.ID,
			"status":             string(run.Status),
			"started_at":         run.StartedAt.Format(time.RFC3339),
			"files_total":        run.FilesTotal,
			"files_indexed":      run.FilesIndexed,
			"files_unchanged":    run.FilesUnchanged,
			"files_failed":       run.FilesFailed,
			"files_removed":      run.FilesRemoved,
			"symbols":            run.Symbols,
			"embedding_failures": run.EmbeddingFailures,
		}
		if !run.FinishedAt.IsZero() {
			last["finished_at"] = run.FinishedAt.Format(time.RFC3339)
			last["finished"] = humanize.Time(run.FinishedAt)
		}
		if run.Error != "" {
			last["error"] = run.Error
		}
		response["last_run"] = last
	}
	return response
}

func openError(root string, err error) *mcp.CallToolResult {
	if errors.Is(err, workspace.ErrNotIndexed) {
		return toolError(ErrorCodeNotIndexed, "repository not indexed", map[string]interface{}{
			"path": root,
		})
	}
	if errors.Is(err, types.ErrStoreCorruption) {
		return toolError(ErrorCodeInternalError, "index unreadable", map[string]interface{}{
			"path":  root,
			"error": err.Error(),
		})
	}
	return toolError(ErrorCodeInternalError, "failed to open index", map[string]interface{}{
		"error": err.Error(),
	})
}

// Helper functions

// ToolError is the body of a failed tool call
type ToolError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// toolError creates a tool result flagged as an error with a JSON body
func toolError(code int, message string, data interface{}) *mcp.CallToolResult {
	body, err := json.MarshalIndent(&ToolError{Code: code, Message: message, Data: data}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(message)
	}
	return mcp.NewToolResultError(string(body))
}

// resolvePath returns the repository named by the path argument, or the
// server's default repository
func (s *Server) resolvePath(args map[string]interface{}) (string, error) {
	path := getStringDefault(args, "path", "")
	if path == "" {
		if s.root == "" {
			return "", ErrPathRequired
		}
		return s.root, nil
	}
	if err := validatePath(path); err != nil {
		return "", err
	}
	return path, nil
}

// validatePath checks if a path exists and is accessible
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	// Check if path is absolute
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	// Check if path exists
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	// Check if it's a directory
	if !info.IsDir() {
		return ErrNotDirectory
	}

	// Check if directory is readable
	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(out)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter, skipping non-string items
func getStringSlice(args map[string]interface{}, key string) []string {
	switch val := args[key].(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
