package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codemorph/internal/workspace"
)

const (
	// ServerName is the MCP server name
	ServerName = "codemorph"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	pool   *workspace.Pool
	root   string // repository used when a tool call names no path
	logger *slog.Logger
}

// NewServer creates a new MCP server over pool. defaultRoot is used by tool
// calls without a path argument; it may be empty.
func NewServer(pool *workspace.Pool, defaultRoot string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
		),
		pool:   pool,
		root:   defaultRoot,
		logger: logger,
	}
	s.registerTools()
	return s
}

// Serve runs the protocol over in and out until ctx is done or in is closed
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
