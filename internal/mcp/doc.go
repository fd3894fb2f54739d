// Package mcp implements the Model Context Protocol (MCP) server for codemorph.
//
// The server exposes three tools to AI coding assistants:
//   - index_repository: Index or refresh a repository
//   - search_code: Hybrid search over indexed symbols
//   - get_status: Index statistics and the last indexing run
//
// # Protocol Overview
//
// MCP is JSON-RPC 2.0 over stdio:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started by the serve command:
//
//	codemorph serve --mcp --root /path/to/repo
//
// Every tool accepts an optional absolute "path". Calls without one act on
// the repository named by --root.
//
// # Tool: index_repository
//
//	Request:
//	{
//	  "name": "index_repository",
//	  "arguments": {"path": "/path/to/repo"}
//	}
//
//	Response:
//	{
//	  "indexed": true,
//	  "files_indexed": 247,
//	  "files_unchanged": 12,
//	  "symbols_indexed": 8432,
//	  "embedding_failures": 0,
//	  "duration_ms": 35200
//	}
//
// Files that did not change since the previous run are skipped. Parse errors
// are reported per file and do not fail the run.
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "query": "payment AND NOT (tests OR mocks)",
//	    "k": 10,
//	    "kinds": ["function", "method"],
//	    "format": "markdown"
//	  }
//	}
//
// The markdown format renders one fenced code block per result. The json
// format returns a searcher.ResponseView.
//
// # Tool: get_status
//
//	Request:
//	{
//	  "name": "get_status",
//	  "arguments": {"path": "/path/to/repo"}
//	}
//
// Unindexed repositories report {"indexed": false}.
//
// # Error Handling
//
// Failed calls return a tool result flagged as an error whose text is a
// JSON object:
//
//	{"code": -32003, "message": "repository not indexed", "data": {...}}
//
// Codes:
//
//	-32602  Invalid parameters
//	-32603  Internal error
//	-32002  Indexing already in progress
//	-32003  Repository not indexed
//	-32004  Empty query
//	-32005  Embedding model mismatch
//
// # Concurrency
//
// Repositories are opened once and shared through a workspace.Pool. Searches
// run concurrently with each other and with indexing; a second index call on
// the same repository fails with -32002 while the first is running.
package mcp
