package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dshills/codemorph/internal/indexer"
	"github.com/dshills/codemorph/internal/searcher"
	"github.com/dshills/codemorph/internal/workspace"
	"github.com/dshills/codemorph/pkg/types"
)

var errRelativePath = errors.New("path must be absolute")

// Handler holds API route handlers.
type Handler struct {
	pool   *workspace.Pool
	root   string
	logger *slog.Logger
}

// NewHandler creates a new Handler. Requests without a path act on root.
func NewHandler(pool *workspace.Pool, root string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{pool: pool, root: root, logger: logger}
}

// repository returns the requested repository root or the default one
func (h *Handler) repository(path string) (string, error) {
	if path == "" {
		if h.root == "" {
			return "", errors.New("path is required")
		}
		return h.root, nil
	}
	if !filepath.IsAbs(path) {
		return "", errRelativePath
	}
	return workspace.ResolveRoot(path)
}

// Search handles GET /api/search.
//
// Query parameters: q (required), k, kind (repeatable or comma separated),
// path and format (json or markdown).
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := q.Get("q")
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query is required", nil))
		return
	}

	k := 0
	if raw := q.Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > searcher.MaxK {
			writeJSON(w, http.StatusBadRequest, errorBody("k must be between 1 and "+strconv.Itoa(searcher.MaxK), nil))
			return
		}
		k = n
	}

	var kinds []types.SymbolKind
	for _, value := range q["kind"] {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name == "" {
				continue
			}
			kind, err := types.ParseKind(name)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody("invalid kind", err))
				return
			}
			kinds = append(kinds, kind)
		}
	}

	format := searcher.FormatJSON
	if raw := q.Get("format"); raw != "" {
		f, err := searcher.ParseFormat(raw)
		if err != nil || f == searcher.FormatText {
			writeJSON(w, http.StatusBadRequest, errorBody("format must be json or markdown", nil))
			return
		}
		format = f
	}

	root, err := h.repository(q.Get("path"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid path", err))
		return
	}
	ws, err := h.pool.Get(root, false)
	if err != nil {
		h.openFailed(w, root, err)
		return
	}

	resp, err := ws.Search(r.Context(), query, k, kinds)
	switch {
	case errors.Is(err, searcher.ErrInvalidQuery):
		writeJSON(w, http.StatusBadRequest, errorBody("invalid query", err))
		return
	case errors.Is(err, types.ErrModelMismatch):
		writeJSON(w, http.StatusConflict, errorBody("embedding model mismatch", err))
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody("search timed out", err))
	case errors.Is(err, types.ErrEmbeddingUnavailable):
		writeJSON(w, http.StatusBadGateway, errorBody("query embedding failed", err))
		return
	case err != nil:
		h.logger.Error("search failed", slog.String("root", root), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error", nil))
		return
	}

	if format == searcher.FormatMarkdown {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, searcher.Markdown(resp, ws.Root))
		return
	}
	writeJSON(w, http.StatusOK, resp.View())
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	root, err := h.repository(r.URL.Query().Get("path"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid path", err))
		return
	}

	ws, err := h.pool.Get(root, false)
	if errors.Is(err, workspace.ErrNotIndexed) {
		writeJSON(w, http.StatusOK, StatusResponse{Indexed: false, Path: root})
		return
	}
	if err != nil {
		h.openFailed(w, root, err)
		return
	}

	status, err := ws.Status(r.Context())
	if err != nil {
		h.logger.Error("status failed", slog.String("root", root), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error", nil))
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(status))
}

// Index handles POST /api/index. The body is optional.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON", err))
		return
	}
	if req.Path == "" {
		req.Path = r.URL.Query().Get("path")
	}

	root, err := h.repository(req.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid path", err))
		return
	}
	ws, err := h.pool.Get(root, true)
	if err != nil {
		h.openFailed(w, root, err)
		return
	}

	stats, err := ws.Index(r.Context())
	switch {
	case errors.Is(err, indexer.ErrIndexInProgress):
		writeJSON(w, http.StatusConflict, errorBody("indexing already in progress", nil))
		return
	case errors.Is(err, types.ErrModelMismatch):
		writeJSON(w, http.StatusConflict, errorBody("embedding model mismatch", err))
		return
	case err != nil:
		h.logger.Error("index failed", slog.String("root", root), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("indexing failed", err))
		return
	}
	writeJSON(w, http.StatusOK, newIndexResponse(ws.Root, stats))
}

func (h *Handler) openFailed(w http.ResponseWriter, root string, err error) {
	switch {
	case errors.Is(err, workspace.ErrNotIndexed):
		writeJSON(w, http.StatusNotFound, errorBody("repository not indexed", nil))
	case errors.Is(err, types.ErrModelMismatch):
		writeJSON(w, http.StatusConflict, errorBody("embedding model mismatch", err))
	default:
		h.logger.Error("open index failed", slog.String("root", root), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to open index", err))
	}
}
