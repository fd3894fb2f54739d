package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a chi router with the search API routes
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/search", h.Search)
	r.Get("/status", h.Status)
	r.Post("/index", h.Index)

	return r
}

// NewHandlerTree builds the full HTTP handler: middleware, health checks
// and the API mounted under /api.
func NewHandlerTree(h *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Mount("/api", NewRouter(h))
	return r
}
