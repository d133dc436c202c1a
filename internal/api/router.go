package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/toolvault/internal/enrich"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced; callers maps
// tokens onto caller identities. sseHandler, if non-nil, is mounted at
// GET /events inside the auth group.
func NewRouter(svc *enrich.Service, authEnabled bool, callers map[string]Caller, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, callers))

	// Enrichment.
	r.Post("/enrich", h.EnrichTool)

	// Cached tool lookup.
	r.Get("/tools/{toolID}", h.GetTool)

	// Category hints.
	r.Get("/categories", h.Categories)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
