package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/toolvault/internal/apperr"
	"github.com/starford/toolvault/internal/enrich"
	"github.com/starford/toolvault/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *enrich.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *enrich.Service) *Handler {
	return &Handler{svc: svc}
}

// EnrichTool handles POST /api/enrich.
//
//	@Summary		Resolve input to a cached or freshly enriched global tool record
//	@Tags			tools
//	@Accept			json
//	@Produce		json
//	@Param			body	body		EnrichRequest	true	"Tool URL or name"
//	@Success		200		{object}	GlobalTool
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Failure		429		{object}	rateLimitResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/enrich [post]
func (h *Handler) EnrichTool(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req EnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	tool, err := h.svc.Enrich(r.Context(), enrich.Request{
		Input:          req.Input,
		CategoryHints:  req.CategoryHints,
		CallerID:       caller.ID,
		CallerVerified: caller.Verified,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

// GetTool handles GET /api/tools/{toolID}.
//
//	@Summary		Get a cached global tool record by id
//	@Tags			tools
//	@Produce		json
//	@Param			toolID	path		string	true	"Tool id"
//	@Success		200		{object}	GlobalTool
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tools/{toolID} [get]
func (h *Handler) GetTool(w http.ResponseWriter, r *http.Request) {
	tool, err := h.svc.Get(r.Context(), chi.URLParam(r, "toolID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

// Categories handles GET /api/categories.
//
//	@Summary		List the closed category hint set
//	@Tags			tools
//	@Produce		json
//	@Success		200	{object}	CategoriesResponse
//	@Security		BearerAuth
//	@Router			/categories [get]
func (h *Handler) Categories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, CategoriesResponse{Categories: models.DefaultCategories})
}

// writeError maps the application error taxonomy onto HTTP statuses. The
// distinction between rate-limit, conflict, and provider failures is part
// of the contract: clients show different guidance for each.
func writeError(w http.ResponseWriter, err error) {
	var rl *apperr.RateLimitError
	switch {
	case errors.As(err, &rl):
		seconds := int(rl.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, rateLimitResponse{
			Error:             "rate limit exceeded",
			Scope:             rl.Scope,
			RetryAfterSeconds: seconds,
		})
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("enrichment already in progress, try again shortly"))
	case errors.Is(err, apperr.ErrUnresolvedIdentity):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("could not determine an official website for this tool; add it manually"))
	case errors.Is(err, apperr.ErrProvider):
		writeJSON(w, http.StatusBadGateway, errorBody("enrichment provider failed; try again later or add the tool manually"))
	default:
		slog.Error("enrich request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
