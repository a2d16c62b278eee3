package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/service"
	"github.com/utafrali/catalog-indexer/pkg/httputil"
	"github.com/utafrali/catalog-indexer/pkg/pagination"
	"github.com/utafrali/catalog-indexer/pkg/validator"
)

// CatalogHandler handles the catalog operations endpoints.
type CatalogHandler struct {
	service *service.CatalogService
	logger  *slog.Logger
}

// NewCatalogHandler creates a new catalog HTTP handler.
func NewCatalogHandler(svc *service.CatalogService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

type catalogParams struct {
	CatalogKey string `validate:"required,catalogkey"`
}

// catalogKey validates the {key} URL parameter. It writes the error
// response and returns false when the key is invalid.
func catalogKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := catalogParams{CatalogKey: chi.URLParam(r, "key")}
	if err := validator.Validate(p); err != nil {
		httputil.WriteValidationError(w, err)
		return "", false
	}
	return p.CatalogKey, true
}

// --- Handlers ---

// Status handles GET /api/v1/catalogs/{key}
func (h *CatalogHandler) Status(w http.ResponseWriter, r *http.Request) {
	key, ok := catalogKey(w, r)
	if !ok {
		return
	}

	st, err := h.service.Status(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: st})
}

// Failures handles GET /api/v1/catalogs/{key}/failures
func (h *CatalogHandler) Failures(w http.ResponseWriter, r *http.Request) {
	key, ok := catalogKey(w, r)
	if !ok {
		return
	}

	items, err := h.service.Failures(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	page := pagination.Slice[domain.FailedItem](items, pagination.FromRequest(r))
	httputil.WriteJSON(w, http.StatusOK, page)
}

// Sync handles POST /api/v1/catalogs/{key}/sync
func (h *CatalogHandler) Sync(w http.ResponseWriter, r *http.Request) {
	key, ok := catalogKey(w, r)
	if !ok {
		return
	}

	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "force must be a boolean"},
			})
			return
		}
		force = b
	}

	if err := h.service.TriggerSync(r.Context(), key, force); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{
		Data: map[string]any{"catalogKey": key, "force": force, "status": "accepted"},
	})
}

// ClearCheckpoint handles DELETE /api/v1/catalogs/{key}/checkpoint
func (h *CatalogHandler) ClearCheckpoint(w http.ResponseWriter, r *http.Request) {
	key, ok := catalogKey(w, r)
	if !ok {
		return
	}

	if err := h.service.ClearCheckpoint(r.Context(), key); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
