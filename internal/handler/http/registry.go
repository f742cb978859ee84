package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/service"
	apperrors "github.com/utafrali/facetindex/pkg/errors"
	"github.com/utafrali/facetindex/pkg/httputil"
	"github.com/utafrali/facetindex/pkg/validator"
)

// RegistryHandler handles HTTP requests for facet metadata.
type RegistryHandler struct {
	registry RegistryService
	logger   *slog.Logger
}

// NewRegistryHandler creates a new registry HTTP handler.
func NewRegistryHandler(registry RegistryService, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{registry: registry, logger: logger}
}

// SetIndexableRequest is the JSON request body for storing facet metadata.
type SetIndexableRequest struct {
	Indexable *bool                          `json:"indexable"`
	Names     map[int64]string               `json:"names" validate:"omitempty,dive,max=128"`
	Localized map[int64]domain.LocalizedMeta `json:"localized"`
}

func (h *RegistryHandler) params(w http.ResponseWriter, r *http.Request) (domain.EntityKind, int64, bool) {
	kind := domain.EntityKind(chi.URLParam(r, "kind"))
	if !kind.IsValid() {
		httputil.WriteError(w, r, apperrors.InvalidInput(fmt.Sprintf("unknown entity kind %q", kind)), h.logger)
		return "", 0, false
	}
	id, ok := httputil.ParseIDParam(w, r, "id")
	return kind, id, ok
}

// Get handles GET /api/v1/facets/registry/{kind}/{id}
func (h *RegistryHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.params(w, r)
	if !ok {
		return
	}

	flag, err := h.registry.Get(r.Context(), kind, id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: flag})
}

// Set handles PUT /api/v1/facets/registry/{kind}/{id}
func (h *RegistryHandler) Set(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.params(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req SetIndexableRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	flag, err := h.registry.SetIndexable(r.Context(), service.SetIndexableInput{
		Kind:      kind,
		EntityID:  id,
		Indexable: req.Indexable,
		Names:     req.Names,
		Localized: req.Localized,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: flag})
}

// Delete handles DELETE /api/v1/facets/registry/{kind}/{id}
func (h *RegistryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.params(w, r)
	if !ok {
		return
	}

	if err := h.registry.OnDelete(r.Context(), kind, id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
