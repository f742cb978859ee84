package http

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/service"
	"github.com/utafrali/facetindex/pkg/httputil"
	"github.com/utafrali/facetindex/pkg/pagination"
	"github.com/utafrali/facetindex/pkg/validator"
)

// TemplateHandler handles HTTP requests for filter templates.
type TemplateHandler struct {
	templates TemplateService
	entries   EntryReader
	logger    *slog.Logger
}

// NewTemplateHandler creates a new template HTTP handler.
func NewTemplateHandler(templates TemplateService, entries EntryReader, logger *slog.Logger) *TemplateHandler {
	return &TemplateHandler{templates: templates, entries: entries, logger: logger}
}

// List handles GET /api/v1/facets/templates
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	templates, total, err := h.templates.List(r.Context(), params.Offset, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(templates, total, params.Page, params.PerPage))
}

// Create handles POST /api/v1/facets/templates
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req service.TemplateInput
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	tpl, err := h.templates.Create(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: tpl})
}

// Get handles GET /api/v1/facets/templates/{id}
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseIDParam(w, r, "id")
	if !ok {
		return
	}

	tpl, err := h.templates.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: tpl})
}

// Update handles PUT /api/v1/facets/templates/{id}
func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseIDParam(w, r, "id")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req service.TemplateInput
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	tpl, err := h.templates.Update(r.Context(), id, req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: tpl})
}

// Delete handles DELETE /api/v1/facets/templates/{id}
func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.templates.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resolve handles POST /api/v1/facets/resolve
func (h *TemplateHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if err := h.entries.Resolve(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: resultResponse{Result: "ok"}})
}

// Entries handles GET /api/v1/facets/shops/{shopId}/categories/{categoryId}/entries
func (h *TemplateHandler) Entries(w http.ResponseWriter, r *http.Request) {
	shopID, ok := httputil.ParseIDParam(w, r, "shopId")
	if !ok {
		return
	}
	categoryID, ok := httputil.ParseIDParam(w, r, "categoryId")
	if !ok {
		return
	}

	entries, err := h.entries.Entries(r.Context(), shopID, categoryID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if entries == nil {
		entries = []domain.LayeredCategoryEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: entries})
}
