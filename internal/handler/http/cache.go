package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/facetindex/internal/domain"
	apperrors "github.com/utafrali/facetindex/pkg/errors"
	"github.com/utafrali/facetindex/pkg/httputil"
	"github.com/utafrali/facetindex/pkg/validator"
)

// maxBlockSize bounds a stored facet block.
const maxBlockSize = 4 << 20

// CacheHandler serves the result cache.
type CacheHandler struct {
	cache  BlockCache
	logger *slog.Logger
}

// NewCacheHandler creates a new result cache HTTP handler.
func NewCacheHandler(cache BlockCache, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{cache: cache, logger: logger}
}

type keyResponse struct {
	Key    string `json:"key"`
	Cached bool   `json:"cached"`
	Block  []byte `json:"block,omitempty"`
}

type storeBlockRequest struct {
	Query domain.QueryContext `json:"query"`
	Block []byte              `json:"block" validate:"required"`
}

// Key handles POST /api/v1/facets/blocks/key
//
// It returns the key of the query context and, when a block is cached
// under it, the block itself.
func (h *CacheHandler) Key(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var q domain.QueryContext
	if err := validator.DecodeAndValidate(r, &q); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	data, key, err := h.cache.Lookup(r.Context(), q)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: keyResponse{Key: key}})
	case err != nil:
		httputil.WriteError(w, r, err, h.logger)
	default:
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: keyResponse{Key: key, Cached: true, Block: data}})
	}
}

// StoreBlock handles POST /api/v1/facets/blocks
//
// The block is sent base64 encoded along with the query context it was
// rendered for; the response carries the key it was stored under.
func (h *CacheHandler) StoreBlock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBlockSize*2)

	var req storeBlockRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	key, err := h.cache.Store(r.Context(), req.Query, req.Block)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: keyResponse{Key: key, Cached: true}})
}

// GetBlock handles GET /api/v1/facets/blocks/{hash}
func (h *CacheHandler) GetBlock(w http.ResponseWriter, r *http.Request) {
	data, err := h.cache.Get(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// PutBlock handles PUT /api/v1/facets/blocks/{hash}
func (h *CacheHandler) PutBlock(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBlockSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, r, apperrors.InvalidInput("block too large"), h.logger)
			return
		}
		httputil.WriteError(w, r, apperrors.InvalidInput("read block: "+err.Error()), h.logger)
		return
	}

	if err := h.cache.Put(r.Context(), chi.URLParam(r, "hash"), data); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Invalidate handles POST /api/v1/facets/cache/invalidate
func (h *CacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Invalidate(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: resultResponse{Result: "ok"}})
}
