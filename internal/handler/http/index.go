package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/utafrali/facetindex/internal/domain"
	apperrors "github.com/utafrali/facetindex/pkg/errors"
	"github.com/utafrali/facetindex/pkg/httputil"
)

// IndexHandler serves the indexing trigger endpoints.
type IndexHandler struct {
	prices    PriceIndexer
	flattener AttributeFlattener
	token     TokenVerifier
	logger    *slog.Logger
}

// NewIndexHandler creates a new index trigger handler.
func NewIndexHandler(prices PriceIndexer, flattener AttributeFlattener, token TokenVerifier, logger *slog.Logger) *IndexHandler {
	return &IndexHandler{prices: prices, flattener: flattener, token: token, logger: logger}
}

type cursorResponse struct {
	Cursor int64 `json:"cursor"`
	Count  *int  `json:"count,omitempty"`
}

type resultResponse struct {
	Result string `json:"result"`
	Rows   *int64 `json:"rows,omitempty"`
}

func (h *IndexHandler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if !h.token.Verify(r.URL.Query().Get("token")) {
		httputil.WriteError(w, r, apperrors.Unauthorized("invalid token"), h.logger)
		return false
	}
	return true
}

// IndexPrices handles GET|POST /api/v1/facets/index/prices
//
// Query parameters: token, cursor, full, smart and ajax. Ajax callers drive
// the run chunk by chunk and receive the cursor and eligible count after
// each chunk; other callers get the cursor where this invocation stopped.
func (h *IndexHandler) IndexPrices(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	q := r.URL.Query()

	var cursor int64
	if raw := q.Get("cursor"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			httputil.WriteError(w, r, apperrors.InvalidInput("cursor must be a non-negative integer"), h.logger)
			return
		}
		cursor = v
	}

	job := domain.PriceIndexJob{
		Mode:        domain.IndexModeIncremental,
		Cursor:      cursor,
		Smart:       flag(q.Get("smart")),
		Interactive: flag(q.Get("ajax")),
	}
	if flag(q.Get("full")) {
		job.Mode = domain.IndexModeFull
	}

	res, err := h.prices.Run(r.Context(), job)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if !job.Interactive {
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cursorResponse{Cursor: res.Cursor}})
		return
	}
	if res.Done {
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: resultResponse{Result: "ok"}})
		return
	}
	count := res.Count
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cursorResponse{Cursor: res.Cursor, Count: &count}})
}

// IndexAttributes handles GET|POST /api/v1/facets/index/attributes
func (h *IndexHandler) IndexAttributes(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	rows, err := h.flattener.Reindex(r.Context(), nil)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: resultResponse{Result: "ok", Rows: &rows}})
}

// Status handles GET /api/v1/facets/index/status
func (h *IndexHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.prices.Status(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: status})
}

// flag parses the boolean query parameter forms "1" and "true".
func flag(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
