package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/service"
	apperrors "github.com/utafrali/facetindex/pkg/errors"
	"github.com/utafrali/facetindex/pkg/health"
	"github.com/utafrali/facetindex/pkg/httputil"
	"github.com/utafrali/facetindex/pkg/middleware"
)

// ============================================================================
// Mocks
// ============================================================================

type mockTemplates struct{ mock.Mock }

func (m *mockTemplates) Create(ctx context.Context, in service.TemplateInput) (*domain.FilterTemplate, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FilterTemplate), args.Error(1)
}

func (m *mockTemplates) Update(ctx context.Context, id int64, in service.TemplateInput) (*domain.FilterTemplate, error) {
	args := m.Called(ctx, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FilterTemplate), args.Error(1)
}

func (m *mockTemplates) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockTemplates) Get(ctx context.Context, id int64) (*domain.FilterTemplate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FilterTemplate), args.Error(1)
}

func (m *mockTemplates) List(ctx context.Context, offset, limit int) ([]domain.FilterTemplate, int, error) {
	args := m.Called(ctx, offset, limit)
	return args.Get(0).([]domain.FilterTemplate), args.Int(1), args.Error(2)
}

type mockEntries struct{ mock.Mock }

func (m *mockEntries) Resolve(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockEntries) Entries(ctx context.Context, shopID, categoryID int64) ([]domain.LayeredCategoryEntry, error) {
	args := m.Called(ctx, shopID, categoryID)
	return args.Get(0).([]domain.LayeredCategoryEntry), args.Error(1)
}

type mockRegistry struct{ mock.Mock }

func (m *mockRegistry) SetIndexable(ctx context.Context, in service.SetIndexableInput) (*domain.IndexableFlag, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IndexableFlag), args.Error(1)
}

func (m *mockRegistry) OnDelete(ctx context.Context, kind domain.EntityKind, entityID int64) error {
	return m.Called(ctx, kind, entityID).Error(0)
}

func (m *mockRegistry) Get(ctx context.Context, kind domain.EntityKind, entityID int64) (*domain.IndexableFlag, error) {
	args := m.Called(ctx, kind, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IndexableFlag), args.Error(1)
}

type mockSettings struct{ mock.Mock }

func (m *mockSettings) Get(ctx context.Context) (domain.Settings, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.Settings), args.Error(1)
}

func (m *mockSettings) Update(ctx context.Context, in service.SettingsInput) (domain.Settings, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(domain.Settings), args.Error(1)
}

type mockCache struct{ mock.Mock }

func (m *mockCache) Get(ctx context.Context, hash string) ([]byte, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockCache) Put(ctx context.Context, hash string, data []byte) error {
	return m.Called(ctx, hash, data).Error(0)
}

func (m *mockCache) Lookup(ctx context.Context, q domain.QueryContext) ([]byte, string, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

func (m *mockCache) Store(ctx context.Context, q domain.QueryContext, data []byte) (string, error) {
	args := m.Called(ctx, q, data)
	return args.String(0), args.Error(1)
}

func (m *mockCache) Invalidate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockPrices struct{ mock.Mock }

func (m *mockPrices) Run(ctx context.Context, job domain.PriceIndexJob) (domain.PriceIndexResult, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(domain.PriceIndexResult), args.Error(1)
}

func (m *mockPrices) Status(ctx context.Context) (domain.PriceIndexStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.PriceIndexStatus), args.Error(1)
}

type mockFlattener struct{ mock.Mock }

func (m *mockFlattener) Reindex(ctx context.Context, productID *int64) (int64, error) {
	args := m.Called(ctx, productID)
	return args.Get(0).(int64), args.Error(1)
}

// ============================================================================
// Helpers
// ============================================================================

type testServer struct {
	templates *mockTemplates
	entries   *mockEntries
	registry  *mockRegistry
	settings  *mockSettings
	cache     *mockCache
	prices    *mockPrices
	flattener *mockFlattener
	token     string
	handler   http.Handler
}

func newTestServer() *testServer {
	return newLimitedTestServer(middleware.RateLimitConfig{})
}

func newLimitedTestServer(limit middleware.RateLimitConfig) *testServer {
	token := service.NewTriggerToken("test-secret")
	ts := &testServer{
		templates: new(mockTemplates),
		entries:   new(mockEntries),
		registry:  new(mockRegistry),
		settings:  new(mockSettings),
		cache:     new(mockCache),
		prices:    new(mockPrices),
		flattener: new(mockFlattener),
		token:     token.String(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts.handler = NewRouter(Services{
		Templates:    ts.templates,
		Entries:      ts.entries,
		Registry:     ts.registry,
		Settings:     ts.settings,
		Cache:        ts.cache,
		Prices:       ts.prices,
		Flattener:    ts.flattener,
		Token:        token,
		TriggerLimit: limit,
	}, health.NewHandler(), logger)
	return ts
}

func (ts *testServer) do(method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NoError(t, json.Unmarshal(resp.Data, dst))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *httputil.ErrorResponse {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

// ============================================================================
// Trigger endpoints
// ============================================================================

func TestIndexPrices_BadTokenChangesNothing(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/api/v1/facets/index/prices?token=nope&full=1", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	ts.prices.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestIndexPrices_RateLimited(t *testing.T) {
	ts := newLimitedTestServer(middleware.RateLimitConfig{RPS: 0.001, Burst: 1})
	ts.flattener.On("Reindex", mock.Anything, (*int64)(nil)).Return(int64(3), nil).Once()

	first := ts.do(http.MethodGet, "/api/v1/facets/index/attributes?token="+ts.token, nil)
	second := ts.do(http.MethodGet, "/api/v1/facets/index/attributes?token="+ts.token, nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, second).Code)
	ts.flattener.AssertNumberOfCalls(t, "Reindex", 1)

	// admin routes are not throttled
	ts.settings.On("Get", mock.Anything).Return(domain.Settings{}, nil)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/facets/settings", nil).Code)
}

func TestIndexPrices_AjaxChunk(t *testing.T) {
	ts := newTestServer()
	job := domain.PriceIndexJob{Mode: domain.IndexModeFull, Cursor: 40, Smart: true, Interactive: true}
	ts.prices.On("Run", mock.Anything, job).Return(domain.PriceIndexResult{Cursor: 80, Count: 120}, nil).Once()

	rec := ts.do(http.MethodGet, "/api/v1/facets/index/prices?token="+ts.token+"&cursor=40&full=1&smart=true&ajax=1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]int64
	decodeData(t, rec, &got)
	assert.Equal(t, map[string]int64{"cursor": 80, "count": 120}, got)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestIndexPrices_AjaxDone(t *testing.T) {
	ts := newTestServer()
	ts.prices.On("Run", mock.Anything, mock.Anything).
		Return(domain.PriceIndexResult{Cursor: domain.TerminalCursor, Done: true}, nil).Once()

	rec := ts.do(http.MethodPost, "/api/v1/facets/index/prices?token="+ts.token+"&ajax=1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]string
	decodeData(t, rec, &got)
	assert.Equal(t, "ok", got["result"])
}

func TestIndexPrices_ContinuationDefaultsToIncremental(t *testing.T) {
	ts := newTestServer()
	job := domain.PriceIndexJob{Mode: domain.IndexModeIncremental}
	ts.prices.On("Run", mock.Anything, job).Return(domain.PriceIndexResult{Cursor: 100, Continued: true}, nil).Once()

	rec := ts.do(http.MethodGet, "/api/v1/facets/index/prices?token="+ts.token, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]int64
	decodeData(t, rec, &got)
	assert.Equal(t, map[string]int64{"cursor": 100}, got)
	ts.prices.AssertExpectations(t)
}

func TestIndexPrices_InvalidCursor(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/api/v1/facets/index/prices?token="+ts.token+"&cursor=-3", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexAttributes(t *testing.T) {
	ts := newTestServer()
	ts.flattener.On("Reindex", mock.Anything, (*int64)(nil)).Return(int64(42), nil).Once()

	rec := ts.do(http.MethodGet, "/api/v1/facets/index/attributes?token="+ts.token, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Result string `json:"result"`
		Rows   int64  `json:"rows"`
	}
	decodeData(t, rec, &got)
	assert.Equal(t, "ok", got.Result)
	assert.Equal(t, int64(42), got.Rows)
}

// ============================================================================
// Admin API
// ============================================================================

func TestAdmin_RequiresBearerToken(t *testing.T) {
	ts := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/facets/settings", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/facets/settings", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTemplates_Create(t *testing.T) {
	ts := newTestServer()
	in := service.TemplateInput{
		Name:       "Shoes",
		Categories: []int64{5},
		Facets:     []service.FacetInput{{Kind: "price", WidgetType: "slider"}},
	}
	ts.templates.On("Create", mock.Anything, in).
		Return(&domain.FilterTemplate{ID: 9, Name: "Shoes", Shops: []int64{1}, Categories: []int64{5}}, nil).Once()

	rec := ts.do(http.MethodPost, "/api/v1/facets/templates", jsonBody(t, in))

	require.Equal(t, http.StatusCreated, rec.Code)
	var got domain.FilterTemplate
	decodeData(t, rec, &got)
	assert.Equal(t, int64(9), got.ID)
}

func TestTemplates_CreateValidation(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/api/v1/facets/templates", strings.NewReader(`{
		"name": "Bad",
		"categories": [5],
		"facets": [{"kind": "colour", "widget_type": "checkbox"}]
	}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
	ts.templates.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestTemplates_ServiceValidationError(t *testing.T) {
	ts := newTestServer()
	ts.templates.On("Create", mock.Anything, mock.Anything).
		Return(nil, apperrors.InvalidFields("invalid template", map[string]string{"categories": "required"})).Once()

	rec := ts.do(http.MethodPost, "/api/v1/facets/templates", strings.NewReader(`{"name": "Empty"}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Fields, "categories")
}

func TestTemplates_GetNotFound(t *testing.T) {
	ts := newTestServer()
	ts.templates.On("Get", mock.Anything, int64(3)).Return(nil, apperrors.NotFound("template", 3)).Once()

	rec := ts.do(http.MethodGet, "/api/v1/facets/templates/3", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTemplates_InvalidID(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/api/v1/facets/templates/abc", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTemplates_List(t *testing.T) {
	ts := newTestServer()
	ts.templates.On("List", mock.Anything, 10, 10).
		Return([]domain.FilterTemplate{{ID: 11}}, 11, nil).Once()

	rec := ts.do(http.MethodGet, "/api/v1/facets/templates?page=2&per_page=10", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var page httputil.PaginatedResponse[domain.FilterTemplate]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 11, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	assert.False(t, page.HasNext)
}

func TestTemplates_Delete(t *testing.T) {
	ts := newTestServer()
	ts.templates.On("Delete", mock.Anything, int64(4)).Return(nil).Once()

	rec := ts.do(http.MethodDelete, "/api/v1/facets/templates/4", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestEntries(t *testing.T) {
	ts := newTestServer()
	ts.entries.On("Entries", mock.Anything, int64(1), int64(5)).
		Return([]domain.LayeredCategoryEntry(nil), nil).Once()

	rec := ts.do(http.MethodGet, "/api/v1/facets/shops/1/categories/5/entries", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestRegistry_Set(t *testing.T) {
	ts := newTestServer()
	indexable := false
	ts.registry.On("SetIndexable", mock.Anything, service.SetIndexableInput{
		Kind:      domain.EntityAttributeGroup,
		EntityID:  6,
		Indexable: &indexable,
		Names:     map[int64]string{1: "Size"},
	}).Return(domain.DefaultIndexableFlag(domain.EntityAttributeGroup, 6), nil).Once()

	rec := ts.do(http.MethodPut, "/api/v1/facets/registry/attribute_group/6",
		strings.NewReader(`{"indexable": false, "names": {"1": "Size"}}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	ts.registry.AssertExpectations(t)
}

func TestRegistry_UnknownKind(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/api/v1/facets/registry/colour/6", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettings_Update(t *testing.T) {
	ts := newTestServer()
	in := service.SettingsInput{ShowQuantities: true, CategoryDepth: 2}
	ts.settings.On("Update", mock.Anything, in).Return(domain.Settings{ShowQuantities: true, CategoryDepth: 2}, nil).Once()

	rec := ts.do(http.MethodPut, "/api/v1/facets/settings", jsonBody(t, in))

	assert.Equal(t, http.StatusOK, rec.Code)
	ts.settings.AssertExpectations(t)
}

func TestSettings_UpdateOutOfRange(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPut, "/api/v1/facets/settings", strings.NewReader(`{"category_depth": 99}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlocks_PutAndGet(t *testing.T) {
	ts := newTestServer()
	hash := "0123456789abcdef"
	ts.cache.On("Put", mock.Anything, hash, []byte("<ul></ul>")).Return(nil).Once()
	ts.cache.On("Get", mock.Anything, hash).Return([]byte("<ul></ul>"), nil).Once()

	rec := ts.do(http.MethodPut, "/api/v1/facets/blocks/"+hash, strings.NewReader("<ul></ul>"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/facets/blocks/"+hash, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<ul></ul>", rec.Body.String())
}

func TestBlocks_Miss(t *testing.T) {
	ts := newTestServer()
	ts.cache.On("Get", mock.Anything, "0123456789abcdef").Return(nil, apperrors.NotFound("block", "0123456789abcdef")).Once()

	rec := ts.do(http.MethodGet, "/api/v1/facets/blocks/0123456789abcdef", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type keyBody struct {
	Key    string `json:"key"`
	Cached bool   `json:"cached"`
	Block  []byte `json:"block"`
}

func TestBlocks_KeyMiss(t *testing.T) {
	ts := newTestServer()
	q := domain.QueryContext{ShopID: 1, CategoryID: 5, Filters: map[string][]string{"brand": {"2", "1"}}}
	want, err := service.CacheKey(q)
	require.NoError(t, err)
	ts.cache.On("Lookup", mock.Anything, q).Return(nil, want, apperrors.NotFound("block", want)).Once()

	rec := ts.do(http.MethodPost, "/api/v1/facets/blocks/key", jsonBody(t, q))

	require.Equal(t, http.StatusOK, rec.Code)
	var got keyBody
	decodeData(t, rec, &got)
	assert.Equal(t, want, got.Key)
	assert.False(t, got.Cached)
	assert.Empty(t, got.Block)
}

func TestBlocks_KeyHit(t *testing.T) {
	ts := newTestServer()
	q := domain.QueryContext{ShopID: 1, CategoryID: 5}
	ts.cache.On("Lookup", mock.Anything, q).Return([]byte("<ul/>"), "0123456789abcdef", nil).Once()

	rec := ts.do(http.MethodPost, "/api/v1/facets/blocks/key", jsonBody(t, q))

	require.Equal(t, http.StatusOK, rec.Code)
	var got keyBody
	decodeData(t, rec, &got)
	assert.Equal(t, "0123456789abcdef", got.Key)
	assert.True(t, got.Cached)
	assert.Equal(t, []byte("<ul/>"), got.Block)
}

func TestBlocks_Store(t *testing.T) {
	ts := newTestServer()
	q := domain.QueryContext{ShopID: 2, CategoryID: 9, LangID: 1}
	ts.cache.On("Store", mock.Anything, q, []byte("<ul/>")).Return("fedcba9876543210", nil).Once()

	rec := ts.do(http.MethodPost, "/api/v1/facets/blocks", jsonBody(t, map[string]any{
		"query": q,
		"block": []byte("<ul/>"),
	}))

	require.Equal(t, http.StatusCreated, rec.Code)
	var got keyBody
	decodeData(t, rec, &got)
	assert.Equal(t, "fedcba9876543210", got.Key)
	ts.cache.AssertExpectations(t)
}

func TestBlocks_StoreWithoutBlock(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/api/v1/facets/blocks", jsonBody(t, map[string]any{
		"query": domain.QueryContext{ShopID: 2},
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ts.cache.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything)
}

func TestCache_Invalidate(t *testing.T) {
	ts := newTestServer()
	ts.cache.On("Invalidate", mock.Anything).Return(nil).Once()

	rec := ts.do(http.MethodPost, "/api/v1/facets/cache/invalidate", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	ts.cache.AssertExpectations(t)
}

func TestIndexStatus(t *testing.T) {
	ts := newTestServer()
	ts.prices.On("Status", mock.Anything).
		Return(domain.PriceIndexStatus{Indexed: true, IndexedProducts: 3, EligibleProducts: 4}, nil).Once()

	rec := ts.do(http.MethodGet, "/api/v1/facets/index/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.PriceIndexStatus
	decodeData(t, rec, &got)
	assert.Equal(t, 4, got.EligibleProducts)
}

func TestHealthLive(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/health/live", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
