package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/service"
	"github.com/utafrali/facetindex/pkg/health"
	"github.com/utafrali/facetindex/pkg/middleware"
)

// TemplateService manages filter templates.
type TemplateService interface {
	Create(ctx context.Context, in service.TemplateInput) (*domain.FilterTemplate, error)
	Update(ctx context.Context, id int64, in service.TemplateInput) (*domain.FilterTemplate, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*domain.FilterTemplate, error)
	List(ctx context.Context, offset, limit int) ([]domain.FilterTemplate, int, error)
}

// EntryReader reads resolved layered category entries.
type EntryReader interface {
	Resolve(ctx context.Context) error
	Entries(ctx context.Context, shopID, categoryID int64) ([]domain.LayeredCategoryEntry, error)
}

// RegistryService manages facet metadata of catalog entities.
type RegistryService interface {
	SetIndexable(ctx context.Context, in service.SetIndexableInput) (*domain.IndexableFlag, error)
	OnDelete(ctx context.Context, kind domain.EntityKind, entityID int64) error
	Get(ctx context.Context, kind domain.EntityKind, entityID int64) (*domain.IndexableFlag, error)
}

// SettingsService reads and updates module settings.
type SettingsService interface {
	Get(ctx context.Context) (domain.Settings, error)
	Update(ctx context.Context, in service.SettingsInput) (domain.Settings, error)
}

// BlockCache is the result cache of rendered facet blocks.
type BlockCache interface {
	Get(ctx context.Context, hash string) ([]byte, error)
	Put(ctx context.Context, hash string, data []byte) error
	Lookup(ctx context.Context, q domain.QueryContext) ([]byte, string, error)
	Store(ctx context.Context, q domain.QueryContext, data []byte) (string, error)
	Invalidate(ctx context.Context) error
}

// PriceIndexer runs price index jobs.
type PriceIndexer interface {
	Run(ctx context.Context, job domain.PriceIndexJob) (domain.PriceIndexResult, error)
	Status(ctx context.Context) (domain.PriceIndexStatus, error)
}

// AttributeFlattener rebuilds the flat product attribute table.
type AttributeFlattener interface {
	Reindex(ctx context.Context, productID *int64) (int64, error)
}

// TokenVerifier checks the shared trigger token.
type TokenVerifier interface {
	Verify(candidate string) bool
}

// Services groups the dependencies of the HTTP API.
type Services struct {
	Templates TemplateService
	Entries   EntryReader
	Registry  RegistryService
	Settings  SettingsService
	Cache     BlockCache
	Prices    PriceIndexer
	Flattener AttributeFlattener
	Token     TokenVerifier

	// TriggerLimit throttles the trigger endpoints per client.
	TriggerLimit middleware.RateLimitConfig
}

// NewRouter creates a chi router with all facet index routes registered.
func NewRouter(svc Services, healthHandler *health.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing("facetindex"))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("facetindex"))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	indexHandler := NewIndexHandler(svc.Prices, svc.Flattener, svc.Token, logger)
	templateHandler := NewTemplateHandler(svc.Templates, svc.Entries, logger)
	registryHandler := NewRegistryHandler(svc.Registry, logger)
	settingsHandler := NewSettingsHandler(svc.Settings, logger)
	cacheHandler := NewCacheHandler(svc.Cache, logger)

	r.Route("/api/v1/facets", func(r chi.Router) {
		// Trigger endpoints authenticate with the token query parameter.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(svc.TriggerLimit, logger))
			r.Use(middleware.CacheControl("no-store"))
			r.Get("/index/prices", indexHandler.IndexPrices)
			r.Post("/index/prices", indexHandler.IndexPrices)
			r.Get("/index/attributes", indexHandler.IndexAttributes)
			r.Post("/index/attributes", indexHandler.IndexAttributes)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(svc.Token.Verify))
			r.Use(middleware.CacheControl("no-store"))

			r.Get("/index/status", indexHandler.Status)

			r.Get("/templates", templateHandler.List)
			r.Post("/templates", templateHandler.Create)
			r.Get("/templates/{id}", templateHandler.Get)
			r.Put("/templates/{id}", templateHandler.Update)
			r.Delete("/templates/{id}", templateHandler.Delete)
			r.Post("/resolve", templateHandler.Resolve)
			r.Get("/shops/{shopId}/categories/{categoryId}/entries", templateHandler.Entries)

			r.Get("/registry/{kind}/{id}", registryHandler.Get)
			r.Put("/registry/{kind}/{id}", registryHandler.Set)
			r.Delete("/registry/{kind}/{id}", registryHandler.Delete)

			r.Get("/settings", settingsHandler.Get)
			r.Put("/settings", settingsHandler.Update)

			r.Post("/blocks", cacheHandler.StoreBlock)
			r.Post("/blocks/key", cacheHandler.Key)
			r.Get("/blocks/{hash}", cacheHandler.GetBlock)
			r.Put("/blocks/{hash}", cacheHandler.PutBlock)
			r.Post("/cache/invalidate", cacheHandler.Invalidate)
		})
	})

	return r
}
