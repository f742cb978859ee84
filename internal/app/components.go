package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/facetindex/internal/config"
	"github.com/utafrali/facetindex/internal/pricing"
	"github.com/utafrali/facetindex/internal/repository"
	"github.com/utafrali/facetindex/internal/repository/memory"
	"github.com/utafrali/facetindex/internal/repository/postgres"
	redisrepo "github.com/utafrali/facetindex/internal/repository/redis"
	"github.com/utafrali/facetindex/internal/service"
	"github.com/utafrali/facetindex/pkg/database"
	"github.com/utafrali/facetindex/pkg/httpclient"
)

// Components is the service graph shared by the server and the operator CLI.
type Components struct {
	Token      *service.TriggerToken
	Settings   *service.SettingsService
	Cache      *service.CacheService
	Resolver   *service.Resolver
	Templates  *service.TemplateService
	Registry   *service.RegistryService
	Flattener  *service.FlatteningService
	PriceIndex *service.PriceIndexEngine
	Hooks      *service.CatalogHooks
	Bootstrap  *service.Bootstrapper
}

// NewResultCacheStore returns the result cache backend selected by
// cfg.CacheBackend. rdb is only used by the redis backend.
func NewResultCacheStore(cfg *config.Config, db database.DBTX, rdb *goredis.Client) (repository.ResultCache, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis result cache: no redis client")
		}
		return redisrepo.NewResultCache(rdb, redisrepo.DefaultResultCacheKey), nil
	case config.CacheBackendMemory:
		store, err := memory.NewResultCache(cfg.CacheLRUSize)
		if err != nil {
			return nil, fmt.Errorf("memory result cache: %w", err)
		}
		return store, nil
	default:
		return postgres.NewResultCache(db), nil
	}
}

// NewRedis connects to Redis when a configured component needs it and
// returns nil otherwise.
func NewRedis(ctx context.Context, cfg *config.Config) (*goredis.Client, error) {
	if !cfg.UsesRedis() {
		return nil, nil
	}
	return database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// PostgresConfig maps the service configuration to pool settings.
func PostgresConfig(cfg *config.Config) *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:               cfg.PostgresHost,
		Port:               cfg.PostgresPort,
		User:               cfg.PostgresUser,
		Password:           cfg.PostgresPass,
		DBName:             cfg.PostgresDB,
		SSLMode:            cfg.PostgresSSL,
		MaxConns:           cfg.DBMaxConns,
		MinConns:           cfg.DBMinConns,
		MaxConnLifetime:    time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime:    time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
		SlowQueryThreshold: time.Duration(cfg.SlowQueryThresholdMs) * time.Millisecond,
	}
}

// NewComponents builds the service graph over db and the result cache
// store. scheduler may be nil, in which case price index runs continue
// in-process.
func NewComponents(
	cfg *config.Config,
	db database.DBTX,
	store repository.ResultCache,
	scheduler service.ContinuationScheduler,
	logger *slog.Logger,
) *Components {
	catalog := postgres.NewCatalogReader(db)
	templateRepo := postgres.NewTemplateRepository(db)
	priceRows := postgres.NewPriceIndexRepository(db)
	settingsRepo := postgres.NewSettingsRepository(db)

	pricingCfg := httpclient.DefaultConfig()
	pricingCfg.Timeout = time.Duration(cfg.PricingTimeoutMs) * time.Millisecond
	pricingCfg.MaxRetries = cfg.PricingMaxRetries
	calculator := pricing.NewClient(cfg.PricingServiceURL, pricingCfg, logger)

	cache := service.NewCacheService(store, logger)
	resolver := service.NewResolver(templateRepo, postgres.NewLayeredCategoryRepository(db), logger)
	templates := service.NewTemplateService(templateRepo, catalog, resolver, cache, logger, cfg.DefaultShopID)
	registry := service.NewRegistryService(postgres.NewIndexableRepository(db), cache, logger)
	flattener := service.NewFlatteningService(postgres.NewProductAttributeRepository(db), logger)
	engine := service.NewPriceIndexEngine(catalog, priceRows, settingsRepo, calculator, scheduler, service.PriceIndexConfig{
		PageSize:    cfg.PriceIndexPageSize,
		TimeBudget:  cfg.PriceIndexTimeBudget(),
		MemoryLimit: cfg.PriceIndexMemoryLimit(),
	}, logger)

	return &Components{
		Token:      service.NewTriggerToken(cfg.IndexSecret),
		Settings:   service.NewSettingsService(settingsRepo, cache, logger),
		Cache:      cache,
		Resolver:   resolver,
		Templates:  templates,
		Registry:   registry,
		Flattener:  flattener,
		PriceIndex: engine,
		Hooks:      service.NewCatalogHooks(templates, registry, engine, priceRows, flattener, cache, logger),
		Bootstrap: service.NewBootstrapper(catalog, templates, engine, flattener, service.BootstrapConfig{
			TemplateThreshold: cfg.AutoTemplateThreshold,
			IndexThreshold:    cfg.AutoIndexThreshold,
		}, logger),
	}
}
