package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/facetindex/internal/app"
	"github.com/utafrali/facetindex/internal/config"
	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/service"
	"github.com/utafrali/facetindex/pkg/database"
)

// Backend is what the operator commands drive.
type Backend interface {
	RunPriceIndex(ctx context.Context, job domain.PriceIndexJob) (domain.PriceIndexResult, error)
	ReindexProduct(ctx context.Context, productID int64) error
	Resolve(ctx context.Context) error
	Flatten(ctx context.Context, productID *int64) (int64, error)
	Invalidate(ctx context.Context) error
	Bootstrap(ctx context.Context) (*service.BootstrapResult, error)
}

// Connector opens a Backend. The returned func releases its resources.
type Connector func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, func(), error)

type componentsBackend struct {
	c *app.Components
}

func (b componentsBackend) RunPriceIndex(ctx context.Context, job domain.PriceIndexJob) (domain.PriceIndexResult, error) {
	return b.c.PriceIndex.Run(ctx, job)
}

func (b componentsBackend) ReindexProduct(ctx context.Context, productID int64) error {
	return b.c.PriceIndex.ReindexProduct(ctx, productID)
}

func (b componentsBackend) Resolve(ctx context.Context) error {
	return b.c.Resolver.Resolve(ctx)
}

func (b componentsBackend) Flatten(ctx context.Context, productID *int64) (int64, error) {
	return b.c.Flattener.Reindex(ctx, productID)
}

func (b componentsBackend) Invalidate(ctx context.Context) error {
	return b.c.Cache.Invalidate(ctx)
}

func (b componentsBackend) Bootstrap(ctx context.Context) (*service.BootstrapResult, error) {
	return b.c.Bootstrap.Bootstrap(ctx)
}

// Connect opens the database (and Redis when configured) and builds the
// service graph without a continuation queue: runs started from the CLI
// continue in-process.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, func(), error) {
	pool, err := database.NewPostgresPool(ctx, app.PostgresConfig(cfg), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	rdb, err := app.NewRedis(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	closeAll := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
		pool.Close()
	}

	store, err := app.NewResultCacheStore(cfg, pool, rdb)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return componentsBackend{c: app.NewComponents(cfg, pool, store, nil, logger)}, closeAll, nil
}
