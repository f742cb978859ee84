package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/facetindex/internal/domain"
)

// TemplateMaintainer is the part of the template service the catalog hooks use.
type TemplateMaintainer interface {
	GenerateForCategories(ctx context.Context, categoryIDs []int64) (*domain.FilterTemplate, error)
	RemoveCategory(ctx context.Context, categoryID int64) (int, error)
}

// IndexableRegistry is the part of the registry service the catalog hooks use.
type IndexableRegistry interface {
	SetIndexable(ctx context.Context, in SetIndexableInput) (*domain.IndexableFlag, error)
	OnDelete(ctx context.Context, kind domain.EntityKind, entityID int64) error
}

// ProductPriceIndexer recomputes the price ranges of one product.
type ProductPriceIndexer interface {
	ReindexProduct(ctx context.Context, productID int64) error
}

// ProductFlattener maintains the flat product attribute table.
type ProductFlattener interface {
	Reindex(ctx context.Context, productID *int64) (int64, error)
	DeleteProduct(ctx context.Context, productID int64) error
}

// PriceRowDeleter removes the price index rows of one product.
type PriceRowDeleter interface {
	DeleteProduct(ctx context.Context, productID int64) error
}

// CatalogHooks keeps the facet data in step with catalog changes. Every
// handler is safe to replay.
type CatalogHooks struct {
	templates TemplateMaintainer
	registry  IndexableRegistry
	prices    ProductPriceIndexer
	priceRows PriceRowDeleter
	flattener ProductFlattener
	cache     Invalidator
	logger    *slog.Logger
}

// NewCatalogHooks creates the catalog hook handlers.
func NewCatalogHooks(
	templates TemplateMaintainer,
	registry IndexableRegistry,
	prices ProductPriceIndexer,
	priceRows PriceRowDeleter,
	flattener ProductFlattener,
	cache Invalidator,
	logger *slog.Logger,
) *CatalogHooks {
	return &CatalogHooks{
		templates: templates,
		registry:  registry,
		prices:    prices,
		priceRows: priceRows,
		flattener: flattener,
		cache:     cache,
		logger:    logger,
	}
}

// CategoryCreated generates an auto template for the new category.
func (h *CatalogHooks) CategoryCreated(ctx context.Context, categoryID int64) error {
	tpl, err := h.templates.GenerateForCategories(ctx, []int64{categoryID})
	if err != nil {
		return fmt.Errorf("category %d created: %w", categoryID, err)
	}
	if tpl == nil {
		h.logger.DebugContext(ctx, "no products in new category, no template generated",
			slog.Int64("category_id", categoryID),
		)
	}
	return h.cache.Invalidate(ctx)
}

// CategoryUpdated drops a deactivated category from every template.
func (h *CatalogHooks) CategoryUpdated(ctx context.Context, categoryID int64, active bool) error {
	if active {
		return nil
	}
	return h.removeCategory(ctx, categoryID)
}

// CategoryDeleted drops the category from every template.
func (h *CatalogHooks) CategoryDeleted(ctx context.Context, categoryID int64) error {
	return h.removeCategory(ctx, categoryID)
}

func (h *CatalogHooks) removeCategory(ctx context.Context, categoryID int64) error {
	n, err := h.templates.RemoveCategory(ctx, categoryID)
	if err != nil {
		return fmt.Errorf("remove category %d: %w", categoryID, err)
	}
	h.logger.InfoContext(ctx, "category removed from templates",
		slog.Int64("category_id", categoryID),
		slog.Int("templates", n),
	)
	return nil
}

// EntitySaved stores the facet metadata of a saved attribute group,
// attribute, feature or feature value.
func (h *CatalogHooks) EntitySaved(ctx context.Context, in SetIndexableInput) error {
	if _, err := h.registry.SetIndexable(ctx, in); err != nil {
		return fmt.Errorf("%s %d saved: %w", in.Kind, in.EntityID, err)
	}
	return nil
}

// EntityDeleted removes the facet metadata of a deleted entity.
func (h *CatalogHooks) EntityDeleted(ctx context.Context, kind domain.EntityKind, entityID int64) error {
	if err := h.registry.OnDelete(ctx, kind, entityID); err != nil {
		return fmt.Errorf("%s %d deleted: %w", kind, entityID, err)
	}
	return nil
}

// ProductSaved refreshes the price ranges and flat attribute rows of a product.
func (h *CatalogHooks) ProductSaved(ctx context.Context, productID int64) error {
	if err := h.prices.ReindexProduct(ctx, productID); err != nil {
		return fmt.Errorf("product %d saved: %w", productID, err)
	}
	if _, err := h.flattener.Reindex(ctx, &productID); err != nil {
		return fmt.Errorf("product %d saved: %w", productID, err)
	}
	return h.cache.Invalidate(ctx)
}

// ProductDeleted removes every derived row of a product.
func (h *CatalogHooks) ProductDeleted(ctx context.Context, productID int64) error {
	if err := h.priceRows.DeleteProduct(ctx, productID); err != nil {
		return fmt.Errorf("product %d deleted: %w", productID, err)
	}
	if err := h.flattener.DeleteProduct(ctx, productID); err != nil {
		return fmt.Errorf("product %d deleted: %w", productID, err)
	}
	return h.cache.Invalidate(ctx)
}
