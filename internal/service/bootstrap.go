package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/repository"
)

// PriceIndexRunner starts price index jobs.
type PriceIndexRunner interface {
	Run(ctx context.Context, job domain.PriceIndexJob) (domain.PriceIndexResult, error)
}

// BootstrapConfig holds the catalog size thresholds of a bootstrap.
type BootstrapConfig struct {
	// TemplateThreshold is the catalog size below which an auto template
	// for every category is generated.
	TemplateThreshold int
	// IndexThreshold is the catalog size below which the price index and
	// the flat attribute table are built as well.
	IndexThreshold int
}

// BootstrapResult reports what a bootstrap did.
type BootstrapResult struct {
	Products   int                      `json:"products"`
	TemplateID *int64                   `json:"template_id,omitempty"`
	PriceIndex *domain.PriceIndexResult `json:"price_index,omitempty"`
	Flattened  *int64                   `json:"flattened,omitempty"`
}

// Bootstrapper prepares the facet data of a freshly installed catalog.
type Bootstrapper struct {
	catalog   repository.CatalogReader
	templates TemplateMaintainer
	prices    PriceIndexRunner
	flattener ProductFlattener
	cfg       BootstrapConfig
	logger    *slog.Logger
}

// NewBootstrapper creates a new bootstrapper.
func NewBootstrapper(
	catalog repository.CatalogReader,
	templates TemplateMaintainer,
	prices PriceIndexRunner,
	flattener ProductFlattener,
	cfg BootstrapConfig,
	logger *slog.Logger,
) *Bootstrapper {
	return &Bootstrapper{
		catalog:   catalog,
		templates: templates,
		prices:    prices,
		flattener: flattener,
		cfg:       cfg,
		logger:    logger,
	}
}

// Bootstrap generates a template for all categories on small catalogs and
// also indexes prices and attributes on very small ones.
func (b *Bootstrapper) Bootstrap(ctx context.Context) (*BootstrapResult, error) {
	n, err := b.catalog.CountProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	res := &BootstrapResult{Products: n}

	if n >= b.cfg.TemplateThreshold {
		b.logger.InfoContext(ctx, "catalog too large for bootstrap", slog.Int("products", n))
		return res, nil
	}

	tpl, err := b.templates.GenerateForCategories(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	if tpl != nil {
		res.TemplateID = &tpl.ID
	}

	if n < b.cfg.IndexThreshold {
		run, err := b.prices.Run(ctx, domain.PriceIndexJob{Mode: domain.IndexModeFull})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		res.PriceIndex = &run

		rows, err := b.flattener.Reindex(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		res.Flattened = &rows
	}

	b.logger.InfoContext(ctx, "bootstrap complete",
		slog.Int("products", n),
		slog.Bool("template", res.TemplateID != nil),
		slog.Bool("indexed", res.PriceIndex != nil),
	)
	return res, nil
}
