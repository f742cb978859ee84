package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/repository"
)

// Resolver expands filter templates into per (shop, category) facet lists.
type Resolver struct {
	templates repository.TemplateRepository
	layered   repository.LayeredCategoryRepository
	logger    *slog.Logger
}

// NewResolver creates a new layered category resolver.
func NewResolver(templates repository.TemplateRepository, layered repository.LayeredCategoryRepository, logger *slog.Logger) *Resolver {
	return &Resolver{templates: templates, layered: layered, logger: logger}
}

// Resolve recomputes the whole layered category table from every template.
func (r *Resolver) Resolve(ctx context.Context) error {
	records, err := r.templates.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	entries, skipped := ResolveEntries(records)
	for _, err := range skipped {
		r.logger.WarnContext(ctx, "skipping malformed filter template", slog.String("error", err.Error()))
	}

	if err := r.layered.ReplaceAll(ctx, entries); err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	resolverEntries.Set(float64(len(entries)))

	r.logger.InfoContext(ctx, "layered categories resolved",
		slog.Int("templates", len(records)),
		slog.Int("skipped", len(skipped)),
		slog.Int("entries", len(entries)),
	)
	return nil
}

// Entries returns the resolved facets of one (shop, category) pair.
func (r *Resolver) Entries(ctx context.Context, shopID, categoryID int64) ([]domain.LayeredCategoryEntry, error) {
	entries, err := r.layered.ListFor(ctx, shopID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// ResolveEntries expands records, given in processing order, into layered
// category entries. The first record targeting a (shop, category) pair owns
// it. Records that fail to decode are skipped and reported.
func ResolveEntries(records []domain.TemplateRecord) ([]domain.LayeredCategoryEntry, []error) {
	var (
		entries []domain.LayeredCategoryEntry
		skipped []error
	)
	populated := make(map[domain.ShopCategory]struct{})

	for i := range records {
		tpl, err := records[i].Decode()
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		for _, shopID := range tpl.Shops {
			for _, categoryID := range tpl.Categories {
				pair := domain.ShopCategory{ShopID: shopID, CategoryID: categoryID}
				if _, taken := populated[pair]; taken {
					continue
				}
				populated[pair] = struct{}{}

				for pos, f := range tpl.Facets {
					entries = append(entries, domain.LayeredCategoryEntry{
						ShopID:         shopID,
						CategoryID:     categoryID,
						Kind:           f.Kind,
						ValueID:        f.ValueID,
						Position:       pos + 1,
						WidgetType:     f.WidgetType,
						ResultCountCap: f.ResultCountCap,
					})
				}
			}
		}
	}
	return entries, skipped
}
