package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/repository"
	apperrors "github.com/utafrali/facetindex/pkg/errors"
)

// LayeredResolver rebuilds the layered category table.
type LayeredResolver interface {
	Resolve(ctx context.Context) error
}

// FacetInput is one facet declaration as submitted by an administrator.
type FacetInput struct {
	Kind           string `json:"kind" validate:"required,oneof=subcategories stock condition brand weight price attribute_group feature"`
	ValueID        *int64 `json:"value_id,omitempty" validate:"omitempty,gt=0"`
	WidgetType     string `json:"widget_type" validate:"required,oneof=checkbox radio slider dropdown"`
	ResultCountCap uint32 `json:"result_count_cap"`
}

// TemplateInput is a filter template as submitted by an administrator.
type TemplateInput struct {
	Name          string       `json:"name" validate:"required,max=64"`
	Priority      int          `json:"priority"`
	Shops         []int64      `json:"shops" validate:"omitempty,dive,gt=0"`
	Categories    []int64      `json:"categories" validate:"omitempty,dive,gt=0"`
	AllCategories bool         `json:"all_categories"`
	Facets        []FacetInput `json:"facets" validate:"dive"`
}

// TemplateService manages filter templates and keeps the layered category
// table and the result cache in step with them.
type TemplateService struct {
	repo          repository.TemplateRepository
	catalog       repository.CatalogReader
	resolver      LayeredResolver
	cache         Invalidator
	logger        *slog.Logger
	defaultShopID int64
	now           func() time.Time
}

// NewTemplateService creates a new template service.
func NewTemplateService(
	repo repository.TemplateRepository,
	catalog repository.CatalogReader,
	resolver LayeredResolver,
	cache Invalidator,
	logger *slog.Logger,
	defaultShopID int64,
) *TemplateService {
	return &TemplateService{
		repo:          repo,
		catalog:       catalog,
		resolver:      resolver,
		cache:         cache,
		logger:        logger,
		defaultShopID: defaultShopID,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and stores a new template, then re-resolves.
func (s *TemplateService) Create(ctx context.Context, in TemplateInput) (*domain.FilterTemplate, error) {
	tpl, err := s.build(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, tpl, true); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "filter template created",
		slog.Int64("template_id", tpl.ID),
		slog.Int("categories", len(tpl.Categories)),
		slog.Int("facets", len(tpl.Facets)),
	)
	return tpl, nil
}

// Update replaces a template, then re-resolves.
func (s *TemplateService) Update(ctx context.Context, id int64, in TemplateInput) (*domain.FilterTemplate, error) {
	tpl, err := s.build(ctx, in)
	if err != nil {
		return nil, err
	}
	tpl.ID = id
	if err := s.save(ctx, tpl, false); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "filter template updated", slog.Int64("template_id", id))
	return tpl, nil
}

// Delete removes a template, then re-resolves.
func (s *TemplateService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if err := s.afterChange(ctx); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "filter template deleted", slog.Int64("template_id", id))
	return nil
}

// Get returns one template.
func (s *TemplateService) Get(ctx context.Context, id int64) (*domain.FilterTemplate, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	tpl, err := rec.Decode()
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return tpl, nil
}

// List returns one page of templates in processing order. Templates whose
// stored payload no longer decodes are left out.
func (s *TemplateService) List(ctx context.Context, offset, limit int) ([]domain.FilterTemplate, int, error) {
	records, total, err := s.repo.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}

	templates := make([]domain.FilterTemplate, 0, len(records))
	for i := range records {
		tpl, err := records[i].Decode()
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed filter template", slog.String("error", err.Error()))
			continue
		}
		templates = append(templates, *tpl)
	}
	return templates, total, nil
}

// RemoveCategory drops a category from every template that targets it,
// then invalidates the cache and re-resolves. It returns the number of
// templates changed.
func (s *TemplateService) RemoveCategory(ctx context.Context, categoryID int64) (int, error) {
	records, err := s.repo.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("remove category %d: %w", categoryID, err)
	}

	changed := 0
	for i := range records {
		tpl, err := records[i].Decode()
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed filter template", slog.String("error", err.Error()))
			continue
		}
		if !tpl.RemoveCategory(categoryID) {
			continue
		}
		payload, err := tpl.Payload()
		if err != nil {
			return changed, fmt.Errorf("encode template %d: %w", tpl.ID, err)
		}
		if err := s.repo.UpdatePayload(ctx, tpl.ID, payload); err != nil {
			return changed, fmt.Errorf("remove category %d from template %d: %w", categoryID, tpl.ID, err)
		}
		changed++
	}

	if err := s.cache.Invalidate(ctx); err != nil {
		return changed, err
	}
	if err := s.resolver.Resolve(ctx); err != nil {
		return changed, err
	}

	s.logger.InfoContext(ctx, "category removed from filter templates",
		slog.Int64("category_id", categoryID),
		slog.Int("templates", changed),
	)
	return changed, nil
}

// GenerateForCategories builds a template with the default facets for the
// given categories, or for every category when none are given. Categories
// without visible products are left out; nothing is stored when none
// remain.
func (s *TemplateService) GenerateForCategories(ctx context.Context, categoryIDs []int64) (*domain.FilterTemplate, error) {
	src, err := s.catalog.AutoTemplateSource(ctx, categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("generate template: %w", err)
	}
	if len(src.CategoryIDs) == 0 {
		s.logger.InfoContext(ctx, "no category with products, no template generated")
		return nil, nil
	}
	shops, err := s.catalog.ShopIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate template: %w", err)
	}
	if len(shops) == 0 {
		shops = []int64{s.defaultShopID}
	}

	tpl := &domain.FilterTemplate{
		Name:       domain.AutoTemplateName(s.now()),
		Shops:      shops,
		Categories: src.CategoryIDs,
		Facets:     domain.DefaultFacets(*src),
	}
	if err := s.save(ctx, tpl, true); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "filter template generated",
		slog.Int64("template_id", tpl.ID),
		slog.Int("categories", len(tpl.Categories)),
	)
	return tpl, nil
}

func (s *TemplateService) build(ctx context.Context, in TemplateInput) (*domain.FilterTemplate, error) {
	tpl := &domain.FilterTemplate{
		Name:       in.Name,
		Priority:   in.Priority,
		Shops:      unique(in.Shops),
		Categories: unique(in.Categories),
		Facets:     make([]domain.FacetDeclaration, 0, len(in.Facets)),
	}
	if len(tpl.Shops) == 0 {
		tpl.Shops = []int64{s.defaultShopID}
	}
	if in.AllCategories {
		ids, err := s.catalog.CategoryIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		tpl.Categories = ids
	}
	for _, f := range in.Facets {
		tpl.Facets = append(tpl.Facets, domain.FacetDeclaration{
			Kind:           domain.FacetKind(f.Kind),
			ValueID:        f.ValueID,
			WidgetType:     domain.WidgetType(f.WidgetType),
			ResultCountCap: f.ResultCountCap,
		})
	}

	if err := tpl.Validate(); err != nil {
		if errors.Is(err, domain.ErrNoCategories) {
			return nil, apperrors.InvalidFields("invalid template", map[string]string{"categories": err.Error()})
		}
		return nil, apperrors.InvalidInput(err.Error())
	}
	return tpl, nil
}

func (s *TemplateService) save(ctx context.Context, tpl *domain.FilterTemplate, create bool) error {
	rec, err := domain.NewTemplateRecord(tpl)
	if err != nil {
		return apperrors.Internal(err)
	}
	if create {
		err = s.repo.Create(ctx, rec)
	} else {
		err = s.repo.Update(ctx, rec)
	}
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	tpl.ID = rec.ID
	tpl.CreatedAt = rec.CreatedAt
	tpl.UpdatedAt = rec.UpdatedAt

	return s.afterChange(ctx)
}

// afterChange re-resolves the layered categories and drops stale blocks.
func (s *TemplateService) afterChange(ctx context.Context) error {
	if err := s.resolver.Resolve(ctx); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx)
}

// unique returns ids without duplicates, keeping first occurrences.
func unique(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
