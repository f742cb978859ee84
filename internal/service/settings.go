package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/repository"
)

// SettingsInput holds the admin-editable settings.
type SettingsInput struct {
	ShowQuantities bool `json:"show_quantities"`
	FullTree       bool `json:"full_tree"`
	PriceUseTax    bool `json:"price_use_tax"`
	CategoryDepth  int  `json:"category_depth" validate:"gte=0,lte=10"`
	PriceRounding  bool `json:"price_rounding"`
}

// SettingsService reads and updates module settings.
type SettingsService struct {
	repo   repository.SettingsRepository
	cache  Invalidator
	logger *slog.Logger
}

// NewSettingsService creates a new settings service.
func NewSettingsService(repo repository.SettingsRepository, cache Invalidator, logger *slog.Logger) *SettingsService {
	return &SettingsService{repo: repo, cache: cache, logger: logger}
}

// Get returns the current settings.
func (s *SettingsService) Get(ctx context.Context) (domain.Settings, error) {
	settings, err := s.repo.Get(ctx)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

// Update stores the editable settings and invalidates the result cache.
// The indexed flag is kept as is.
func (s *SettingsService) Update(ctx context.Context, in SettingsInput) (domain.Settings, error) {
	current, err := s.repo.Get(ctx)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("update settings: %w", err)
	}

	updated := domain.Settings{
		ShowQuantities: in.ShowQuantities,
		FullTree:       in.FullTree,
		PriceUseTax:    in.PriceUseTax,
		CategoryDepth:  in.CategoryDepth,
		PriceRounding:  in.PriceRounding,
		Indexed:        current.Indexed,
	}
	if err := s.repo.Save(ctx, updated); err != nil {
		return domain.Settings{}, fmt.Errorf("update settings: %w", err)
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		return domain.Settings{}, err
	}

	if current.PriceUseTax != updated.PriceUseTax {
		s.logger.WarnContext(ctx, "price_use_tax changed, a full price reindex is needed")
	}
	s.logger.InfoContext(ctx, "settings updated")
	return updated, nil
}
