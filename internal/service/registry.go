package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/repository"
	apperrors "github.com/utafrali/facetindex/pkg/errors"
	"github.com/utafrali/facetindex/pkg/slug"
)

// SetIndexableInput is the metadata of one attribute group, attribute,
// feature or feature value.
type SetIndexableInput struct {
	Kind      domain.EntityKind              `json:"kind" validate:"required,oneof=attribute_group attribute feature feature_value"`
	EntityID  int64                          `json:"entity_id" validate:"required,gt=0"`
	Indexable *bool                          `json:"indexable,omitempty"`
	Names     map[int64]string               `json:"names,omitempty"`
	Localized map[int64]domain.LocalizedMeta `json:"localized,omitempty"`
}

// RegistryService maintains facet eligibility and localized URL metadata.
type RegistryService struct {
	repo   repository.IndexableRepository
	cache  Invalidator
	logger *slog.Logger
}

// NewRegistryService creates a new registry service.
func NewRegistryService(repo repository.IndexableRepository, cache Invalidator, logger *slog.Logger) *RegistryService {
	return &RegistryService{repo: repo, cache: cache, logger: logger}
}

// SetIndexable validates and stores the metadata of one entity. Missing URL
// slugs are derived from the display name; explicit slugs must already be
// in slug form. Nothing is written when any language is invalid.
func (s *RegistryService) SetIndexable(ctx context.Context, in SetIndexableInput) (*domain.IndexableFlag, error) {
	if !in.Kind.IsValid() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown entity kind %q", in.Kind))
	}
	if in.EntityID <= 0 {
		return nil, apperrors.InvalidInput("entity_id must be positive")
	}

	flag := domain.DefaultIndexableFlag(in.Kind, in.EntityID)
	if in.Kind.HasFlag() && in.Indexable != nil {
		flag.Indexable = *in.Indexable
	}

	langs := make([]int64, 0, len(in.Names)+len(in.Localized))
	for lang := range in.Names {
		langs = append(langs, lang)
	}
	for lang := range in.Localized {
		if _, ok := in.Names[lang]; !ok {
			langs = append(langs, lang)
		}
	}
	slices.Sort(langs)

	invalid := make(map[string]string)
	for _, lang := range langs {
		meta := in.Localized[lang]
		switch {
		case meta.URLSlug == "":
			meta.URLSlug = slug.Generate(in.Names[lang])
		case !slug.IsValid(meta.URLSlug):
			invalid[fmt.Sprintf("localized.%d.url_slug", lang)] = fmt.Sprintf("%q is not a valid URL slug", meta.URLSlug)
			continue
		}
		if meta.URLSlug == "" && meta.MetaTitle == "" {
			continue
		}
		flag.Localized[lang] = meta
	}
	if len(invalid) > 0 {
		return nil, apperrors.InvalidFields("invalid URL slug", invalid)
	}

	if err := s.repo.Replace(ctx, flag); err != nil {
		return nil, fmt.Errorf("set indexable: %w", err)
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "facet metadata saved",
		slog.String("kind", string(flag.Kind)),
		slog.Int64("entity_id", flag.EntityID),
		slog.Bool("indexable", flag.Indexable),
	)
	return flag, nil
}

// OnDelete removes the metadata of a deleted entity.
func (s *RegistryService) OnDelete(ctx context.Context, kind domain.EntityKind, entityID int64) error {
	if !kind.IsValid() {
		return apperrors.InvalidInput(fmt.Sprintf("unknown entity kind %q", kind))
	}
	if err := s.repo.Delete(ctx, kind, entityID); err != nil {
		return fmt.Errorf("delete indexable: %w", err)
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "facet metadata deleted",
		slog.String("kind", string(kind)),
		slog.Int64("entity_id", entityID),
	)
	return nil
}

// Get returns the metadata of one entity.
func (s *RegistryService) Get(ctx context.Context, kind domain.EntityKind, entityID int64) (*domain.IndexableFlag, error) {
	if !kind.IsValid() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown entity kind %q", kind))
	}
	flag, err := s.repo.Get(ctx, kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("get indexable: %w", err)
	}
	return flag, nil
}
