package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/facetindex/internal/repository"
)

// FlatteningService maintains the product to attribute lookup table.
type FlatteningService struct {
	repo   repository.ProductAttributeRepository
	logger *slog.Logger
}

// NewFlatteningService creates a new flattening service.
func NewFlatteningService(repo repository.ProductAttributeRepository, logger *slog.Logger) *FlatteningService {
	return &FlatteningService{repo: repo, logger: logger}
}

// Reindex rebuilds the rows of one product, or the whole table when
// productID is nil.
func (s *FlatteningService) Reindex(ctx context.Context, productID *int64) (int64, error) {
	n, err := s.repo.Rebuild(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("reindex product attributes: %w", err)
	}

	attrs := []any{slog.Int64("rows", n)}
	if productID != nil {
		attrs = append(attrs, slog.Int64("product_id", *productID))
	}
	s.logger.InfoContext(ctx, "product attributes indexed", attrs...)
	return n, nil
}

// DeleteProduct removes the rows of a deleted product.
func (s *FlatteningService) DeleteProduct(ctx context.Context, productID int64) error {
	if err := s.repo.DeleteProduct(ctx, productID); err != nil {
		return fmt.Errorf("delete product attributes: %w", err)
	}
	return nil
}
