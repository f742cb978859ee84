package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/cespare/xxhash/v2"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/repository"
	apperrors "github.com/utafrali/facetindex/pkg/errors"
)

var cacheKeyPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

// Invalidator clears the result cache.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// CacheService fronts the result cache of rendered facet blocks.
type CacheService struct {
	store  repository.ResultCache
	logger *slog.Logger
}

// NewCacheService creates a new result cache service.
func NewCacheService(store repository.ResultCache, logger *slog.Logger) *CacheService {
	return &CacheService{store: store, logger: logger}
}

// CacheKey returns the content address of a query: the hex xxhash64 of its
// canonical JSON form.
func CacheKey(q domain.QueryContext) (string, error) {
	body, err := json.Marshal(q.Canonical())
	if err != nil {
		return "", fmt.Errorf("encode query context: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(body)), nil
}

// ValidCacheKey reports whether s has the shape of a cache key.
func ValidCacheKey(s string) bool {
	return cacheKeyPattern.MatchString(s)
}

// Get returns the block stored under hash.
func (s *CacheService) Get(ctx context.Context, hash string) ([]byte, error) {
	if !ValidCacheKey(hash) {
		return nil, apperrors.InvalidInput("hash must be 16 lowercase hex characters")
	}
	data, err := s.store.Get(ctx, hash)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			resultCacheRequests.WithLabelValues("miss").Inc()
			return nil, apperrors.NotFound("block", hash)
		}
		resultCacheRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("get block: %w", err)
	}
	resultCacheRequests.WithLabelValues("hit").Inc()
	return data, nil
}

// Put stores a block under hash.
func (s *CacheService) Put(ctx context.Context, hash string, data []byte) error {
	if !ValidCacheKey(hash) {
		return apperrors.InvalidInput("hash must be 16 lowercase hex characters")
	}
	if err := s.store.Put(ctx, hash, data); err != nil {
		return fmt.Errorf("put block: %w", err)
	}
	return nil
}

// Lookup returns the block rendered for q, if cached, along with its key.
func (s *CacheService) Lookup(ctx context.Context, q domain.QueryContext) ([]byte, string, error) {
	key, err := CacheKey(q)
	if err != nil {
		return nil, "", err
	}
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, key, err
	}
	return data, key, nil
}

// Store saves the block rendered for q and returns its key.
func (s *CacheService) Store(ctx context.Context, q domain.QueryContext, data []byte) (string, error) {
	key, err := CacheKey(q)
	if err != nil {
		return "", err
	}
	return key, s.Put(ctx, key, data)
}

// Invalidate clears every cached block.
func (s *CacheService) Invalidate(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("invalidate result cache: %w", err)
	}
	resultCacheInvalidations.Inc()
	s.logger.InfoContext(ctx, "result cache invalidated")
	return nil
}
