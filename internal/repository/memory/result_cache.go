// Package memory holds in-process repository implementations.
package memory

import (
	"context"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	apperrors "github.com/utafrali/facetindex/pkg/errors"
)

// ResultCache keeps rendered facet blocks in a bounded in-process LRU.
// It suits single-replica deployments and tests.
type ResultCache struct {
	blocks *lru.Cache[string, []byte]
}

// NewResultCache creates an LRU result cache holding at most size blocks.
func NewResultCache(size int) (*ResultCache, error) {
	blocks, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &ResultCache{blocks: blocks}, nil
}

// Get returns a copy of the block stored under hash.
func (c *ResultCache) Get(_ context.Context, hash string) ([]byte, error) {
	data, ok := c.blocks.Get(hash)
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return slices.Clone(data), nil
}

// Put stores a copy of data under hash, evicting the least recently used
// block when full.
func (c *ResultCache) Put(_ context.Context, hash string, data []byte) error {
	c.blocks.Add(hash, slices.Clone(data))
	return nil
}

// Clear removes every block.
func (c *ResultCache) Clear(_ context.Context) error {
	c.blocks.Purge()
	return nil
}

// Len returns the number of cached blocks.
func (c *ResultCache) Len() int {
	return c.blocks.Len()
}
