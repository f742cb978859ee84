package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/utafrali/facetindex/pkg/errors"
)

// DefaultResultCacheKey is the hash holding every rendered block.
const DefaultResultCacheKey = "facetindex:blocks"

// ResultCache stores rendered facet blocks as fields of one Redis hash so
// the whole cache is dropped with a single DEL.
type ResultCache struct {
	client redis.Cmdable
	key    string
}

// NewResultCache creates a new Redis-backed result cache.
func NewResultCache(client redis.Cmdable, key string) *ResultCache {
	if key == "" {
		key = DefaultResultCacheKey
	}
	return &ResultCache{client: client, key: key}
}

// Get returns the block stored under hash.
func (c *ResultCache) Get(ctx context.Context, hash string) ([]byte, error) {
	data, err := c.client.HGet(ctx, c.key, hash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("redis hget block: %w", err)
	}
	return data, nil
}

// Put stores data under hash.
func (c *ResultCache) Put(ctx context.Context, hash string, data []byte) error {
	if err := c.client.HSet(ctx, c.key, hash, data).Err(); err != nil {
		return fmt.Errorf("redis hset block: %w", err)
	}
	return nil
}

// Clear removes every block.
func (c *ResultCache) Clear(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("redis del blocks: %w", err)
	}
	return nil
}
