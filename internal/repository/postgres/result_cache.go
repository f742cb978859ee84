package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/facetindex/pkg/database"
	apperrors "github.com/utafrali/facetindex/pkg/errors"
)

// ResultCache stores rendered facet blocks in layered_filter_block.
type ResultCache struct {
	pool database.DBTX
}

// NewResultCache creates a new PostgreSQL-backed result cache.
func NewResultCache(pool database.DBTX) *ResultCache {
	return &ResultCache{pool: pool}
}

// Get returns the block stored under hash.
func (c *ResultCache) Get(ctx context.Context, hash string) ([]byte, error) {
	var data []byte
	err := c.pool.QueryRow(ctx, `SELECT data FROM layered_filter_block WHERE hash = $1`, hash).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get filter block: %w", err)
	}
	return data, nil
}

// Put stores data under hash.
func (c *ResultCache) Put(ctx context.Context, hash string, data []byte) error {
	query := `
		INSERT INTO layered_filter_block (hash, data, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (hash) DO UPDATE SET data = EXCLUDED.data, created_at = NOW()`

	if _, err := c.pool.Exec(ctx, query, hash, data); err != nil {
		return fmt.Errorf("put filter block: %w", err)
	}
	return nil
}

// Clear removes every block.
func (c *ResultCache) Clear(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, `TRUNCATE TABLE layered_filter_block`); err != nil {
		return fmt.Errorf("truncate filter blocks: %w", err)
	}
	return nil
}
