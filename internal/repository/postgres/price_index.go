package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/pkg/database"
)

// PriceIndexRepository implements repository.PriceIndexRepository using PostgreSQL.
type PriceIndexRepository struct {
	pool database.DBTX
}

// NewPriceIndexRepository creates a new PostgreSQL-backed price index repository.
func NewPriceIndexRepository(pool database.DBTX) *PriceIndexRepository {
	return &PriceIndexRepository{pool: pool}
}

// Truncate removes every entry.
func (r *PriceIndexRepository) Truncate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `TRUNCATE TABLE layered_price_index`); err != nil {
		return fmt.Errorf("truncate price index: %w", err)
	}
	return nil
}

// SaveProduct writes every entry of one product with a single statement.
// Rows already present are left untouched unless replace is set, in which
// case every row of the product is cleared first.
func (r *PriceIndexRepository) SaveProduct(ctx context.Context, productID int64, entries []domain.PriceIndexEntry, replace bool) error {
	if !replace && len(entries) == 0 {
		return nil
	}

	err := database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if replace {
			if _, err := tx.Exec(ctx,
				`DELETE FROM layered_price_index WHERE product_id = $1`,
				productID,
			); err != nil {
				return fmt.Errorf("clear price index rows: %w", err)
			}
		}
		if len(entries) == 0 {
			return nil
		}

		currencies := make([]int64, len(entries))
		shops := make([]int64, len(entries))
		countries := make([]int64, len(entries))
		mins := make([]int64, len(entries))
		maxs := make([]int64, len(entries))
		for i, e := range entries {
			currencies[i] = e.CurrencyID
			shops[i] = e.ShopID
			countries[i] = e.CountryID
			mins[i] = e.PriceMin
			maxs[i] = e.PriceMax
		}

		query := `
			INSERT INTO layered_price_index (product_id, currency_id, shop_id, country_id, price_min, price_max)
			SELECT $1, e.currency_id, e.shop_id, e.country_id, e.price_min, e.price_max
			FROM unnest($2::bigint[], $3::bigint[], $4::bigint[], $5::bigint[], $6::bigint[])
				AS e(currency_id, shop_id, country_id, price_min, price_max)
			ON CONFLICT DO NOTHING`
		if _, err := tx.Exec(ctx, query, productID, currencies, shops, countries, mins, maxs); err != nil {
			return fmt.Errorf("insert price index rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save price index for product %d: %w", productID, err)
	}
	return nil
}

// DeleteProduct removes every entry of a product.
func (r *PriceIndexRepository) DeleteProduct(ctx context.Context, productID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM layered_price_index WHERE product_id = $1`, productID); err != nil {
		return fmt.Errorf("delete price index for product: %w", err)
	}
	return nil
}

// CountProducts returns the number of distinct indexed products.
func (r *PriceIndexRepository) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT product_id) FROM layered_price_index`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count indexed products: %w", err)
	}
	return n, nil
}
