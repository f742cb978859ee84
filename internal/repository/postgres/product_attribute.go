package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/facetindex/pkg/database"
)

const flattenSelect = `
	INSERT INTO layered_product_attribute (attribute_id, product_id, attribute_group_id, shop_id)
	SELECT DISTINCT pac.attribute_id, pa.product_id, ag.id, pas.shop_id
	FROM catalog_product_attribute_combination pac
	JOIN catalog_product_attribute pa ON pa.id = pac.product_attribute_id
	JOIN catalog_product_attribute_shop pas ON pas.product_attribute_id = pa.id
	JOIN catalog_attribute a ON a.id = pac.attribute_id
	JOIN catalog_attribute_group ag ON ag.id = a.attribute_group_id`

// ProductAttributeRepository implements repository.ProductAttributeRepository using PostgreSQL.
type ProductAttributeRepository struct {
	pool database.DBTX
}

// NewProductAttributeRepository creates a new PostgreSQL-backed flattening repository.
func NewProductAttributeRepository(pool database.DBTX) *ProductAttributeRepository {
	return &ProductAttributeRepository{pool: pool}
}

// Rebuild recomputes the flattened rows of one product, or of every product
// when productID is nil.
func (r *ProductAttributeRepository) Rebuild(ctx context.Context, productID *int64) (int64, error) {
	var written int64
	err := database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if productID == nil {
			if _, err := tx.Exec(ctx, `TRUNCATE TABLE layered_product_attribute`); err != nil {
				return fmt.Errorf("truncate product attributes: %w", err)
			}
			tag, err := tx.Exec(ctx, flattenSelect+` ON CONFLICT DO NOTHING`)
			if err != nil {
				return fmt.Errorf("insert product attributes: %w", err)
			}
			written = tag.RowsAffected()
			return nil
		}

		if _, err := tx.Exec(ctx, `DELETE FROM layered_product_attribute WHERE product_id = $1`, *productID); err != nil {
			return fmt.Errorf("clear product attributes: %w", err)
		}
		tag, err := tx.Exec(ctx, flattenSelect+` WHERE pa.product_id = $1 ON CONFLICT DO NOTHING`, *productID)
		if err != nil {
			return fmt.Errorf("insert product attributes: %w", err)
		}
		written = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rebuild product attributes: %w", err)
	}
	return written, nil
}

// DeleteProduct removes the flattened rows of a product.
func (r *ProductAttributeRepository) DeleteProduct(ctx context.Context, productID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM layered_product_attribute WHERE product_id = $1`, productID); err != nil {
		return fmt.Errorf("delete product attributes: %w", err)
	}
	return nil
}
