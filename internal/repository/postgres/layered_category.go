package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/pkg/database"
)

// layeredBatchSize is the number of rows written per COPY.
const layeredBatchSize = 100

var layeredCategoryColumns = []string{
	"shop_id", "category_id", "facet_kind", "facet_value_id",
	"position", "widget_type", "result_count_cap",
}

// LayeredCategoryRepository implements repository.LayeredCategoryRepository using PostgreSQL.
type LayeredCategoryRepository struct {
	pool database.DBTX
}

// NewLayeredCategoryRepository creates a new PostgreSQL-backed layered category repository.
func NewLayeredCategoryRepository(pool database.DBTX) *LayeredCategoryRepository {
	return &LayeredCategoryRepository{pool: pool}
}

// ReplaceAll clears the table and copies entries in batches, all in one
// transaction so readers see the previous rows until commit.
func (r *LayeredCategoryRepository) ReplaceAll(ctx context.Context, entries []domain.LayeredCategoryEntry) error {
	err := database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM layered_category`); err != nil {
			return fmt.Errorf("clear layered categories: %w", err)
		}

		for start := 0; start < len(entries); start += layeredBatchSize {
			batch := entries[start:min(start+layeredBatchSize, len(entries))]
			src := pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
				e := batch[i]
				return []any{
					e.ShopID, e.CategoryID, string(e.Kind), e.ValueID,
					e.Position, string(e.WidgetType), int64(e.ResultCountCap),
				}, nil
			})
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"layered_category"}, layeredCategoryColumns, src); err != nil {
				return fmt.Errorf("copy layered categories at %d: %w", start, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace layered categories: %w", err)
	}
	return nil
}

// ListFor returns the entries of one (shop, category) pair in position order.
func (r *LayeredCategoryRepository) ListFor(ctx context.Context, shopID, categoryID int64) ([]domain.LayeredCategoryEntry, error) {
	query := `
		SELECT shop_id, category_id, facet_kind, facet_value_id, position, widget_type, result_count_cap
		FROM layered_category
		WHERE shop_id = $1 AND category_id = $2
		ORDER BY position`

	rows, err := r.pool.Query(ctx, query, shopID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list layered categories: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LayeredCategoryEntry, 0)
	for rows.Next() {
		var (
			e      domain.LayeredCategoryEntry
			kind   string
			widget string
			limit  int64
		)
		if err := rows.Scan(&e.ShopID, &e.CategoryID, &kind, &e.ValueID, &e.Position, &widget, &limit); err != nil {
			return nil, fmt.Errorf("scan layered category: %w", err)
		}
		e.Kind = domain.FacetKind(kind)
		e.WidgetType = domain.WidgetType(widget)
		e.ResultCountCap = uint32(limit)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate layered categories: %w", err)
	}
	return entries, nil
}
