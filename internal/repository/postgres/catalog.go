package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/pkg/database"
)

// visibleProductShop restricts catalog_product_shop rows (aliased ps) to
// products that are active and visible in the catalog.
const visibleProductShop = `ps.active AND ps.visibility IN ('both', 'catalog')`

// CatalogReader implements repository.CatalogReader over the catalog tables
// owned by the catalog service.
type CatalogReader struct {
	pool database.DBTX
}

// NewCatalogReader creates a new PostgreSQL-backed catalog reader.
func NewCatalogReader(pool database.DBTX) *CatalogReader {
	return &CatalogReader{pool: pool}
}

func eligibleFilter(mode domain.IndexMode) string {
	filter := visibleProductShop
	if mode == domain.IndexModeIncremental {
		filter += ` AND NOT EXISTS (SELECT 1 FROM layered_price_index pi WHERE pi.product_id = p.id)`
	}
	return filter
}

// ProductPage returns up to limit eligible product ids after cursor.
func (r *CatalogReader) ProductPage(ctx context.Context, mode domain.IndexMode, cursor int64, limit int) ([]int64, error) {
	query := `
		SELECT DISTINCT p.id
		FROM catalog_product p
		JOIN catalog_product_shop ps ON ps.product_id = p.id
		WHERE ` + eligibleFilter(mode) + ` AND p.id > $1
		ORDER BY p.id
		LIMIT $2`

	ids, err := r.ids(ctx, query, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s product page: %w", mode, err)
	}
	return ids, nil
}

// CountEligible returns the number of products a run in mode would visit.
func (r *CatalogReader) CountEligible(ctx context.Context, mode domain.IndexMode) (int, error) {
	query := `
		SELECT COUNT(DISTINCT p.id)
		FROM catalog_product p
		JOIN catalog_product_shop ps ON ps.product_id = p.id
		WHERE ` + eligibleFilter(mode)

	var n int
	if err := r.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s products: %w", mode, err)
	}
	return n, nil
}

// CountProducts returns the number of products in the catalog.
func (r *CatalogReader) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM catalog_product`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// ProductShops returns the active shops the product is visible in.
func (r *CatalogReader) ProductShops(ctx context.Context, productID int64) ([]int64, error) {
	query := `
		SELECT ps.shop_id
		FROM catalog_product_shop ps
		JOIN catalog_shop s ON s.id = ps.shop_id
		WHERE ps.product_id = $1 AND s.active AND ` + visibleProductShop + `
		ORDER BY ps.shop_id`

	ids, err := r.ids(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list product shops: %w", err)
	}
	return ids, nil
}

// ShopIDs returns every active shop.
func (r *CatalogReader) ShopIDs(ctx context.Context) ([]int64, error) {
	ids, err := r.ids(ctx, `SELECT id FROM catalog_shop WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}
	return ids, nil
}

// ShopCurrencies returns the currencies of each active shop.
func (r *CatalogReader) ShopCurrencies(ctx context.Context) (map[int64][]int64, error) {
	query := `
		SELECT cs.shop_id, cs.currency_id
		FROM catalog_currency_shop cs
		JOIN catalog_shop s ON s.id = cs.shop_id
		WHERE s.active
		ORDER BY cs.shop_id, cs.currency_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list shop currencies: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]int64)
	for rows.Next() {
		var shopID, currencyID int64
		if err := rows.Scan(&shopID, &currencyID); err != nil {
			return nil, fmt.Errorf("scan shop currency: %w", err)
		}
		out[shopID] = append(out[shopID], currencyID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shop currencies: %w", err)
	}
	return out, nil
}

// ActiveCountries returns every active country.
func (r *CatalogReader) ActiveCountries(ctx context.Context) ([]int64, error) {
	ids, err := r.ids(ctx, `SELECT id FROM catalog_country WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active countries: %w", err)
	}
	return ids, nil
}

// GroupsWithReduction returns the customer groups carrying a reduction.
func (r *CatalogReader) GroupsWithReduction(ctx context.Context) ([]int64, error) {
	ids, err := r.ids(ctx, `SELECT DISTINCT group_id FROM catalog_group_reduction ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("list group reductions: %w", err)
	}
	return ids, nil
}

// SpecificPrices returns the rules of a product scoped to all shops or to shopID.
func (r *CatalogReader) SpecificPrices(ctx context.Context, productID, shopID int64) ([]domain.SpecificPriceRule, error) {
	query := `
		SELECT id, shop_id, currency_id, country_id, group_id, from_quantity
		FROM catalog_specific_price
		WHERE product_id = $1 AND shop_id IN (0, $2)
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, productID, shopID)
	if err != nil {
		return nil, fmt.Errorf("list specific prices: %w", err)
	}
	defer rows.Close()

	var rules []domain.SpecificPriceRule
	for rows.Next() {
		var sp domain.SpecificPriceRule
		if err := rows.Scan(&sp.ID, &sp.ShopID, &sp.CurrencyID, &sp.CountryID, &sp.GroupID, &sp.FromQuantity); err != nil {
			return nil, fmt.Errorf("scan specific price: %w", err)
		}
		rules = append(rules, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate specific prices: %w", err)
	}
	return rules, nil
}

// TaxRates returns the product's active tax rate (a percentage) per country
// in one shop. When several rules match a country the first one wins.
func (r *CatalogReader) TaxRates(ctx context.Context, productID, shopID int64) (map[int64]decimal.Decimal, error) {
	query := `
		SELECT tr.country_id, t.rate::text
		FROM catalog_product_shop ps
		JOIN catalog_tax_rule tr ON tr.tax_rules_group_id = ps.tax_rules_group_id
		JOIN catalog_tax t ON t.id = tr.tax_id
		WHERE ps.product_id = $1 AND ps.shop_id = $2 AND t.active
		ORDER BY tr.country_id, tr.id`

	rows, err := r.pool.Query(ctx, query, productID, shopID)
	if err != nil {
		return nil, fmt.Errorf("list tax rates: %w", err)
	}
	defer rows.Close()

	rates := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var (
			countryID int64
			raw       string
		)
		if err := rows.Scan(&countryID, &raw); err != nil {
			return nil, fmt.Errorf("scan tax rate: %w", err)
		}
		if _, seen := rates[countryID]; seen {
			continue
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse tax rate %q: %w", raw, err)
		}
		rates[countryID] = rate
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tax rates: %w", err)
	}
	return rates, nil
}

// CategoryIDs returns every active category below the root.
func (r *CatalogReader) CategoryIDs(ctx context.Context) ([]int64, error) {
	ids, err := r.ids(ctx, `SELECT id FROM catalog_category WHERE active AND depth > 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return ids, nil
}

// AutoTemplateSource returns the categories holding visible products and the
// attribute groups and non-custom features used by those products.
func (r *CatalogReader) AutoTemplateSource(ctx context.Context, categoryIDs []int64) (*domain.AutoTemplateSource, error) {
	if categoryIDs == nil {
		categoryIDs = []int64{}
	}

	categoriesQuery := `
		SELECT DISTINCT cp.category_id
		FROM catalog_category_product cp
		JOIN catalog_category c ON c.id = cp.category_id
		JOIN catalog_product_shop ps ON ps.product_id = cp.product_id
		WHERE c.active AND ` + visibleProductShop + `
			AND (cardinality($1::bigint[]) = 0 OR cp.category_id = ANY($1::bigint[]))
		ORDER BY cp.category_id`

	cats, err := r.ids(ctx, categoriesQuery, categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("list categories with products: %w", err)
	}
	src := &domain.AutoTemplateSource{CategoryIDs: cats}
	if len(cats) == 0 {
		return src, nil
	}

	groupsQuery := `
		SELECT DISTINCT a.attribute_group_id
		FROM catalog_category_product cp
		JOIN catalog_product_attribute pa ON pa.product_id = cp.product_id
		JOIN catalog_product_attribute_combination pac ON pac.product_attribute_id = pa.id
		JOIN catalog_attribute a ON a.id = pac.attribute_id
		WHERE cp.category_id = ANY($1::bigint[])
		ORDER BY a.attribute_group_id`

	if src.AttributeGroupIDs, err = r.ids(ctx, groupsQuery, cats); err != nil {
		return nil, fmt.Errorf("list attribute groups in use: %w", err)
	}

	featuresQuery := `
		SELECT DISTINCT fp.feature_id
		FROM catalog_category_product cp
		JOIN catalog_feature_product fp ON fp.product_id = cp.product_id
		JOIN catalog_feature_value fv ON fv.id = fp.feature_value_id
		WHERE cp.category_id = ANY($1::bigint[]) AND NOT fv.custom
		ORDER BY fp.feature_id`

	if src.FeatureIDs, err = r.ids(ctx, featuresQuery, cats); err != nil {
		return nil, fmt.Errorf("list features in use: %w", err)
	}
	return src, nil
}

func (r *CatalogReader) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
