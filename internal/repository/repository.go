package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/utafrali/facetindex/internal/domain"
)

// TemplateRepository defines persistence operations for filter templates.
type TemplateRepository interface {
	// Create inserts a template with its shop associations and sets its ID
	// and timestamps.
	Create(ctx context.Context, rec *domain.TemplateRecord) error

	// Update replaces a template's fields and shop associations.
	Update(ctx context.Context, rec *domain.TemplateRecord) error

	// UpdatePayload replaces only the stored facet document.
	UpdatePayload(ctx context.Context, id int64, filters []byte) error

	// Delete removes a template.
	Delete(ctx context.Context, id int64) error

	// GetByID retrieves a template by its identifier.
	GetByID(ctx context.Context, id int64) (*domain.TemplateRecord, error)

	// List returns one page of templates in processing order and the total count.
	List(ctx context.Context, offset, limit int) ([]domain.TemplateRecord, int, error)

	// ListAll returns every template in processing order.
	ListAll(ctx context.Context) ([]domain.TemplateRecord, error)
}

// LayeredCategoryRepository stores the resolved (shop, category) facet lists.
type LayeredCategoryRepository interface {
	// ReplaceAll clears the table and writes entries in one transaction.
	ReplaceAll(ctx context.Context, entries []domain.LayeredCategoryEntry) error

	// ListFor returns the entries of one pair ordered by position.
	ListFor(ctx context.Context, shopID, categoryID int64) ([]domain.LayeredCategoryEntry, error)
}

// PriceIndexRepository stores per-product price ranges.
type PriceIndexRepository interface {
	// Truncate removes every entry.
	Truncate(ctx context.Context) error

	// SaveProduct writes the entries of one product across its shops. When
	// replace is set every existing row of the product is deleted first, in
	// the same transaction; otherwise existing rows are kept.
	SaveProduct(ctx context.Context, productID int64, entries []domain.PriceIndexEntry, replace bool) error

	// DeleteProduct removes every entry of a product.
	DeleteProduct(ctx context.Context, productID int64) error

	// CountProducts returns the number of distinct indexed products.
	CountProducts(ctx context.Context) (int, error)
}

// CatalogReader reads the catalog tables shared with the catalog service.
type CatalogReader interface {
	// ProductPage returns up to limit eligible product ids greater than
	// cursor in ascending order. Incremental mode only returns products
	// absent from the price index.
	ProductPage(ctx context.Context, mode domain.IndexMode, cursor int64, limit int) ([]int64, error)

	// CountEligible returns the number of products a run in mode would visit.
	CountEligible(ctx context.Context, mode domain.IndexMode) (int, error)

	// CountProducts returns the number of products in the catalog.
	CountProducts(ctx context.Context) (int, error)

	// ProductShops returns the shops the product is active and visible in.
	ProductShops(ctx context.Context, productID int64) ([]int64, error)

	// ShopIDs returns every active shop.
	ShopIDs(ctx context.Context) ([]int64, error)

	// ShopCurrencies returns the currencies of each active shop.
	ShopCurrencies(ctx context.Context) (map[int64][]int64, error)

	// ActiveCountries returns every active country.
	ActiveCountries(ctx context.Context) ([]int64, error)

	// GroupsWithReduction returns the customer groups carrying a reduction.
	GroupsWithReduction(ctx context.Context) ([]int64, error)

	// SpecificPrices returns the rules of a product scoped to every shop or
	// to shopID.
	SpecificPrices(ctx context.Context, productID, shopID int64) ([]domain.SpecificPriceRule, error)

	// TaxRates returns the product's active tax rate per country in a shop.
	TaxRates(ctx context.Context, productID, shopID int64) (map[int64]decimal.Decimal, error)

	// CategoryIDs returns every active category except the root.
	CategoryIDs(ctx context.Context) ([]int64, error)

	// AutoTemplateSource returns the categories holding visible products and
	// the attribute groups and features in use in them. An empty
	// categoryIDs means every active category.
	AutoTemplateSource(ctx context.Context, categoryIDs []int64) (*domain.AutoTemplateSource, error)
}

// IndexableRepository stores facet eligibility and localized metadata.
type IndexableRepository interface {
	// Replace deletes and rewrites the rows of one entity in one transaction.
	Replace(ctx context.Context, flag *domain.IndexableFlag) error

	// Delete removes the rows of one entity.
	Delete(ctx context.Context, kind domain.EntityKind, entityID int64) error

	// Get returns the stored rows of one entity, or defaults when none exist.
	Get(ctx context.Context, kind domain.EntityKind, entityID int64) (*domain.IndexableFlag, error)
}

// ProductAttributeRepository maintains the flattened product attribute table.
type ProductAttributeRepository interface {
	// Rebuild recomputes the rows of one product, or the whole table when
	// productID is nil, and returns the number of rows written.
	Rebuild(ctx context.Context, productID *int64) (int64, error)

	// DeleteProduct removes the rows of a product.
	DeleteProduct(ctx context.Context, productID int64) error
}

// SettingsRepository stores module settings.
type SettingsRepository interface {
	Get(ctx context.Context) (domain.Settings, error)
	Save(ctx context.Context, s domain.Settings) error
	SetIndexed(ctx context.Context, indexed bool) error
}

// ResultCache is a content-addressed store of rendered facet blocks.
type ResultCache interface {
	// Get returns the block stored under hash. A miss is reported as
	// apperrors.ErrNotFound.
	Get(ctx context.Context, hash string) ([]byte, error)

	// Put stores data under hash, replacing any previous block.
	Put(ctx context.Context, hash string, data []byte) error

	// Clear removes every block.
	Clear(ctx context.Context) error
}
