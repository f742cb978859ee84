package domain

// LayeredCategoryEntry is one resolved facet for a (shop, category) pair.
// Entries are derived from filter templates and never edited directly.
type LayeredCategoryEntry struct {
	ShopID         int64      `json:"shop_id"`
	CategoryID     int64      `json:"category_id"`
	Kind           FacetKind  `json:"facet_kind"`
	ValueID        *int64     `json:"facet_value_id,omitempty"`
	Position       int        `json:"position"`
	WidgetType     WidgetType `json:"widget_type"`
	ResultCountCap uint32     `json:"result_count_cap"`
}

// ShopCategory identifies the target of resolved entries.
type ShopCategory struct {
	ShopID     int64
	CategoryID int64
}

// ProductAttributeFlatRow links a product to one of its combination
// attributes in a shop.
type ProductAttributeFlatRow struct {
	AttributeID      int64 `json:"attribute_id"`
	ProductID        int64 `json:"product_id"`
	AttributeGroupID int64 `json:"attribute_group_id"`
	ShopID           int64 `json:"shop_id"`
}
