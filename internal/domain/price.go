package domain

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PriceIndexEntry is the price range of a product for one currency, shop and
// country, in integer minor units.
type PriceIndexEntry struct {
	ProductID  int64 `json:"product_id"`
	CurrencyID int64 `json:"currency_id"`
	ShopID     int64 `json:"shop_id"`
	CountryID  int64 `json:"country_id"`
	PriceMin   int64 `json:"price_min"`
	PriceMax   int64 `json:"price_max"`
}

// PriceQuery is one request to the price calculator.
type PriceQuery struct {
	ShopID                int64  `json:"shop_id"`
	ProductID             int64  `json:"product_id"`
	CountryID             int64  `json:"country_id"`
	CurrencyID            int64  `json:"currency_id"`
	GroupID               *int64 `json:"group_id,omitempty"`
	Quantity              *int   `json:"quantity,omitempty"`
	WithTax               bool   `json:"with_tax"`
	Decimals              int    `json:"decimals"`
	UseReduction          bool   `json:"use_reduction"`
	UseSpecificPriceRules bool   `json:"use_specific_price_rules"`
}

// SpecificPriceRule is a scheduled or customer-scoped price override.
// Zero ids mean "any".
type SpecificPriceRule struct {
	ID           int64
	ShopID       int64
	CurrencyID   int64
	CountryID    int64
	GroupID      int64
	FromQuantity int
}

// AppliesToCurrency reports whether the rule can affect prices in currencyID.
func (r SpecificPriceRule) AppliesToCurrency(currencyID int64) bool {
	return r.CurrencyID == 0 || r.CurrencyID == currencyID
}

// Group returns the rule's customer group, nil when the rule is not scoped
// to a group.
func (r SpecificPriceRule) Group() *int64 {
	if r.GroupID == 0 {
		return nil
	}
	g := r.GroupID
	return &g
}

// PricingContext is the reference data shared by every product of one
// indexing invocation. It is read only once built.
type PricingContext struct {
	Countries  []int64
	Groups     []int64
	Currencies map[int64][]int64
	UseTax     bool
}

// PriceRange accumulates the minimum and maximum of a set of amounts.
// A zero amount can raise the maximum but never lowers the minimum.
type PriceRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// NewPriceRange starts a range from the undiscounted base price.
func NewPriceRange(base decimal.Decimal) PriceRange {
	return PriceRange{Min: base, Max: base}
}

// Fold merges one amount into the range.
func (r *PriceRange) Fold(amount decimal.Decimal) {
	if amount.GreaterThan(r.Max) {
		r.Max = amount
	}
	if amount.IsZero() {
		return
	}
	if amount.LessThan(r.Min) {
		r.Min = amount
	}
}

// Taxed returns the range bounds with the tax rate (a percentage) applied,
// rounded half away from zero to integer minor units.
func (r PriceRange) Taxed(rate decimal.Decimal) (lo, hi int64) {
	return ApplyTax(r.Min, rate), ApplyTax(r.Max, rate)
}

// ApplyTax computes round(amount * (100 + rate) / 100).
func ApplyTax(amount, rate decimal.Decimal) int64 {
	return amount.Mul(hundred.Add(rate)).Div(hundred).Round(0).IntPart()
}
