package domain

import (
	"slices"
	"time"
)

// QueryContext is everything a rendered facet block depends on.
type QueryContext struct {
	ShopID     int64               `json:"shop_id"`
	CategoryID int64               `json:"category_id"`
	LangID     int64               `json:"lang_id"`
	CurrencyID int64               `json:"currency_id"`
	CountryID  int64               `json:"country_id"`
	GroupID    int64               `json:"group_id"`
	Filters    map[string][]string `json:"filters,omitempty"`
}

// Canonical returns a copy with filter values sorted so that equivalent
// queries serialize identically.
func (q QueryContext) Canonical() QueryContext {
	out := q
	if len(q.Filters) == 0 {
		out.Filters = nil
		return out
	}
	out.Filters = make(map[string][]string, len(q.Filters))
	for k, v := range q.Filters {
		if len(v) == 0 {
			continue
		}
		sorted := slices.Clone(v)
		slices.Sort(sorted)
		out.Filters[k] = sorted
	}
	return out
}

// ResultCacheBlock is one rendered facet block.
type ResultCacheBlock struct {
	Hash      string    `json:"hash"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}
