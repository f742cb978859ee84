package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrNoCategories is returned when a template targets no category.
var ErrNoCategories = errors.New("template must target at least one category")

// FilterTemplate is a named set of facet declarations applied to a set of
// categories in a set of shops.
type FilterTemplate struct {
	ID         int64              `json:"id"`
	Name       string             `json:"name"`
	Priority   int                `json:"priority"`
	Shops      []int64            `json:"shops"`
	Categories []int64            `json:"categories"`
	Facets     []FacetDeclaration `json:"facets"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Validate checks what an administrator must supply: at least one category
// on top of a valid structure.
func (t *FilterTemplate) Validate() error {
	if len(t.Categories) == 0 {
		return ErrNoCategories
	}
	return t.ValidateStructure()
}

// ValidateStructure checks the invariants every stored template keeps, even
// one whose categories were all deleted: at least one shop, and valid facet
// declarations with unique keys.
func (t *FilterTemplate) ValidateStructure() error {
	if len(t.Shops) == 0 {
		return errors.New("template must target at least one shop")
	}
	seen := make(map[FacetKey]struct{}, len(t.Facets))
	for i, f := range t.Facets {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("facets[%d]: %w", i, err)
		}
		key := f.Key()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("facets[%d]: duplicate facet %s", i, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// RemoveCategory drops the category from the target set and reports whether
// it was present.
func (t *FilterTemplate) RemoveCategory(categoryID int64) bool {
	n := len(t.Categories)
	t.Categories = slices.DeleteFunc(t.Categories, func(id int64) bool { return id == categoryID })
	return len(t.Categories) != n
}

// Payload returns the serialized facet document stored with the template.
func (t *FilterTemplate) Payload() ([]byte, error) {
	return json.Marshal(TemplatePayload{Categories: t.Categories, Facets: t.Facets})
}

// TemplatePayload is the JSON document persisted in layered_filter.filters.
type TemplatePayload struct {
	Categories []int64            `json:"categories"`
	Facets     []FacetDeclaration `json:"facets"`
}

// TemplateRecord is a template as stored: the payload is kept raw so that
// malformed documents can be detected and skipped by readers.
type TemplateRecord struct {
	ID        int64
	Name      string
	Priority  int
	Shops     []int64
	Filters   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTemplateRecord serializes a template for storage.
func NewTemplateRecord(t *FilterTemplate) (*TemplateRecord, error) {
	payload, err := t.Payload()
	if err != nil {
		return nil, fmt.Errorf("encode template payload: %w", err)
	}
	return &TemplateRecord{
		ID:        t.ID,
		Name:      t.Name,
		Priority:  t.Priority,
		Shops:     slices.Clone(t.Shops),
		Filters:   payload,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}, nil
}

// Decode parses the stored payload and checks its structure. A template
// left without categories decodes and simply targets nothing.
func (r *TemplateRecord) Decode() (*FilterTemplate, error) {
	var payload *TemplatePayload
	if err := json.Unmarshal(r.Filters, &payload); err != nil {
		return nil, fmt.Errorf("decode template %d: %w", r.ID, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("decode template %d: empty payload", r.ID)
	}
	t := &FilterTemplate{
		ID:         r.ID,
		Name:       r.Name,
		Priority:   r.Priority,
		Shops:      slices.Clone(r.Shops),
		Categories: payload.Categories,
		Facets:     payload.Facets,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if err := t.ValidateStructure(); err != nil {
		return nil, fmt.Errorf("template %d: %w", r.ID, err)
	}
	return t, nil
}

// AutoTemplateSource is what the catalog offers for an auto-generated
// template: the categories that hold products and the attribute groups and
// features in use across them.
type AutoTemplateSource struct {
	CategoryIDs       []int64
	AttributeGroupIDs []int64
	FeatureIDs        []int64
}

// AutoTemplateName returns the name given to generated templates.
func AutoTemplateName(now time.Time) string {
	return "My template " + now.Format("2006-01-02")
}

// DefaultFacets returns the facets of an auto-generated template.
func DefaultFacets(src AutoTemplateSource) []FacetDeclaration {
	facets := []FacetDeclaration{ScalarFacet(FacetSubcategories, WidgetCheckbox, 0)}
	for _, id := range src.AttributeGroupIDs {
		facets = append(facets, AttributeGroupFacet(id, WidgetCheckbox, 0))
	}
	for _, id := range src.FeatureIDs {
		facets = append(facets, FeatureFacet(id, WidgetCheckbox, 0))
	}
	return append(facets,
		ScalarFacet(FacetStock, WidgetCheckbox, 0),
		ScalarFacet(FacetBrand, WidgetCheckbox, 0),
		ScalarFacet(FacetCondition, WidgetCheckbox, 0),
		ScalarFacet(FacetWeight, WidgetCheckbox, 0),
		ScalarFacet(FacetPrice, WidgetCheckbox, 0),
	)
}
