package domain

import (
	"fmt"
	"strconv"
)

// WidgetType is how a facet is rendered on the storefront.
type WidgetType string

// Widget type constants.
const (
	WidgetCheckbox WidgetType = "checkbox"
	WidgetRadio    WidgetType = "radio"
	WidgetSlider   WidgetType = "slider"
	WidgetDropdown WidgetType = "dropdown"
)

// IsValid checks whether the widget type is known.
func (w WidgetType) IsValid() bool {
	switch w {
	case WidgetCheckbox, WidgetRadio, WidgetSlider, WidgetDropdown:
		return true
	}
	return false
}

// FacetKind discriminates facet declarations.
type FacetKind string

// Facet kind constants.
const (
	FacetSubcategories  FacetKind = "subcategories"
	FacetStock          FacetKind = "stock"
	FacetCondition      FacetKind = "condition"
	FacetBrand          FacetKind = "brand"
	FacetWeight         FacetKind = "weight"
	FacetPrice          FacetKind = "price"
	FacetAttributeGroup FacetKind = "attribute_group"
	FacetFeature        FacetKind = "feature"
)

// FacetKinds returns every supported facet kind in default display order.
func FacetKinds() []FacetKind {
	return []FacetKind{
		FacetSubcategories, FacetStock, FacetCondition, FacetBrand,
		FacetWeight, FacetPrice, FacetAttributeGroup, FacetFeature,
	}
}

// IsValid checks whether the kind is one of the fixed facet kinds.
func (k FacetKind) IsValid() bool {
	for _, known := range FacetKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// HasValue reports whether declarations of this kind carry a value id
// (the attribute group or feature they filter on).
func (k FacetKind) HasValue() bool {
	return k == FacetAttributeGroup || k == FacetFeature
}

// IsRange reports whether the kind filters on a numeric range.
func (k FacetKind) IsRange() bool {
	return k == FacetWeight || k == FacetPrice
}

// FacetKey identifies a facet within a template: kind plus optional value id.
type FacetKey struct {
	Kind    FacetKind
	ValueID int64
}

// String renders the key as "kind" or "kind:value".
func (k FacetKey) String() string {
	if !k.Kind.HasValue() {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + strconv.FormatInt(k.ValueID, 10)
}

// FacetDeclaration is one enabled facet of a filter template.
type FacetDeclaration struct {
	Kind           FacetKind  `json:"kind"`
	ValueID        *int64     `json:"value_id,omitempty"`
	WidgetType     WidgetType `json:"widget_type"`
	ResultCountCap uint32     `json:"result_count_cap"`
}

// ScalarFacet declares a facet that carries no value id.
func ScalarFacet(kind FacetKind, widget WidgetType, limit uint32) FacetDeclaration {
	return FacetDeclaration{Kind: kind, WidgetType: widget, ResultCountCap: limit}
}

// AttributeGroupFacet declares a facet over one attribute group.
func AttributeGroupFacet(groupID int64, widget WidgetType, limit uint32) FacetDeclaration {
	return FacetDeclaration{Kind: FacetAttributeGroup, ValueID: &groupID, WidgetType: widget, ResultCountCap: limit}
}

// FeatureFacet declares a facet over one product feature.
func FeatureFacet(featureID int64, widget WidgetType, limit uint32) FacetDeclaration {
	return FacetDeclaration{Kind: FacetFeature, ValueID: &featureID, WidgetType: widget, ResultCountCap: limit}
}

// Key returns the identity of the declaration within a template.
func (d FacetDeclaration) Key() FacetKey {
	key := FacetKey{Kind: d.Kind}
	if d.Kind.HasValue() && d.ValueID != nil {
		key.ValueID = *d.ValueID
	}
	return key
}

// Validate checks the declaration for structural consistency.
func (d FacetDeclaration) Validate() error {
	if !d.Kind.IsValid() {
		return fmt.Errorf("unknown facet kind %q", d.Kind)
	}
	if d.Kind.HasValue() {
		if d.ValueID == nil || *d.ValueID <= 0 {
			return fmt.Errorf("facet %s requires a positive value_id", d.Kind)
		}
	} else if d.ValueID != nil {
		return fmt.Errorf("facet %s does not take a value_id", d.Kind)
	}
	if !d.WidgetType.IsValid() {
		return fmt.Errorf("facet %s: unknown widget type %q", d.Kind, d.WidgetType)
	}
	if d.WidgetType == WidgetSlider && !d.Kind.IsRange() {
		return fmt.Errorf("facet %s: slider widget is only allowed for weight and price", d.Kind)
	}
	return nil
}
