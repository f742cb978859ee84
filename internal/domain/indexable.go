package domain

// EntityKind is a catalog entity that carries facet metadata.
type EntityKind string

// Entity kind constants.
const (
	EntityAttributeGroup EntityKind = "attribute_group"
	EntityAttribute      EntityKind = "attribute"
	EntityFeature        EntityKind = "feature"
	EntityFeatureValue   EntityKind = "feature_value"
)

// IsValid checks whether the kind is known.
func (k EntityKind) IsValid() bool {
	switch k {
	case EntityAttributeGroup, EntityAttribute, EntityFeature, EntityFeatureValue:
		return true
	}
	return false
}

// HasFlag reports whether the kind carries an indexable flag. Attributes and
// feature values only carry localized metadata.
func (k EntityKind) HasFlag() bool {
	return k == EntityAttributeGroup || k == EntityFeature
}

// LocalizedMeta is the per-language URL and SEO metadata of an entity.
type LocalizedMeta struct {
	URLSlug   string `json:"url_slug"`
	MetaTitle string `json:"meta_title"`
}

// IndexableFlag holds the facet eligibility and localized metadata of one
// catalog entity.
type IndexableFlag struct {
	Kind      EntityKind              `json:"kind"`
	EntityID  int64                   `json:"entity_id"`
	Indexable bool                    `json:"indexable"`
	Localized map[int64]LocalizedMeta `json:"localized"`
}

// DefaultIndexableFlag returns the flag of an entity with nothing stored.
func DefaultIndexableFlag(kind EntityKind, id int64) *IndexableFlag {
	return &IndexableFlag{
		Kind:      kind,
		EntityID:  id,
		Indexable: true,
		Localized: map[int64]LocalizedMeta{},
	}
}
