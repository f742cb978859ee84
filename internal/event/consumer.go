package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/service"
	pkgkafka "github.com/utafrali/facetindex/pkg/kafka"
)

// Kafka topics consumed from the catalog service.
var (
	TopicCategoryCreated       = pkgkafka.Topic("catalog", "category", "created")
	TopicCategoryUpdated       = pkgkafka.Topic("catalog", "category", "updated")
	TopicCategoryDeleted       = pkgkafka.Topic("catalog", "category", "deleted")
	TopicAttributeGroupSaved   = pkgkafka.Topic("catalog", "attribute_group", "saved")
	TopicAttributeGroupDeleted = pkgkafka.Topic("catalog", "attribute_group", "deleted")
	TopicAttributeSaved        = pkgkafka.Topic("catalog", "attribute", "saved")
	TopicAttributeDeleted      = pkgkafka.Topic("catalog", "attribute", "deleted")
	TopicFeatureSaved          = pkgkafka.Topic("catalog", "feature", "saved")
	TopicFeatureDeleted        = pkgkafka.Topic("catalog", "feature", "deleted")
	TopicFeatureValueSaved     = pkgkafka.Topic("catalog", "feature_value", "saved")
	TopicFeatureValueDeleted   = pkgkafka.Topic("catalog", "feature_value", "deleted")
	TopicProductSaved          = pkgkafka.Topic("catalog", "product", "saved")
	TopicProductDeleted        = pkgkafka.Topic("catalog", "product", "deleted")
)

// CatalogHooks defines the handlers the catalog consumer dispatches to.
type CatalogHooks interface {
	CategoryCreated(ctx context.Context, categoryID int64) error
	CategoryUpdated(ctx context.Context, categoryID int64, active bool) error
	CategoryDeleted(ctx context.Context, categoryID int64) error
	EntitySaved(ctx context.Context, in service.SetIndexableInput) error
	EntityDeleted(ctx context.Context, kind domain.EntityKind, entityID int64) error
	ProductSaved(ctx context.Context, productID int64) error
	ProductDeleted(ctx context.Context, productID int64) error
}

// CategoryData is the payload of category events.
type CategoryData struct {
	CategoryID int64 `json:"category_id"`
	Active     bool  `json:"active"`
}

// EntityData is the payload of attribute group, attribute, feature and
// feature value events. Names and localized metadata are keyed by language.
type EntityData struct {
	EntityID  int64                          `json:"entity_id"`
	Indexable *bool                          `json:"indexable,omitempty"`
	Names     map[int64]string               `json:"names,omitempty"`
	Localized map[int64]domain.LocalizedMeta `json:"localized,omitempty"`
}

// ProductData is the payload of product events.
type ProductData struct {
	ProductID int64 `json:"product_id"`
}

// Consumer processes catalog events.
type Consumer struct {
	hooks  CatalogHooks
	logger *slog.Logger
}

// NewConsumer creates a new catalog event consumer.
func NewConsumer(hooks CatalogHooks, logger *slog.Logger) *Consumer {
	return &Consumer{hooks: hooks, logger: logger}
}

// Routes maps every consumed topic to its handler.
func (c *Consumer) Routes() map[string]pkgkafka.Handler {
	return map[string]pkgkafka.Handler{
		TopicCategoryCreated:       c.HandleCategoryCreated,
		TopicCategoryUpdated:       c.HandleCategoryUpdated,
		TopicCategoryDeleted:       c.HandleCategoryDeleted,
		TopicAttributeGroupSaved:   c.entitySaved(domain.EntityAttributeGroup),
		TopicAttributeGroupDeleted: c.entityDeleted(domain.EntityAttributeGroup),
		TopicAttributeSaved:        c.entitySaved(domain.EntityAttribute),
		TopicAttributeDeleted:      c.entityDeleted(domain.EntityAttribute),
		TopicFeatureSaved:          c.entitySaved(domain.EntityFeature),
		TopicFeatureDeleted:        c.entityDeleted(domain.EntityFeature),
		TopicFeatureValueSaved:     c.entitySaved(domain.EntityFeatureValue),
		TopicFeatureValueDeleted:   c.entityDeleted(domain.EntityFeatureValue),
		TopicProductSaved:          c.HandleProductSaved,
		TopicProductDeleted:        c.HandleProductDeleted,
	}
}

// HandleCategoryCreated processes category.created events.
func (c *Consumer) HandleCategoryCreated(ctx context.Context, event *pkgkafka.Event) error {
	var data CategoryData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal category.created data: %w", err)
	}
	c.logger.InfoContext(ctx, "processing category.created event", slog.Int64("category_id", data.CategoryID))
	return c.hooks.CategoryCreated(ctx, data.CategoryID)
}

// HandleCategoryUpdated processes category.updated events.
func (c *Consumer) HandleCategoryUpdated(ctx context.Context, event *pkgkafka.Event) error {
	var data CategoryData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal category.updated data: %w", err)
	}
	c.logger.InfoContext(ctx, "processing category.updated event",
		slog.Int64("category_id", data.CategoryID),
		slog.Bool("active", data.Active),
	)
	return c.hooks.CategoryUpdated(ctx, data.CategoryID, data.Active)
}

// HandleCategoryDeleted processes category.deleted events.
func (c *Consumer) HandleCategoryDeleted(ctx context.Context, event *pkgkafka.Event) error {
	var data CategoryData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal category.deleted data: %w", err)
	}
	c.logger.InfoContext(ctx, "processing category.deleted event", slog.Int64("category_id", data.CategoryID))
	return c.hooks.CategoryDeleted(ctx, data.CategoryID)
}

func (c *Consumer) entitySaved(kind domain.EntityKind) pkgkafka.Handler {
	return func(ctx context.Context, event *pkgkafka.Event) error {
		var data EntityData
		if err := event.UnmarshalData(&data); err != nil {
			return fmt.Errorf("unmarshal %s saved data: %w", kind, err)
		}
		c.logger.InfoContext(ctx, "processing entity saved event",
			slog.String("kind", string(kind)),
			slog.Int64("entity_id", data.EntityID),
		)
		return c.hooks.EntitySaved(ctx, service.SetIndexableInput{
			Kind:      kind,
			EntityID:  data.EntityID,
			Indexable: data.Indexable,
			Names:     data.Names,
			Localized: data.Localized,
		})
	}
}

func (c *Consumer) entityDeleted(kind domain.EntityKind) pkgkafka.Handler {
	return func(ctx context.Context, event *pkgkafka.Event) error {
		var data EntityData
		if err := event.UnmarshalData(&data); err != nil {
			return fmt.Errorf("unmarshal %s deleted data: %w", kind, err)
		}
		c.logger.InfoContext(ctx, "processing entity deleted event",
			slog.String("kind", string(kind)),
			slog.Int64("entity_id", data.EntityID),
		)
		return c.hooks.EntityDeleted(ctx, kind, data.EntityID)
	}
}

// HandleProductSaved processes product.saved events.
func (c *Consumer) HandleProductSaved(ctx context.Context, event *pkgkafka.Event) error {
	var data ProductData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal product.saved data: %w", err)
	}
	c.logger.InfoContext(ctx, "processing product.saved event", slog.Int64("product_id", data.ProductID))
	return c.hooks.ProductSaved(ctx, data.ProductID)
}

// HandleProductDeleted processes product.deleted events.
func (c *Consumer) HandleProductDeleted(ctx context.Context, event *pkgkafka.Event) error {
	var data ProductData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal product.deleted data: %w", err)
	}
	c.logger.InfoContext(ctx, "processing product.deleted event", slog.Int64("product_id", data.ProductID))
	return c.hooks.ProductDeleted(ctx, data.ProductID)
}
