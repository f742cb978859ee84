package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/facetindex/internal/domain"
	pkgkafka "github.com/utafrali/facetindex/pkg/kafka"
)

// TopicPriceIndexContinue carries the remainder of price index runs.
var TopicPriceIndexContinue = pkgkafka.Topic("facetindex", "price_index", "continue")

const (
	// AggregateTypePriceIndex is the aggregate type of continuation events.
	AggregateTypePriceIndex = "price_index"

	// SourceFacetIndex identifies events published by this service.
	SourceFacetIndex = "facetindex"
)

// Publisher publishes events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// ContinuationProducer queues price index continuations.
type ContinuationProducer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewContinuationProducer creates a new continuation producer.
func NewContinuationProducer(publisher Publisher, logger *slog.Logger) *ContinuationProducer {
	return &ContinuationProducer{publisher: publisher, logger: logger}
}

// ScheduleContinuation publishes job so that a consumer resumes it.
func (p *ContinuationProducer) ScheduleContinuation(ctx context.Context, job domain.PriceIndexJob) error {
	event, err := pkgkafka.NewEvent(TopicPriceIndexContinue, job.ID, AggregateTypePriceIndex, SourceFacetIndex, job)
	if err != nil {
		return fmt.Errorf("create continuation event: %w", err)
	}
	if err := p.publisher.Publish(ctx, TopicPriceIndexContinue, event.WithContext(ctx)); err != nil {
		return fmt.Errorf("publish continuation event: %w", err)
	}

	p.logger.DebugContext(ctx, "published price index continuation",
		slog.String("job_id", job.ID),
		slog.Int64("cursor", job.Cursor),
	)
	return nil
}

// PriceIndexRunner resumes price index jobs.
type PriceIndexRunner interface {
	Run(ctx context.Context, job domain.PriceIndexJob) (domain.PriceIndexResult, error)
}

// ContinuationConsumer resumes queued price index runs.
type ContinuationConsumer struct {
	runner PriceIndexRunner
	logger *slog.Logger
}

// NewContinuationConsumer creates a new continuation consumer.
func NewContinuationConsumer(runner PriceIndexRunner, logger *slog.Logger) *ContinuationConsumer {
	return &ContinuationConsumer{runner: runner, logger: logger}
}

// HandleContinue runs the next chunk of a queued job.
func (c *ContinuationConsumer) HandleContinue(ctx context.Context, event *pkgkafka.Event) error {
	var job domain.PriceIndexJob
	if err := event.UnmarshalData(&job); err != nil {
		return fmt.Errorf("unmarshal continuation data: %w", err)
	}
	if job.ID == "" {
		job.ID = event.AggregateID
	}

	c.logger.InfoContext(ctx, "resuming price index run",
		slog.String("job_id", job.ID),
		slog.String("mode", string(job.Mode)),
		slog.Int64("cursor", job.Cursor),
	)
	if _, err := c.runner.Run(ctx, job); err != nil {
		return fmt.Errorf("resume price index run %s: %w", job.ID, err)
	}
	return nil
}
