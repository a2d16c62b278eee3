package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/catalog-indexer/internal/domain"
	pkgkafka "github.com/utafrali/catalog-indexer/pkg/kafka"
)

// Kafka topic constants for catalog sync events.
const (
	TopicSyncRequested = "ecommerce.catalog.sync_requested"
	TopicSyncCompleted = "ecommerce.catalog.sync_completed"
	TopicSyncFailed    = "ecommerce.catalog.sync_failed"
)

// AggregateTypeCatalog is the aggregate type of every catalog event.
const AggregateTypeCatalog = "catalog"

// SourceCatalogIndexer identifies events published by this service.
const SourceCatalogIndexer = "catalog-indexer"

// SyncResultData is the payload of sync_completed and sync_failed events.
type SyncResultData struct {
	CatalogKey string `json:"catalog_key"`
	Outcome    string `json:"outcome"`
	Resumed    bool   `json:"resumed"`
	Lines      int64  `json:"lines"`
	Indexed    int64  `json:"indexed"`
	Failed     int64  `json:"failed"`
	Deleted    int64  `json:"deleted"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// EventPublisher is the part of the Kafka producer used here.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes catalog sync results.
type Producer struct {
	kafka  EventPublisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka EventPublisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

// PublishResult publishes sync_failed for failed runs and sync_completed for
// every other outcome. correlationID links the result to its request.
func (p *Producer) PublishResult(ctx context.Context, res *domain.RunResult, correlationID string) error {
	topic := TopicSyncCompleted
	if res.Outcome == domain.OutcomeFailed {
		topic = TopicSyncFailed
	}

	data := SyncResultData{
		CatalogKey: res.CatalogKey,
		Outcome:    string(res.Outcome),
		Resumed:    res.Resumed,
		Lines:      res.Lines,
		Indexed:    res.Indexed,
		Failed:     res.Failed,
		Deleted:    res.Deleted,
		DurationMS: res.Duration.Milliseconds(),
		Error:      res.Error,
	}

	event, err := pkgkafka.NewEvent(topic, res.CatalogKey, AggregateTypeCatalog, SourceCatalogIndexer, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if correlationID != "" {
		event.WithCorrelationID(correlationID)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published sync result",
		slog.String("topic", topic),
		slog.String("catalog_key", res.CatalogKey),
		slog.String("outcome", string(res.Outcome)),
	)
	return nil
}
