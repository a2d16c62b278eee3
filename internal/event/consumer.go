package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/catalog-indexer/internal/domain"
	pkgkafka "github.com/utafrali/catalog-indexer/pkg/kafka"
	"github.com/utafrali/catalog-indexer/pkg/validator"
)

// SyncRequestedData is the payload of a sync_requested event.
type SyncRequestedData struct {
	CatalogKey  string `json:"catalog_key" validate:"required,catalogkey"`
	Force       bool   `json:"force"`
	RequestedBy string `json:"requested_by,omitempty" validate:"omitempty,max=255"`
}

// Runner executes an indexing run.
type Runner interface {
	Run(ctx context.Context, key string, opts domain.RunOptions) (*domain.RunResult, error)
}

// ResultPublisher reports finished runs.
type ResultPublisher interface {
	PublishResult(ctx context.Context, res *domain.RunResult, correlationID string) error
}

// Consumer turns sync requests into indexing runs.
type Consumer struct {
	runner    Runner
	publisher ResultPublisher
	logger    *slog.Logger
}

// NewConsumer creates a new sync request consumer.
func NewConsumer(runner Runner, publisher ResultPublisher, logger *slog.Logger) *Consumer {
	return &Consumer{runner: runner, publisher: publisher, logger: logger}
}

// Handle processes a Kafka event based on its type.
func (c *Consumer) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicSyncRequested:
		return c.handleSyncRequested(ctx, event)
	default:
		c.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

// handleSyncRequested runs the requested sync. A failed run is reported
// through a sync_failed event; it already left a resumable checkpoint, so the
// message is not retried.
func (c *Consumer) handleSyncRequested(ctx context.Context, event *pkgkafka.Event) error {
	var data SyncRequestedData
	if err := validator.DecodeAndValidate(event.Data, &data); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("invalid sync_requested payload: %w", err))
	}

	c.logger.InfoContext(ctx, "sync requested",
		slog.String("catalog_key", data.CatalogKey),
		slog.Bool("force", data.Force),
		slog.String("requested_by", data.RequestedBy),
		slog.String("event_id", event.EventID),
	)

	res, err := c.runner.Run(ctx, data.CatalogKey, domain.RunOptions{Force: data.Force})
	if err != nil && ctx.Err() != nil {
		// Shutdown interrupted the run; let the message be redelivered.
		return fmt.Errorf("sync %s interrupted: %w", data.CatalogKey, err)
	}
	if res == nil {
		return fmt.Errorf("sync %s: %w", data.CatalogKey, err)
	}

	correlationID := event.CorrelationID
	if correlationID == "" {
		correlationID = event.EventID
	}
	if perr := c.publisher.PublishResult(ctx, res, correlationID); perr != nil {
		c.logger.ErrorContext(ctx, "failed to publish sync result",
			slog.String("catalog_key", data.CatalogKey),
			slog.String("error", perr.Error()),
		)
	}
	return nil
}
