// Package reconcile removes index documents whose products no longer exist
// upstream after a full export.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/engine"
	"github.com/utafrali/catalog-indexer/pkg/tracing"
)

var tracer = otel.Tracer("github.com/utafrali/catalog-indexer/internal/reconcile")

// Config tunes paging.
type Config struct {
	PageSize        int
	DeleteBatchSize int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{PageSize: 1000, DeleteBatchSize: 500}
}

// Reconciler deletes stale documents from one index.
type Reconciler struct {
	engine engine.SearchEngine
	cfg    Config
	logger *slog.Logger
}

// New creates a Reconciler.
func New(eng engine.SearchEngine, cfg Config, logger *slog.Logger) *Reconciler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.DeleteBatchSize <= 0 {
		cfg.DeleteBatchSize = DefaultConfig().DeleteBatchSize
	}
	return &Reconciler{engine: eng, cfg: cfg, logger: logger}
}

// Reconcile deletes every document of index whose id is not in keep, matching
// ids raw or normalized, then refreshes the index. An empty keep set is a
// no-op: an export that produced nothing must not wipe the index.
func (r *Reconciler) Reconcile(ctx context.Context, index string, keep map[string]struct{}) (deleted int64, err error) {
	if len(keep) == 0 {
		r.logger.WarnContext(ctx, "skipping reconcile: no products seen", slog.String("index", index))
		return 0, nil
	}

	ctx, span := tracer.Start(ctx, "reconcile")
	defer func() {
		tracing.End(span, err, attribute.String("index", index), attribute.Int64("deleted", deleted))
	}()

	var stale []string
	scanned := 0
	err = r.engine.ScrollIDs(ctx, index, r.cfg.PageSize, func(ids []string) error {
		scanned += len(ids)
		for _, id := range ids {
			if !kept(keep, id) {
				stale = append(stale, id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scroll index %s: %w", index, err)
	}

	for start := 0; start < len(stale); start += r.cfg.DeleteBatchSize {
		end := min(start+r.cfg.DeleteBatchSize, len(stale))
		failed, err := r.engine.BulkDelete(ctx, index, stale[start:end])
		if err != nil {
			return deleted, fmt.Errorf("delete stale documents: %w", err)
		}
		for _, f := range failed {
			r.logger.WarnContext(ctx, "stale document not deleted",
				slog.String("id", f.ID),
				slog.String("error", f.Error()),
			)
		}
		deleted += int64(end - start - len(failed))
	}

	if err := r.engine.Refresh(ctx, index); err != nil {
		return deleted, fmt.Errorf("refresh index %s: %w", index, err)
	}

	documentsDeleted.Add(float64(deleted))
	r.logger.InfoContext(ctx, "reconcile complete",
		slog.String("index", index),
		slog.Int("scanned", scanned),
		slog.Int64("deleted", deleted),
	)
	return deleted, nil
}

func kept(keep map[string]struct{}, id string) bool {
	if _, ok := keep[id]; ok {
		return true
	}
	_, ok := keep[domain.NormalizeID(id)]
	return ok
}
