// Package writer buffers assembled product documents and writes them to the
// search index in bulk, retrying rejected items individually.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/engine"
	"github.com/utafrali/catalog-indexer/pkg/tracing"
)

var tracer = tracing.Tracer("github.com/utafrali/catalog-indexer/internal/writer")

// Config tunes batching and retries.
type Config struct {
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{BatchSize: 2000, MaxRetries: 3, RetryDelay: time.Second}
}

// RetryBackoff returns the wait before retry attempt n (1-based).
func (c Config) RetryBackoff(attempt int) time.Duration {
	return c.RetryDelay * time.Duration(1<<uint(attempt-1))
}

// BatchResult is reported after every flushed batch.
type BatchResult struct {
	// Indexed and Failed count documents of this batch.
	Indexed int
	Failed  int

	// TotalIndexed and TotalFailed are cumulative for the writer.
	TotalIndexed int64
	TotalFailed  int64

	// Written holds the ids written in this batch, raw and normalized.
	Written map[string]struct{}

	// Failures are the items that exhausted their retries.
	Failures []domain.FailedItem
}

// ProgressFunc receives batch results. It runs on the writer's goroutine.
type ProgressFunc func(ctx context.Context, res BatchResult)

type pending struct {
	doc  engine.Document
	gid  string
	line int64
}

// Writer is not safe for concurrent use; one run owns one writer.
type Writer struct {
	engine     engine.SearchEngine
	index      string
	filter     domain.FieldFilter
	cfg        Config
	logger     *slog.Logger
	onProgress ProgressFunc
	sleep      func(ctx context.Context, d time.Duration) error

	buf     []pending
	written map[string]struct{}
	indexed int64
	failed  int64
}

// New creates a writer for index. A nil filter keeps every field.
func New(eng engine.SearchEngine, index string, filter domain.FieldFilter, cfg Config, logger *slog.Logger, onProgress ProgressFunc) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if filter == nil {
		filter = domain.AllowList(nil)
	}
	return &Writer{
		engine:     eng,
		index:      index,
		filter:     filter,
		cfg:        cfg,
		logger:     logger,
		onProgress: onProgress,
		sleep:      sleepContext,
		buf:        make([]pending, 0, cfg.BatchSize),
		written:    make(map[string]struct{}),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Add buffers doc and flushes once the batch is full.
func (w *Writer) Add(ctx context.Context, doc *domain.ProductDocument) error {
	w.buf = append(w.buf, pending{
		doc:  engine.Document{ID: doc.DocID(), Source: w.filter.Filter(doc.Source())},
		gid:  doc.ID,
		line: doc.FirstLine,
	})
	if len(w.buf) >= w.cfg.BatchSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered documents. Item failures are retried and then
// recorded; only a failure of the whole request is returned.
func (w *Writer) Flush(ctx context.Context) (err error) {
	if len(w.buf) == 0 {
		return nil
	}
	batch := w.buf
	w.buf = make([]pending, 0, w.cfg.BatchSize)

	ctx, span := tracer.Start(ctx, "writer.flush")
	defer func() {
		tracing.End(span, err, attribute.Int("batch.size", len(batch)))
	}()

	start := time.Now()
	rejected, err := w.upsertWithRetry(ctx, batch)
	batchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// Put the batch back so LowestUnwritten keeps covering it.
		w.buf = append(batch, w.buf...)
		return err
	}

	res := BatchResult{Written: make(map[string]struct{}, 2*len(batch))}
	for _, p := range batch {
		if _, ok := rejected[p.doc.ID]; ok {
			continue
		}
		markWritten(w.written, p)
		markWritten(res.Written, p)
		res.Indexed++
	}
	for _, p := range batch {
		werr, ok := rejected[p.doc.ID]
		if !ok {
			continue
		}
		res.Failed++
		res.Failures = append(res.Failures, domain.FailedItem{
			ID:         p.gid,
			Line:       p.line,
			Error:      werr.Error(),
			RetryCount: w.cfg.MaxRetries,
		})
		w.logger.WarnContext(ctx, "document failed after retries",
			slog.String("id", p.gid),
			slog.Int64("line", p.line),
			slog.String("error", werr.Error()),
		)
	}

	w.indexed += int64(res.Indexed)
	w.failed += int64(res.Failed)
	res.TotalIndexed = w.indexed
	res.TotalFailed = w.failed
	documentsIndexed.Add(float64(res.Indexed))
	documentsFailed.Add(float64(res.Failed))

	w.logger.DebugContext(ctx, "batch written",
		slog.Int("indexed", res.Indexed),
		slog.Int("failed", res.Failed),
		slog.Int64("total_indexed", w.indexed),
	)
	if w.onProgress != nil {
		w.onProgress(ctx, res)
	}
	return nil
}

func markWritten(set map[string]struct{}, p pending) {
	set[p.gid] = struct{}{}
	set[p.doc.ID] = struct{}{}
}

// upsertWithRetry writes batch and retries rejected items one by one. It
// returns the items still rejected after MaxRetries, keyed by document id.
func (w *Writer) upsertWithRetry(ctx context.Context, batch []pending) (map[string]*domain.WriteError, error) {
	docs := make([]engine.Document, len(batch))
	for i := range batch {
		docs[i] = batch[i].doc
	}

	failed, err := w.bulkWithRetry(ctx, docs)
	if err != nil {
		return nil, err
	}
	if len(failed) == 0 {
		return nil, nil
	}

	byID := make(map[string]engine.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	rejected := make(map[string]*domain.WriteError, len(failed))
	for _, f := range failed {
		doc, ok := byID[f.ID]
		if !ok {
			continue
		}
		if last := w.retryItem(ctx, doc, f); last != nil {
			rejected[f.ID] = last
		}
	}
	return rejected, nil
}

// bulkWithRetry retries a failed request as a whole.
func (w *Writer) bulkWithRetry(ctx context.Context, docs []engine.Document) ([]*domain.WriteError, error) {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := w.sleep(ctx, w.cfg.RetryBackoff(attempt)); err != nil {
				return nil, err
			}
		}
		failed, err := w.engine.BulkUpsert(ctx, w.index, docs)
		if err == nil {
			return failed, nil
		}
		lastErr = err
		w.logger.WarnContext(ctx, "bulk request failed",
			slog.Int("attempt", attempt+1),
			slog.Int("documents", len(docs)),
			slog.String("error", err.Error()),
		)
	}
	return nil, fmt.Errorf("bulk upsert of %d documents: %w", len(docs), lastErr)
}

// retryItem re-sends one document up to MaxRetries times. It returns nil
// once the document is written, or the last error.
func (w *Writer) retryItem(ctx context.Context, doc engine.Document, first *domain.WriteError) *domain.WriteError {
	last := first
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		if err := w.sleep(ctx, w.cfg.RetryBackoff(attempt)); err != nil {
			return last
		}
		itemRetries.Inc()

		failed, err := w.engine.BulkUpsert(ctx, w.index, []engine.Document{doc})
		switch {
		case err != nil:
			last = &domain.WriteError{ID: doc.ID, Type: "request_error", Reason: err.Error()}
		case len(failed) == 0:
			return nil
		default:
			last = failed[0]
		}
	}
	return last
}

// LowestUnwritten returns the smallest first line among buffered documents,
// or 0 when the buffer is empty.
func (w *Writer) LowestUnwritten() int64 {
	var lowest int64
	for _, p := range w.buf {
		if p.line > 0 && (lowest == 0 || p.line < lowest) {
			lowest = p.line
		}
	}
	return lowest
}

// Written returns the set of ids written so far, raw and normalized.
func (w *Writer) Written() map[string]struct{} {
	return w.written
}

// Stats returns cumulative indexed and failed counts.
func (w *Writer) Stats() (indexed, failed int64) {
	return w.indexed, w.failed
}

// Pending returns the number of buffered documents.
func (w *Writer) Pending() int {
	return len(w.buf)
}
