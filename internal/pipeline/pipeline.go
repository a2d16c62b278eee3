// Package pipeline runs one indexing pass for a catalog: export, download,
// assemble, write, reconcile, with a lock and a resumable checkpoint around it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/catalog-indexer/internal/assembler"
	"github.com/utafrali/catalog-indexer/internal/checkpoint"
	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/engine"
	"github.com/utafrali/catalog-indexer/internal/reconcile"
	"github.com/utafrali/catalog-indexer/internal/repository"
	"github.com/utafrali/catalog-indexer/internal/writer"
	"github.com/utafrali/catalog-indexer/pkg/tracing"
)

var tracer = otel.Tracer("github.com/utafrali/catalog-indexer/internal/pipeline")

// Exporter produces bulk exports of one shop.
type Exporter interface {
	Submit(ctx context.Context) (string, domain.JobStatus, error)
	PollUntilComplete(ctx context.Context, jobID string) (*domain.ExportJob, error)
	Download(ctx context.Context, url string) (path string, lines int64, err error)
	LatestProductUpdate(ctx context.Context) (time.Time, error)
}

// ExporterFunc returns the exporter for a catalog key.
type ExporterFunc func(key string) (Exporter, error)

// Locker guards a catalog key against concurrent runs. IsLocked releases a
// lock whose run stopped making progress.
type Locker interface {
	IsLocked(ctx context.Context, key string) bool
	Acquire(ctx context.Context, key string) bool
	Release(ctx context.Context, key string) error
}

// Config holds the tuning of every stage.
type Config struct {
	IndexPrefix string
	Writer      writer.Config
	Assembler   assembler.Config
	Checkpoint  checkpoint.Config
	Reconcile   reconcile.Config
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		IndexPrefix: "products_",
		Writer:      writer.DefaultConfig(),
		Assembler:   assembler.DefaultConfig(),
		Checkpoint:  checkpoint.DefaultConfig(),
		Reconcile:   reconcile.DefaultConfig(),
	}
}

// Deps are the collaborators shared by every run.
type Deps struct {
	Engine      engine.SearchEngine
	Locks       Locker
	Checkpoints repository.CheckpointRepository
	Ranks       repository.RankRepository
	Exporters   ExporterFunc
	Filter      domain.FieldFilter
}

// Orchestrator runs indexing passes. It holds no per-run state, so many
// catalogs may run concurrently.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "pipeline")),
		now:    time.Now,
	}
}

// IndexName returns the search index of a catalog.
func (o *Orchestrator) IndexName(key string) string {
	return engine.IndexName(o.cfg.IndexPrefix, key)
}

// Run executes one pass for key. Lock contention is reported through the
// outcome, not as an error. Any other failure persists a failed checkpoint
// before it is returned.
func (o *Orchestrator) Run(ctx context.Context, key string, opts domain.RunOptions) (res *domain.RunResult, err error) {
	start := o.now()
	res = &domain.RunResult{CatalogKey: key, State: domain.RunIdle}

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("catalog.key", key),
		attribute.Bool("run.force", opts.Force),
	))
	defer func() {
		res.Duration = o.now().Sub(start)
		runDuration.Observe(res.Duration.Seconds())
		runsTotal.WithLabelValues(string(res.Outcome)).Inc()
		tracing.End(span, err, attribute.String("run.outcome", string(res.Outcome)))
	}()

	logger := o.logger.With(slog.String("catalog_key", key))

	if o.deps.Locks.IsLocked(ctx, key) || !o.deps.Locks.Acquire(ctx, key) {
		logger.InfoContext(ctx, "catalog is locked by another run")
		res.Outcome = domain.OutcomeLocked
		return res, nil
	}
	res.State = domain.RunLocked
	activeRuns.Inc()
	defer func() {
		activeRuns.Dec()
		if rerr := o.deps.Locks.Release(context.WithoutCancel(ctx), key); rerr != nil {
			logger.ErrorContext(ctx, "failed to release lock", slog.String("error", rerr.Error()))
		}
	}()

	r := &run{
		o:      o,
		key:    key,
		index:  o.IndexName(key),
		opts:   opts,
		logger: logger,
		res:    res,
		store:  checkpoint.NewStore(o.deps.Checkpoints, o.deps.Engine, key, o.cfg.Checkpoint, logger),
	}
	defer r.store.Close()

	if err := r.execute(ctx); err != nil {
		r.fail(ctx, err)
		res.Outcome = domain.OutcomeFailed
		res.Error = err.Error()
		return res, err
	}
	return res, nil
}

// run is the state of one pass.
type run struct {
	o      *Orchestrator
	key    string
	index  string
	opts   domain.RunOptions
	logger *slog.Logger
	res    *domain.RunResult
	store  *checkpoint.Store

	exporter    Exporter
	asm         *assembler.Assembler
	loaded      bool
	baseIndexed int64
	sourceAt    time.Time
}

func (r *run) execute(ctx context.Context) error {
	exporter, err := r.o.deps.Exporters(r.key)
	if err != nil {
		return fmt.Errorf("create exporter: %w", err)
	}
	r.exporter = exporter

	created, err := r.o.deps.Engine.EnsureIndex(ctx, r.index)
	if err != nil {
		return fmt.Errorf("ensure index %s: %w", r.index, err)
	}
	if created {
		r.logger.InfoContext(ctx, "created search index", slog.String("index", r.index))
	}

	upToDate, err := r.loadCheckpoint(ctx, created)
	if err != nil || upToDate {
		return err
	}

	r.setState(ctx, domain.RunExporting)
	jobID, status, err := r.exporter.Submit(ctx)
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "export submitted", slog.String("job_id", jobID), slog.String("status", string(status)))

	r.setState(ctx, domain.RunPolling)
	job, err := r.exporter.PollUntilComplete(ctx, jobID)
	if err != nil {
		return err
	}
	if job.URL == "" {
		r.logger.InfoContext(ctx, "export is empty", slog.String("job_id", jobID))
		return r.finalize(ctx, 0)
	}

	r.setState(ctx, domain.RunDownloading)
	path, lines, err := r.exporter.Download(ctx, job.URL)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			r.logger.WarnContext(ctx, "failed to remove export file", slog.String("path", path), slog.String("error", rerr.Error()))
		}
	}()
	r.res.Lines = lines
	r.store.Update(func(cp *domain.Checkpoint) { cp.TotalLines = lines })

	r.setState(ctx, domain.RunStreaming)
	w, err := r.stream(ctx, path)
	if err != nil {
		return err
	}

	r.setState(ctx, domain.RunReconciling)
	if len(w.Written()) == 0 && !r.res.Resumed {
		r.logger.WarnContext(ctx, "no documents written, skipping reconcile",
			slog.Int64("failed", r.res.Failed),
		)
		return r.finalize(ctx, lines)
	}
	keep := make(map[string]struct{}, len(w.Written())+len(r.asm.Seen()))
	for id := range w.Written() {
		keep[id] = struct{}{}
	}
	for id := range r.asm.Seen() {
		keep[id] = struct{}{}
	}
	rec := reconcile.New(r.o.deps.Engine, r.o.cfg.Reconcile, r.logger)
	deleted, err := rec.Reconcile(ctx, r.index, keep)
	if err != nil {
		return err
	}
	r.res.Deleted = deleted

	return r.finalize(ctx, lines)
}

// loadCheckpoint decides where the run starts. It reports true when the
// catalog is already up to date.
func (r *run) loadCheckpoint(ctx context.Context, indexCreated bool) (bool, error) {
	decision := r.store.LoadCheckpoint(ctx, r.index)
	if decision.ShouldUse && indexCreated {
		// The record describes documents that no longer exist.
		r.store.Reset()
		decision.ShouldUse = false
		decision.Reason = checkpoint.ReasonIndexDeleted
	}
	r.res.State = domain.RunCheckpointLoaded
	r.loaded = true

	latest, err := r.exporter.LatestProductUpdate(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "upstream freshness check failed", slog.String("error", err.Error()))
	} else {
		r.sourceAt = latest
	}

	cp := decision.Checkpoint
	switch {
	case r.opts.Force:
		r.store.Reset()
	case decision.ShouldUse && cp.Status == domain.CheckpointSuccess:
		if err == nil && cp.LastSourceUpdatedAt != nil && !latest.After(*cp.LastSourceUpdatedAt) {
			r.logger.InfoContext(ctx, "catalog is up to date",
				slog.Time("source_updated_at", *cp.LastSourceUpdatedAt))
			r.res.Outcome = domain.OutcomeUpToDate
			r.res.State = domain.RunFinalized
			return true, nil
		}
		r.store.Reset()
	case decision.ShouldUse:
		r.res.Resumed = true
		r.res.StartLine = cp.LastProcessedLine
		r.baseIndexed = cp.TotalIndexed
	}

	now := r.o.now()
	r.store.Update(func(cp *domain.Checkpoint) {
		cp.Status = domain.CheckpointInProgress
		cp.Error = ""
		cp.CompletedAt = nil
		if cp.StartedAt == nil || !r.res.Resumed {
			cp.StartedAt = &now
		}
	})

	r.logger.InfoContext(ctx, "checkpoint loaded",
		slog.String("reason", string(decision.Reason)),
		slog.Bool("resumed", r.res.Resumed),
		slog.Int64("start_line", r.res.StartLine),
		slog.Bool("force", r.opts.Force),
	)
	return false, nil
}

func (r *run) stream(ctx context.Context, path string) (*writer.Writer, error) {
	ctx, span := tracer.Start(ctx, "pipeline.stream")
	var err error
	defer func() { tracing.End(span, err) }()

	ranks, rerr := r.o.deps.Ranks.Ranks(ctx, r.key)
	if rerr != nil {
		r.logger.WarnContext(ctx, "rank lookup failed, indexing without ranks", slog.String("error", rerr.Error()))
	}

	w := writer.New(r.o.deps.Engine, r.index, r.o.deps.Filter, r.o.cfg.Writer, r.logger, r.onBatch)
	r.asm = assembler.New(r.o.cfg.Assembler, w, r.o.deps.Engine, r.index, ranks, r.logger)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	defer f.Close()

	stats, err := r.asm.Process(ctx, f, r.res.StartLine)
	if err != nil {
		return nil, err
	}
	linesProcessed.Add(float64(stats.Lines - stats.Skipped))

	if err = r.asm.ApplyOrphans(ctx); err != nil {
		return nil, err
	}
	final := r.asm.Stats()
	r.res.Patched = int64(final.Patched)

	indexed, failed := w.Stats()
	r.res.Indexed = indexed
	r.res.Failed = failed
	r.logger.InfoContext(ctx, "stream complete",
		slog.Int64("lines", stats.Lines),
		slog.Int64("skipped", stats.Skipped),
		slog.Int64("malformed", stats.Malformed),
		slog.Int64("products", stats.Products),
		slog.Int64("duplicates", stats.Duplicates),
		slog.Int64("indexed", indexed),
		slog.Int64("failed", failed),
		slog.Int("orphans_patched", final.Patched),
		slog.Int("orphans_missing", final.NotFound),
	)
	return w, nil
}

// onBatch folds a writer batch into the checkpoint.
func (r *run) onBatch(_ context.Context, b writer.BatchResult) {
	r.store.ClearFailures(b.Written)
	for _, item := range b.Failures {
		r.store.RecordFailure(item)
	}
	safe := r.asm.SafeLine()
	r.store.Update(func(cp *domain.Checkpoint) {
		cp.TotalIndexed = r.baseIndexed + b.TotalIndexed
		if safe > cp.LastProcessedLine {
			cp.LastProcessedLine = safe
		}
	})
}

func (r *run) finalize(ctx context.Context, lines int64) error {
	now := r.o.now()
	r.store.Update(func(cp *domain.Checkpoint) {
		cp.Status = domain.CheckpointSuccess
		cp.LastProcessedLine = lines
		cp.TotalLines = lines
		cp.CompletedAt = &now
		cp.Error = ""
		exists := true
		cp.IndexExists = &exists
		if !r.sourceAt.IsZero() {
			at := r.sourceAt
			cp.LastSourceUpdatedAt = &at
		}
	})
	if err := r.store.ForceSave(ctx); err != nil {
		r.logger.ErrorContext(ctx, "failed to save final checkpoint", slog.String("error", err.Error()))
	}

	r.res.Outcome = domain.OutcomeSuccess
	r.res.State = domain.RunFinalized
	r.logger.InfoContext(ctx, "indexing run complete",
		slog.Int64("lines", r.res.Lines),
		slog.Int64("indexed", r.res.Indexed),
		slog.Int64("failed", r.res.Failed),
		slog.Int64("deleted", r.res.Deleted),
	)
	return nil
}

// fail persists a failed checkpoint at the last safe line. Failures before
// the checkpoint was loaded leave the stored record untouched.
func (r *run) fail(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	if !r.loaded {
		r.logger.ErrorContext(ctx, "indexing run failed before start", slog.String("error", cause.Error()))
		return
	}
	var safe int64
	if r.asm != nil {
		safe = r.asm.SafeLine()
	}
	r.store.Update(func(cp *domain.Checkpoint) {
		cp.Status = domain.CheckpointFailed
		cp.Error = cause.Error()
		if safe > cp.LastProcessedLine {
			cp.LastProcessedLine = safe
		}
	})
	if err := r.store.ForceSave(ctx); err != nil {
		r.logger.ErrorContext(ctx, "failed to save failed checkpoint", slog.String("error", err.Error()))
	}
	r.logger.ErrorContext(ctx, "indexing run failed",
		slog.String("state", string(r.res.State)),
		slog.Int64("safe_line", safe),
		slog.String("error", cause.Error()),
	)
}

func (r *run) setState(ctx context.Context, state domain.RunState) {
	r.res.State = state
	r.logger.DebugContext(ctx, "run state", slog.String("state", string(state)))
}
