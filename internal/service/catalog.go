package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/repository"
	apperrors "github.com/utafrali/catalog-indexer/pkg/errors"
	"github.com/utafrali/catalog-indexer/pkg/logger"
)

// Runner executes one indexing run for a catalog.
type Runner interface {
	Run(ctx context.Context, key string, opts domain.RunOptions) (*domain.RunResult, error)
	IndexName(key string) string
}

// LockChecker reports whether a live run holds the catalog lock.
type LockChecker interface {
	IsLocked(ctx context.Context, key string) bool
}

// CatalogStatus is the operational view of one catalog.
type CatalogStatus struct {
	CatalogKey string                   `json:"catalogKey"`
	Index      string                   `json:"index"`
	Locked     bool                     `json:"locked"`
	Pending    bool                     `json:"pending"`
	Checkpoint *domain.CheckpointRecord `json:"checkpoint,omitempty"`
}

// CatalogService exposes checkpoint inspection and manual sync triggers.
type CatalogService struct {
	checkpoints repository.CheckpointRepository
	locks       LockChecker
	runner      Runner
	logger      *slog.Logger

	base    context.Context
	wg      sync.WaitGroup
	mu      sync.Mutex
	pending map[string]struct{}
}

// NewCatalogService creates a catalog service. Background runs started by
// TriggerSync derive from base, so cancelling base stops them.
func NewCatalogService(
	base context.Context,
	checkpoints repository.CheckpointRepository,
	locks LockChecker,
	runner Runner,
	logger *slog.Logger,
) *CatalogService {
	return &CatalogService{
		checkpoints: checkpoints,
		locks:       locks,
		runner:      runner,
		logger:      logger,
		base:        base,
		pending:     make(map[string]struct{}),
	}
}

// Status returns the lock state and stored checkpoint of key.
func (s *CatalogService) Status(ctx context.Context, key string) (*CatalogStatus, error) {
	st := &CatalogStatus{
		CatalogKey: key,
		Index:      s.runner.IndexName(key),
		Locked:     s.locks.IsLocked(ctx, key),
		Pending:    s.isPending(key),
	}

	rec, err := s.checkpoints.Get(ctx, key)
	switch {
	case err == nil:
		st.Checkpoint = rec
	case errors.Is(err, apperrors.ErrNotFound):
	default:
		return nil, fmt.Errorf("get checkpoint %s: %w", key, err)
	}
	return st, nil
}

// Failures returns the failed items recorded by the last run of key.
func (s *CatalogService) Failures(ctx context.Context, key string) ([]domain.FailedItem, error) {
	rec, err := s.checkpoints.Get(ctx, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("checkpoint", key)
		}
		return nil, fmt.Errorf("get checkpoint %s: %w", key, err)
	}
	return rec.Data.FailedItems, nil
}

// ClearCheckpoint deletes the stored checkpoint so the next run starts from
// line zero. It refuses while a run holds the lock.
func (s *CatalogService) ClearCheckpoint(ctx context.Context, key string) error {
	if s.isPending(key) || s.locks.IsLocked(ctx, key) {
		return apperrors.Conflict(fmt.Sprintf("catalog %s is being indexed", key))
	}
	if err := s.checkpoints.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", key, err)
	}
	s.logger.InfoContext(ctx, "checkpoint cleared", slog.String("catalog_key", key))
	return nil
}

// TriggerSync starts a run for key in the background. A catalog that is
// locked or already has a triggered run pending yields a conflict.
func (s *CatalogService) TriggerSync(ctx context.Context, key string, force bool) error {
	if s.locks.IsLocked(ctx, key) {
		return apperrors.Conflict(fmt.Sprintf("catalog %s is being indexed", key))
	}

	s.mu.Lock()
	if _, ok := s.pending[key]; ok {
		s.mu.Unlock()
		return apperrors.Conflict(fmt.Sprintf("catalog %s sync already triggered", key))
	}
	s.pending[key] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.clearPending(key)

		runCtx := logger.WithCatalogKey(s.base, key)
		res, err := s.runner.Run(runCtx, key, domain.RunOptions{Force: force})
		if err != nil {
			s.logger.ErrorContext(runCtx, "triggered sync failed",
				slog.String("catalog_key", key),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.InfoContext(runCtx, "triggered sync finished",
			slog.String("catalog_key", key),
			slog.String("outcome", string(res.Outcome)),
			slog.Int64("indexed", res.Indexed),
		)
	}()

	s.logger.InfoContext(ctx, "sync triggered",
		slog.String("catalog_key", key),
		slog.Bool("force", force),
	)
	return nil
}

// Wait blocks until every triggered run has returned.
func (s *CatalogService) Wait() {
	s.wg.Wait()
}

func (s *CatalogService) isPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

func (s *CatalogService) clearPending(key string) {
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
}
