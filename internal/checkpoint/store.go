// Package checkpoint keeps the progress record of an indexing run in memory
// and synchronizes it to durable storage with debounced and periodic saves.
package checkpoint

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/repository"
	apperrors "github.com/utafrali/catalog-indexer/pkg/errors"
)

// saveTimeout bounds a timer-triggered save.
const saveTimeout = 10 * time.Second

// Reason explains a LoadCheckpoint decision.
type Reason string

const (
	ReasonDisabled         Reason = "checkpoint_disabled"
	ReasonNotFound         Reason = "not_found"
	ReasonLoadFailed       Reason = "load_failed"
	ReasonExpired          Reason = "checkpoint_expired"
	ReasonIndexDeleted     Reason = "index_deleted"
	ReasonResumeFailed     Reason = "resume_failed"
	ReasonPreviousSuccess  Reason = "previous_success"
	ReasonResumeInProgress Reason = "resume_in_progress"
)

// Config tunes persistence.
type Config struct {
	Enabled       bool
	Debounce      time.Duration
	FlushInterval time.Duration
	TTL           time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Debounce:      2 * time.Second,
		FlushInterval: 10 * time.Second,
		TTL:           domain.CheckpointTTL,
	}
}

// IndexProber reports whether a search index exists.
type IndexProber interface {
	IndexExists(ctx context.Context, index string) (bool, error)
}

// Decision is the result of LoadCheckpoint.
type Decision struct {
	Checkpoint domain.Checkpoint
	ShouldUse  bool
	Reason     Reason
	UpdatedAt  time.Time
}

// Store owns the checkpoint of one run for one catalog key. It is safe for
// concurrent use; its timers run on their own goroutines.
type Store struct {
	repo   repository.CheckpointRepository
	index  IndexProber
	key    string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	saveMu sync.Mutex // serializes writes so an older snapshot never lands last

	mu           sync.Mutex
	cp           domain.Checkpoint
	checkpointID string
	dirty        bool
	closed       bool
	gen          uint64 // bumped to invalidate armed timers
	debounce     *time.Timer
	periodic     *time.Timer
}

// NewStore creates a store for key with a default in-memory checkpoint.
func NewStore(repo repository.CheckpointRepository, index IndexProber, key string, cfg Config, logger *slog.Logger) *Store {
	return &Store{
		repo:         repo,
		index:        index,
		key:          key,
		cfg:          cfg,
		logger:       logger.With(slog.String("catalog_key", key)),
		now:          time.Now,
		cp:           domain.NewCheckpoint(),
		checkpointID: uuid.NewString(),
	}
}

// LoadCheckpoint reads the persisted record and decides whether the run may
// resume from it. When the decision is to use it, the record becomes the
// in-memory checkpoint; otherwise memory is reset to defaults.
func (s *Store) LoadCheckpoint(ctx context.Context, indexName string) Decision {
	d := s.evaluate(ctx, indexName)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !d.ShouldUse {
		s.resetLocked()
		return d
	}
	s.cp = d.Checkpoint.Clone()
	s.cp.Progress = s.cp.ComputeProgress()
	return d
}

func (s *Store) evaluate(ctx context.Context, indexName string) Decision {
	if !s.cfg.Enabled {
		return Decision{Checkpoint: domain.NewCheckpoint(), Reason: ReasonDisabled}
	}

	rec, err := s.repo.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return Decision{Checkpoint: domain.NewCheckpoint(), Reason: ReasonNotFound}
		}
		s.logger.WarnContext(ctx, "failed to load checkpoint, starting from scratch",
			slog.String("error", err.Error()),
		)
		return Decision{Checkpoint: domain.NewCheckpoint(), Reason: ReasonLoadFailed}
	}

	d := Decision{Checkpoint: rec.Data, UpdatedAt: rec.UpdatedAt}

	if rec.IsExpired(s.now()) {
		if err := s.repo.Delete(ctx, s.key); err != nil {
			s.logger.WarnContext(ctx, "failed to delete expired checkpoint",
				slog.String("error", err.Error()),
			)
		}
		d.Reason = ReasonExpired
		return d
	}

	if !s.indexExists(ctx, indexName) {
		d.Reason = ReasonIndexDeleted
		return d
	}

	s.checkpointIDFrom(rec)
	d.ShouldUse = true
	switch rec.Data.Status {
	case domain.CheckpointFailed:
		d.Reason = ReasonResumeFailed
	case domain.CheckpointSuccess:
		d.Reason = ReasonPreviousSuccess
	default:
		d.Reason = ReasonResumeInProgress
	}
	return d
}

func (s *Store) indexExists(ctx context.Context, indexName string) bool {
	if s.index == nil {
		return true
	}
	exists, err := s.index.IndexExists(ctx, indexName)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to probe index, not resuming",
			slog.String("index", indexName),
			slog.String("error", err.Error()),
		)
		return false
	}
	return exists
}

func (s *Store) checkpointIDFrom(rec *domain.CheckpointRecord) {
	if rec.CheckpointID == "" {
		return
	}
	s.mu.Lock()
	s.checkpointID = rec.CheckpointID
	s.mu.Unlock()
}

// Update applies fn to the in-memory checkpoint, recomputes progress and
// schedules a debounced save. It also arms the periodic flush.
func (s *Store) Update(fn func(cp *domain.Checkpoint)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.cp)
	s.cp.Progress = s.cp.ComputeProgress()
	s.dirty = true

	if !s.cfg.Enabled || s.closed {
		return
	}
	s.armDebounceLocked()
	s.armPeriodicLocked()
}

// RecordFailure adds or replaces the failed item with the same id.
func (s *Store) RecordFailure(item domain.FailedItem) {
	s.Update(func(cp *domain.Checkpoint) {
		for i := range cp.FailedItems {
			if cp.FailedItems[i].ID == item.ID {
				cp.FailedItems[i] = item
				cp.TotalFailed = int64(len(cp.FailedItems))
				return
			}
		}
		cp.FailedItems = append(cp.FailedItems, item)
		cp.TotalFailed = int64(len(cp.FailedItems))
	})
}

// ClearFailures drops failed items whose id, raw or normalized, is in ids.
func (s *Store) ClearFailures(ids map[string]struct{}) {
	s.mu.Lock()
	pending := len(s.cp.FailedItems)
	s.mu.Unlock()
	if pending == 0 || len(ids) == 0 {
		return
	}

	s.Update(func(cp *domain.Checkpoint) {
		kept := cp.FailedItems[:0]
		for _, item := range cp.FailedItems {
			if _, ok := ids[item.ID]; ok {
				continue
			}
			if _, ok := ids[domain.NormalizeID(item.ID)]; ok {
				continue
			}
			kept = append(kept, item)
		}
		cp.FailedItems = kept
		cp.TotalFailed = int64(len(kept))
	})
}

// Snapshot returns a copy of the in-memory checkpoint.
func (s *Store) Snapshot() domain.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cp.Clone()
}

// CheckpointID returns the id persisted with the record.
func (s *Store) CheckpointID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointID
}

// Reset discards the in-memory checkpoint without touching storage.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Store) resetLocked() {
	s.cp = domain.NewCheckpoint()
	s.checkpointID = uuid.NewString()
	s.dirty = false
}

// ForceSave cancels pending timers and persists synchronously. A terminal
// status stops the periodic flush for good; otherwise it is re-armed.
func (s *Store) ForceSave(ctx context.Context) error {
	s.mu.Lock()
	s.stopTimersLocked()
	enabled := s.cfg.Enabled
	s.mu.Unlock()

	if !enabled {
		return nil
	}
	err := s.persist(ctx, true)

	s.mu.Lock()
	if !s.closed {
		s.armPeriodicLocked()
	}
	s.mu.Unlock()
	return err
}

// ClearCheckpoint deletes the persisted record and resets memory.
func (s *Store) ClearCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	s.stopTimersLocked()
	s.resetLocked()
	s.mu.Unlock()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.repo.Delete(ctx, s.key)
}

// Close stops timers without saving.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimersLocked()
}

func (s *Store) stopTimersLocked() {
	s.gen++
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.periodic != nil {
		s.periodic.Stop()
		s.periodic = nil
	}
}

func (s *Store) armDebounceLocked() {
	if s.debounce != nil {
		s.debounce.Stop()
	}
	gen := s.gen
	s.debounce = time.AfterFunc(s.cfg.Debounce, func() { s.onDebounce(gen) })
}

func (s *Store) armPeriodicLocked() {
	if s.periodic != nil || s.cp.Status.IsTerminal() {
		return
	}
	gen := s.gen
	s.periodic = time.AfterFunc(s.cfg.FlushInterval, func() { s.onPeriodic(gen) })
}

func (s *Store) onDebounce(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.debounce = nil
	s.mu.Unlock()

	s.timedPersist("debounce", false)
}

func (s *Store) onPeriodic(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.periodic = nil
	// A non-terminal record is rewritten even when clean; lock staleness is
	// judged by its UpdatedAt.
	heartbeat := !s.cp.Status.IsTerminal()
	s.mu.Unlock()

	s.timedPersist("periodic", heartbeat)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen && !s.closed {
		s.armPeriodicLocked()
	}
}

func (s *Store) timedPersist(trigger string, force bool) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.persist(ctx, force); err != nil {
		s.logger.Warn("checkpoint save failed",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
	}
}

// persist writes the current snapshot. Unless force is set, a clean
// checkpoint is not written again.
func (s *Store) persist(ctx context.Context, force bool) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if !force && !s.dirty {
		s.mu.Unlock()
		return nil
	}
	now := s.now().UTC()
	rec := &domain.CheckpointRecord{
		CatalogKey:   s.key,
		CheckpointID: s.checkpointID,
		Data:         s.cp.Clone(),
		UpdatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.TTL),
	}
	s.dirty = false
	s.mu.Unlock()

	start := time.Now()
	err := s.repo.Save(ctx, rec)
	saveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		saveErrors.Inc()
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	saves.Inc()
	return nil
}
