package domain

import (
	"math"
	"time"
)

// CheckpointStatus is the lifecycle status of an indexing checkpoint.
type CheckpointStatus string

const (
	CheckpointInProgress CheckpointStatus = "in_progress"
	CheckpointSuccess    CheckpointStatus = "success"
	CheckpointFailed     CheckpointStatus = "failed"
)

// IsTerminal reports whether the status ends a run.
func (s CheckpointStatus) IsTerminal() bool {
	return s == CheckpointSuccess || s == CheckpointFailed
}

// CheckpointTTL is how long a persisted checkpoint remains usable.
const CheckpointTTL = 24 * time.Hour

// FailedItem is a document that could not be written after all retries.
type FailedItem struct {
	ID         string `json:"id"`
	Line       int64  `json:"line"`
	Error      string `json:"error"`
	RetryCount int    `json:"retryCount"`
}

// Checkpoint is the progress record of an indexing run for one catalog.
type Checkpoint struct {
	LastProcessedLine   int64            `json:"lastProcessedLine"`
	Status              CheckpointStatus `json:"status"`
	TotalLines          int64            `json:"totalLines,omitempty"`
	TotalIndexed        int64            `json:"totalIndexed"`
	TotalFailed         int64            `json:"totalFailed"`
	FailedItems         []FailedItem     `json:"failedItems"`
	StartedAt           *time.Time       `json:"startedAt,omitempty"`
	CompletedAt         *time.Time       `json:"completedAt,omitempty"`
	Error               string           `json:"error,omitempty"`
	LastSourceUpdatedAt *time.Time       `json:"lastSourceUpdatedAt,omitempty"`
	IndexExists         *bool            `json:"indexExists,omitempty"`
	Progress            int              `json:"progress"`
}

// NewCheckpoint returns the default in-memory checkpoint.
func NewCheckpoint() Checkpoint {
	return Checkpoint{
		Status:      CheckpointInProgress,
		FailedItems: []FailedItem{},
	}
}

// ComputeProgress returns the completion percentage derived from the
// checkpoint counters.
func (c *Checkpoint) ComputeProgress() int {
	if c.Status == CheckpointSuccess {
		return 100
	}
	if c.TotalLines > 0 {
		p := int(math.Round(float64(c.LastProcessedLine) / float64(c.TotalLines) * 100))
		return max(0, min(100, p))
	}
	if c.TotalIndexed > 0 {
		return 50
	}
	return 0
}

// Clone returns a deep copy of the checkpoint.
func (c *Checkpoint) Clone() Checkpoint {
	cp := *c
	cp.FailedItems = append([]FailedItem(nil), c.FailedItems...)
	if cp.FailedItems == nil {
		cp.FailedItems = []FailedItem{}
	}
	cp.StartedAt = cloneTime(c.StartedAt)
	cp.CompletedAt = cloneTime(c.CompletedAt)
	cp.LastSourceUpdatedAt = cloneTime(c.LastSourceUpdatedAt)
	if c.IndexExists != nil {
		v := *c.IndexExists
		cp.IndexExists = &v
	}
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CheckpointRecord is the persisted form of a checkpoint.
type CheckpointRecord struct {
	CatalogKey   string     `json:"catalogKey"`
	CheckpointID string     `json:"checkpointId"`
	Data         Checkpoint `json:"data"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	ExpiresAt    time.Time  `json:"expiresAt"`
}

// IsExpired reports whether the record's TTL has elapsed at now.
func (r *CheckpointRecord) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
