package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckpoint_ComputeProgress(t *testing.T) {
	tests := []struct {
		name string
		cp   Checkpoint
		want int
	}{
		{"success is always 100", Checkpoint{Status: CheckpointSuccess, LastProcessedLine: 1, TotalLines: 10}, 100},
		{"ratio rounds", Checkpoint{Status: CheckpointInProgress, LastProcessedLine: 1, TotalLines: 3}, 33},
		{"ratio rounds half up", Checkpoint{Status: CheckpointInProgress, LastProcessedLine: 1, TotalLines: 8}, 13},
		{"clamped above", Checkpoint{Status: CheckpointFailed, LastProcessedLine: 15, TotalLines: 10}, 100},
		{"clamped below", Checkpoint{Status: CheckpointFailed, LastProcessedLine: -5, TotalLines: 10}, 0},
		{"rough half without totals", Checkpoint{Status: CheckpointInProgress, TotalIndexed: 4}, 50},
		{"nothing yet", Checkpoint{Status: CheckpointInProgress}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cp.ComputeProgress())
		})
	}
}

func TestCheckpoint_CloneIsDeep(t *testing.T) {
	now := time.Now()
	cp := NewCheckpoint()
	cp.StartedAt = &now
	cp.FailedItems = append(cp.FailedItems, FailedItem{ID: "1"})

	clone := cp.Clone()
	clone.FailedItems[0].ID = "2"
	*clone.StartedAt = now.Add(time.Hour)

	assert.Equal(t, "1", cp.FailedItems[0].ID)
	assert.Equal(t, now, *cp.StartedAt)
}

func TestRecordExpiry(t *testing.T) {
	now := time.Now()
	rec := CheckpointRecord{ExpiresAt: now.Add(-time.Second)}
	assert.True(t, rec.IsExpired(now))

	lock := Lock{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, lock.IsExpired(now))
}
