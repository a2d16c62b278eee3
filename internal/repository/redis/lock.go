package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/catalog-indexer/internal/domain"
	apperrors "github.com/utafrali/catalog-indexer/pkg/errors"
)

// deleteIfOwner deletes KEYS[1] only when its JSON carries lockId ARGV[1].
var deleteIfOwner = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
if string.find(raw, '"lockId":"' .. ARGV[1] .. '"', 1, true) then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// lockRecord is the JSON stored under the lock key.
type lockRecord struct {
	CatalogKey string    `json:"catalogKey"`
	LockID     string    `json:"lockId"`
	StartedAt  time.Time `json:"startedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// LockRepository implements repository.LockRepository using Redis.
type LockRepository struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewLockRepository creates a Redis-backed lock repository.
func NewLockRepository(client redis.UniversalClient) *LockRepository {
	return &LockRepository{client: client, now: time.Now}
}

// Create stores the lock with SET NX. The Redis key expires with the lock.
func (r *LockRepository) Create(ctx context.Context, lock *domain.Lock) (bool, error) {
	data, err := json.Marshal(lockRecord{
		CatalogKey: lock.CatalogKey,
		LockID:     lock.LockID,
		StartedAt:  lock.StartedAt,
		ExpiresAt:  lock.ExpiresAt,
	})
	if err != nil {
		return false, fmt.Errorf("marshal lock: %w", err)
	}

	ttl := lock.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := r.client.SetNX(ctx, lockKey(lock.CatalogKey), data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx lock: %w", err)
	}
	return ok, nil
}

// Get returns the lock for key.
func (r *LockRepository) Get(ctx context.Context, key string) (*domain.Lock, error) {
	data, err := r.client.Get(ctx, lockKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("lock", key)
		}
		return nil, fmt.Errorf("redis get lock: %w", err)
	}

	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal lock: %w", err)
	}
	return &domain.Lock{
		CatalogKey: rec.CatalogKey,
		LockID:     rec.LockID,
		StartedAt:  rec.StartedAt,
		ExpiresAt:  rec.ExpiresAt,
	}, nil
}

// Delete removes the lock for key.
func (r *LockRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, lockKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del lock: %w", err)
	}
	return nil
}

// DeleteIfOwner removes the lock only while it still belongs to lockID.
func (r *LockRepository) DeleteIfOwner(ctx context.Context, key, lockID string) (bool, error) {
	n, err := deleteIfOwner.Run(ctx, r.client, []string{lockKey(key)}, lockID).Int()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete lock: %w", err)
	}
	return n == 1, nil
}
