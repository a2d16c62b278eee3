package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/catalog-indexer/internal/domain"
)

// RankRepository reads best-seller ranks from a Redis hash per catalog.
// Fields are product ids (gid or numeric), values are integer ranks.
type RankRepository struct {
	client redis.UniversalClient
}

// NewRankRepository creates a Redis-backed rank repository.
func NewRankRepository(client redis.UniversalClient) *RankRepository {
	return &RankRepository{client: client}
}

// Ranks returns normalized product id -> rank. Unparseable values are skipped.
func (r *RankRepository) Ranks(ctx context.Context, key string) (map[string]int, error) {
	raw, err := r.client.HGetAll(ctx, ranksKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall ranks: %w", err)
	}

	ranks := make(map[string]int, len(raw))
	for id, v := range raw {
		rank, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		ranks[domain.NormalizeID(id)] = rank
	}
	return ranks, nil
}
