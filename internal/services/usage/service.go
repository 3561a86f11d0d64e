// Package usage keeps the per-emote usage ledger used to rank popularity.
package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/pkg/database"
)

// Service stores counts in a sorted set, one member per emote name.
// Counts only ever go up.
type Service struct {
	redis *redis.Client
	key   string
}

func NewService(client *redis.Client) *Service {
	return &Service{redis: client, key: database.KeyUsageLedger}
}

// Increment adds one use to every name.
func (s *Service) Increment(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	pipe := s.redis.Pipeline()
	for _, name := range names {
		pipe.ZIncrBy(ctx, s.key, 1, name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

// Top returns up to n names with at least one use, most used first.
func (s *Service) Top(ctx context.Context, n int) ([]models.UsageCount, error) {
	if n <= 0 {
		return nil, nil
	}

	results, err := s.redis.ZRangeArgsWithScores(ctx, redis.ZRangeArgs{
		Key:     s.key,
		Start:   "(0",
		Stop:    "+inf",
		ByScore: true,
		Rev:     true,
		Count:   int64(n),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read usage ranking: %w", err)
	}

	top := make([]models.UsageCount, 0, len(results))
	for _, z := range results {
		name, ok := z.Member.(string)
		if !ok {
			continue
		}
		top = append(top, models.UsageCount{Name: name, Uses: int64(z.Score)})
	}
	return top, nil
}

// Get returns the use count of name, zero when it was never used.
func (s *Service) Get(ctx context.Context, name string) (int64, error) {
	score, err := s.redis.ZScore(ctx, s.key, name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return int64(score), nil
}
