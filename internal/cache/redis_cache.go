package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dokonpos/internal/domain"
)

type RedisOutcomeCache struct {
	client *redis.Client
}

func NewRedisOutcomeCache(addr string, password string, db int) *RedisOutcomeCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisOutcomeCache{client: client}
}

func (c *RedisOutcomeCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisOutcomeCache) Close() error {
	return c.client.Close()
}

func (c *RedisOutcomeCache) Get(ctx context.Context, idempotencyKey string) (*domain.SaleOutcome, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(idempotencyKey)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var outcome domain.SaleOutcome
	if err := json.Unmarshal([]byte(val), &outcome); err != nil {
		return nil, false, err
	}
	return &outcome, true, nil
}

func (c *RedisOutcomeCache) Set(ctx context.Context, idempotencyKey string, outcome *domain.SaleOutcome, ttl time.Duration) error {
	if outcome == nil {
		return nil
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(idempotencyKey), payload, ttl).Err()
}

func cacheKey(idempotencyKey string) string {
	return "sale-outcome:" + idempotencyKey
}
