package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/config"
	"github.com/yokitheyo/batchflow/internal/domain"
)

const keyPrefix = "batch:"

// RedisBatchCache stores completed batches as JSON. Completed batches never
// change, so entries are only ever written once and expire by TTL.
type RedisBatchCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBatchCache(ctx context.Context, cfg *config.CacheConfig) (*RedisBatchCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	zlog.Logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Int("ttl_sec", cfg.TTLSec).
		Msg("Redis cache connected")

	return NewRedisBatchCacheWithClient(client, time.Duration(cfg.TTLSec)*time.Second), nil
}

func NewRedisBatchCacheWithClient(client *redis.Client, ttl time.Duration) *RedisBatchCache {
	return &RedisBatchCache{client: client, ttl: ttl}
}

// Get returns nil, nil on a miss.
func (c *RedisBatchCache) Get(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	data, err := c.client.Get(ctx, keyPrefix+id.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get batch %s: %w", id, err)
	}

	var batch domain.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("unmarshal cached batch %s: %w", id, err)
	}
	return &batch, nil
}

func (c *RedisBatchCache) Set(ctx context.Context, batch *domain.Batch) error {
	if !batch.IsCompleted() {
		return nil
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch %s: %w", batch.ID, err)
	}
	if err := c.client.Set(ctx, keyPrefix+batch.ID.String(), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set batch %s: %w", batch.ID, err)
	}
	return nil
}

func (c *RedisBatchCache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("redis close failed: %w", err)
	}
	zlog.Logger.Info().Msg("Redis cache closed")
	return nil
}
