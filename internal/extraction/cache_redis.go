package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bidboard/backend/internal/metrics"
	"github.com/bidboard/backend/pkg/logger"
)

// RedisCache shares extraction results across processes. No TTL: entries are
// content-addressed and immutable for a given fingerprint, so they never go
// stale.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(host string, port int, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis extraction cache initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, text string) (*Result, bool, error) {
	key := Fingerprint(text)

	data, err := c.client.Get(ctx, "extraction:"+key).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get extraction cache: %w", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached extraction: %w", err)
	}

	if !result.HasUsefulContent() {
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, false, nil
	}

	metrics.CacheHits.WithLabelValues("redis").Inc()
	logger.Debug("Extraction cache hit", zap.String("fingerprint", key))
	return &result, true, nil
}

func (c *RedisCache) Set(ctx context.Context, text string, result *Result) error {
	if !result.HasUsefulContent() {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction result: %w", err)
	}

	key := Fingerprint(text)
	if err := c.client.Set(ctx, "extraction:"+key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set extraction cache: %w", err)
	}

	logger.Debug("Extraction cached", zap.String("fingerprint", key))
	return nil
}
