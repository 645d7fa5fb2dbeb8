package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/health-risk-engine/internal/domain"
)

// NarrativeCache stores generated narratives keyed by prompt.
type NarrativeCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, text string, ttl time.Duration) error
}

// NarrativeKey derives the cache key for a model and prompt pair.
func NarrativeKey(model, prompt string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + prompt))
	return "narrative:" + hex.EncodeToString(sum[:])
}

// CacheClient wraps a Redis client for narrative caching
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// CachedNarrative is the stored envelope
type CachedNarrative struct {
	Data      string    `json:"data"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewCacheClient creates a new cache client and checks the connection
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewCacheClientFromRedis(client, config.DefaultTTL), nil
}

// NewCacheClientFromRedis wraps an existing client
func NewCacheClientFromRedis(client *redis.Client, defaultTTL time.Duration) *CacheClient {
	if defaultTTL <= 0 {
		defaultTTL = 6 * time.Hour
	}
	return &CacheClient{redis: client, defaultTTL: defaultTTL}
}

// Get retrieves a cached narrative
func (c *CacheClient) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get narrative cache: %w", err)
	}

	var cached CachedNarrative
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Corrupted entry
		c.redis.Del(ctx, key)
		return "", false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return "", false, nil
	}

	return cached.Data, true, nil
}

// Set caches a narrative. A zero ttl uses the default.
func (c *CacheClient) Set(ctx context.Context, key, text string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	jsonData, err := json.Marshal(CachedNarrative{
		Data:      text,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal narrative cache data: %w", err)
	}

	return c.redis.Set(ctx, key, jsonData, ttl).Err()
}

// Ping checks the Redis connection
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.redis.Close()
}
