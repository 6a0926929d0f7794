package prediction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/heartrisk-server/internal/domain"
)

const (
	keyPrefix          = "heartrisk:prediction:"
	defaultTTL         = time.Hour
	defaultMemoryItems = 1000
)

// CachedPrediction represents a cached prediction with metadata
type CachedPrediction struct {
	Data      *Prediction `json:"data"`
	CachedAt  time.Time   `json:"cached_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Cache is a two-tier prediction cache: an in-process LRU in front of an
// optional Redis instance.
type Cache struct {
	memory *expirable.LRU[string, Prediction]
	redis  *redis.Client
	ttl    time.Duration
	log    *logrus.Logger
}

// NewRedisClient connects to Redis using the cache configuration.
func NewRedisClient(config domain.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Apply cache-specific configurations
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	if config.MaxRetries != 0 {
		opts.MaxRetries = config.MaxRetries
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// NewCache creates a prediction cache. A nil Redis client keeps the cache
// in memory only.
func NewCache(config domain.CacheConfig, client *redis.Client, logger *logrus.Logger) *Cache {
	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	size := config.MemoryEntries
	if size <= 0 {
		size = defaultMemoryItems
	}

	return &Cache{
		memory: expirable.NewLRU[string, Prediction](size, nil, ttl),
		redis:  client,
		ttl:    ttl,
		log:    logger,
	}
}

// Key derives the cache key for a feature map. Map keys are marshalled in
// sorted order so equal submissions share a key.
func Key(features map[string]any) (string, error) {
	data, err := json.Marshal(features)
	if err != nil {
		return "", fmt.Errorf("failed to marshal features: %w", err)
	}
	sum := sha256.Sum256(data)
	return keyPrefix + hex.EncodeToString(sum[:]), nil
}

// Get looks the key up in memory, then in Redis. Redis failures are logged
// and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (*Prediction, bool) {
	if p, ok := c.memory.Get(key); ok {
		return &p, true
	}
	if c.redis == nil {
		return nil, false
	}

	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.WithError(err).Warn("Prediction cache read failed")
		return nil, false
	}

	var cached CachedPrediction
	if err := json.Unmarshal([]byte(val), &cached); err != nil || cached.Data == nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return nil, false
	}

	// Check if expired
	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false
	}

	c.memory.Add(key, *cached.Data)
	return cached.Data, true
}

// Set stores p in both tiers.
func (c *Cache) Set(ctx context.Context, key string, p *Prediction) error {
	if p == nil {
		return nil
	}
	c.memory.Add(key, *p)
	if c.redis == nil {
		return nil
	}

	now := time.Now()
	cached := CachedPrediction{
		Data:      p,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction cache data: %w", err)
	}

	return c.redis.Set(ctx, key, jsonData, c.ttl).Err()
}

// Len returns the number of entries held in memory.
func (c *Cache) Len() int {
	return c.memory.Len()
}

// Purge clears the in-memory tier.
func (c *Cache) Purge() {
	c.memory.Purge()
}
