package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/portfolio-performance/internal/types"
)

// InvalidationChannel is the pub/sub channel downstream consumers subscribe
// to for aggregate invalidation events.
const InvalidationChannel = "perf:invalidate"

// CacheService provides high-level caching for computed performance data.
// Cached aggregates are derived state; after a correction pass the affected
// scope's keys are dropped and an invalidation event published so readers
// never serve stale returns.
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyDaily is for daily performance records
	CacheKeyDaily CacheKeyType = "daily"
	// CacheKeyPeriod is for consolidated monthly/yearly records
	CacheKeyPeriod CacheKeyType = "period"
	// CacheKeyReport is for verification reports
	CacheKeyReport CacheKeyType = "report"
)

// GenerateCacheKey generates a cache key for a given type and parameters.
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	normalized := make([]string, len(params))
	for i, param := range params {
		normalized[i] = strings.ToLower(param)
	}

	parts := append([]string{string(keyType)}, normalized...)
	return strings.Join(parts, ":")
}

// GenerateDailyKey generates a cache key for one scope's daily record.
// Format: daily:<scope>:<date>
func (c *CacheService) GenerateDailyKey(scope types.EntityScope, date time.Time) string {
	return c.GenerateCacheKey(CacheKeyDaily, scope.Key(), types.DayKey(date))
}

// GeneratePeriodKey generates a cache key for a consolidated period record.
// Format: period:<scope>:<periodType>:<periodKey>
func (c *CacheService) GeneratePeriodKey(scope types.EntityScope, periodType types.PeriodType, periodKey string) string {
	return c.GenerateCacheKey(CacheKeyPeriod, scope.Key(), string(periodType), periodKey)
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.redis.Set(ctx, key, data, ttl)
}

// Get retrieves a value from cache and deserializes it. A missing key is a
// cache miss, not an error.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if err.Error() == "redis: nil" {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// InvalidateScope drops every cached daily and period entry for one scope
// and publishes an invalidation event carrying the scope key.
func (c *CacheService) InvalidateScope(ctx context.Context, scope types.EntityScope) error {
	patterns := []string{
		c.GenerateCacheKey(CacheKeyDaily, scope.Key()) + ":*",
		c.GenerateCacheKey(CacheKeyPeriod, scope.Key()) + ":*",
	}

	for _, pattern := range patterns {
		keys, err := c.redis.Keys(ctx, pattern)
		if err != nil {
			return fmt.Errorf("failed to scan cache keys: %w", err)
		}
		if err := c.Invalidate(ctx, keys...); err != nil {
			return fmt.Errorf("failed to invalidate cache keys: %w", err)
		}
	}

	if err := c.redis.Publish(ctx, InvalidationChannel, scope.Key()); err != nil {
		return fmt.Errorf("failed to publish invalidation event: %w", err)
	}

	return nil
}
