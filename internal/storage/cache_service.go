package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magickw/linkDAO-sub011/internal/types"
)

// CacheService provides high-level caching operations for checkout sessions,
// user preferences and market data snapshots.
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
	// CacheKeySession is for checkout sessions
	CacheKeySession CacheKeyType = "session"
	// CacheKeyPreferences is for user payment preferences
	CacheKeyPreferences CacheKeyType = "prefs"
	// CacheKeyGas is for per-chain gas conditions
	CacheKeyGas CacheKeyType = "market:gas"
	// CacheKeyRate is for exchange rates
	CacheKeyRate CacheKeyType = "market:rate"
	// CacheKeySnapshot is for the assembled market snapshot
	CacheKeySnapshot CacheKeyType = "market:snapshot"
)

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	// Normalize all parameters to lowercase for consistency
	normalizedParams := make([]string, len(params))
	for i, param := range params {
		normalizedParams[i] = strings.ToLower(param)
	}

	parts := append([]string{string(keyType)}, normalizedParams...)
	return strings.Join(parts, ":")
}

// GenerateSessionKey generates a cache key for a checkout session
// Format: session:<session-id>
func (c *CacheService) GenerateSessionKey(sessionID string) string {
	return c.GenerateCacheKey(CacheKeySession, sessionID)
}

// GeneratePreferencesKey generates a cache key for user preferences
// Format: prefs:<user-id>
func (c *CacheService) GeneratePreferencesKey(userID string) string {
	return c.GenerateCacheKey(CacheKeyPreferences, userID)
}

// GenerateGasKey generates a cache key for gas conditions on a chain
// Format: market:gas:<chain>
func (c *CacheService) GenerateGasKey(chain types.ChainID) string {
	return c.GenerateCacheKey(CacheKeyGas, string(chain))
}

// GenerateRateKey generates a cache key for an exchange rate pair
// Format: market:rate:<from>:<to>
func (c *CacheService) GenerateRateKey(from, to string) string {
	return c.GenerateCacheKey(CacheKeyRate, from, to)
}

// GenerateSnapshotKey generates the cache key for the full market snapshot
func (c *CacheService) GenerateSnapshotKey() string {
	return string(CacheKeySnapshot)
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

// Get retrieves a value from cache and deserializes it. The boolean reports
// whether the key was present; a miss is not an error.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
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

// InvalidatePattern removes all keys matching a pattern
// Pattern examples: "market:*", "session:abc*"
func (c *CacheService) InvalidatePattern(ctx context.Context, pattern string) error {
	keys, err := c.redis.Keys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to find keys matching pattern: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	return c.redis.Del(ctx, keys...)
}

// InvalidateMarket removes all cached market data. The snapshot service
// calls this when a forced refresh is requested.
func (c *CacheService) InvalidateMarket(ctx context.Context) error {
	return c.InvalidatePattern(ctx, "market:*")
}

// AcquireLease takes a short-lived exclusive lease via SetNX. It returns
// true when this caller now holds the lease. Leases expire on their own;
// there is no explicit release.
func (c *CacheService) AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.redis.SetNX(ctx, key, "1", ttl)
}

// Exists checks if a key exists in cache
func (c *CacheService) Exists(ctx context.Context, key string) (bool, error) {
	return c.redis.Exists(ctx, key)
}

// Refresh updates the TTL on an existing key
func (c *CacheService) Refresh(ctx context.Context, key string) error {
	return c.redis.Expire(ctx, key, c.ttl)
}

// GetTTL returns the configured TTL for this cache service
func (c *CacheService) GetTTL() time.Duration {
	return c.ttl
}
