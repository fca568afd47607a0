package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/focus-engine/internal/models"
)

// RedisProfileCache stores serialized profiles under profile:<user id>
type RedisProfileCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions holds Redis cache configuration
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisProfileCache connects to Redis and verifies connectivity
func NewRedisProfileCache(ctx context.Context, opts RedisOptions) (*RedisProfileCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisProfileCacheFromClient(client, opts.TTL), nil
}

// NewRedisProfileCacheFromClient wraps an existing client
func NewRedisProfileCacheFromClient(client *redis.Client, ttl time.Duration) *RedisProfileCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisProfileCache{client: client, ttl: ttl}
}

func profileKey(userID string) string {
	return "profile:" + userID
}

// setIfNewer writes the profile hash unless the stored entry has a higher xp,
// or the same xp and a later version. Mirrors Supersedes.
var setIfNewer = redis.NewScript(`
local cxp = redis.call('HGET', KEYS[1], 'xp')
if cxp then
	local cver = redis.call('HGET', KEYS[1], 'ver')
	local nxp = tonumber(ARGV[2])
	local nver = tonumber(ARGV[3])
	cxp = tonumber(cxp)
	if cxp > nxp or (cxp == nxp and tonumber(cver) > nver) then
		return 0
	end
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'xp', ARGV[2], 'ver', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// Get returns the cached profile or nil on a miss
func (c *RedisProfileCache) Get(ctx context.Context, userID string) (*models.Profile, error) {
	data, err := c.client.HGet(ctx, profileKey(userID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached profile: %w", err)
	}

	var p models.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode cached profile: %w", err)
	}
	return &p, nil
}

// Set stores p with the cache TTL. A write older than the cached entry is
// dropped so a slow reader cannot overwrite a committed award.
func (c *RedisProfileCache) Set(ctx context.Context, p *models.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	err = setIfNewer.Run(ctx, c.client, []string{profileKey(p.ID)},
		data, p.XP, p.UpdatedAt.UnixMicro(), c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to cache profile: %w", err)
	}
	return nil
}

// Invalidate drops the cached profile for userID
func (c *RedisProfileCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, profileKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate profile: %w", err)
	}
	return nil
}

// HealthCheck verifies Redis connectivity
func (c *RedisProfileCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisProfileCache) Close() error {
	return c.client.Close()
}
