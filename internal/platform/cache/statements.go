package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	versionKeyPrefix = "ledger:version:"
	bumpChannel      = "ledger.bump"
)

// StatementCache stores statement payloads as JSON with per-period versions.
type StatementCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatementCache instantiates the cache helper.
func NewStatementCache(client *redis.Client, ttl time.Duration) *StatementCache {
	return &StatementCache{client: client, ttl: ttl}
}

func versionKey(periodID int64) string {
	return versionKeyPrefix + strconv.FormatInt(periodID, 10)
}

// Version returns the current version of the period, initialising when missing.
func (c *StatementCache) Version(ctx context.Context, periodID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(periodID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX so a concurrent Bump is never overwritten.
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates every payload of the period and publishes the new version.
func (c *StatementCache) Bump(ctx context.Context, periodID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(periodID)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, fmt.Sprintf("%d:%d", periodID, ver)).Err()
}

// Get loads key into dst. It reports false on a miss.
func (c *StatementCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return false, fmt.Errorf("platform/cache: decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key for the configured TTL.
func (c *StatementCache) Set(ctx context.Context, key string, value any) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}
