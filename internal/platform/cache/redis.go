package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PingTimeout bounds the startup health check.
const PingTimeout = 5 * time.Second

// NewClient builds the Redis client shared by the statement cache and the job
// queue. The client is returned even when the ping fails: statement reads then
// fall back to building from the ledger until Redis answers again.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return client, fmt.Errorf("platform/cache: ping %s: %w", addr, err)
	}
	return client, nil
}
