package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDebouncer shares the cool-down window across processes using
// SET NX with an expiry.
type RedisDebouncer struct {
	client   *redis.Client
	cooldown time.Duration
	prefix   string
}

// NewRedisDebouncer creates a debouncer backed by the Redis server at addr.
func NewRedisDebouncer(addr, password string, db int, cooldown time.Duration) *RedisDebouncer {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisDebouncer{client: rdb, cooldown: cooldown, prefix: "medalert:dispatch:"}
}

// Ping checks connectivity.
func (d *RedisDebouncer) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *RedisDebouncer) Allow(ctx context.Context, subject string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+subject, time.Now().UnixMilli(), d.cooldown).Result()
	if err != nil {
		return true, fmt.Errorf("RedisDebouncer.Allow: %w", err)
	}
	return ok, nil
}

// Close releases the Redis connection pool.
func (d *RedisDebouncer) Close() error {
	return d.client.Close()
}
