package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter answers whether key may perform one more action in the current
// window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window counter in redis. The first hit of a window
// creates the key with the window as its TTL; later hits only increment it.
type RedisLimiter struct {
	rdb    redis.Cmdable
	limit  int64
	window time.Duration
}

func NewRedisLimiter(rdb redis.Cmdable, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, window: window}
}

// Connect parses a redis URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := "rl:" + key
	pipe := l.rdb.TxPipeline()
	pipe.SetNX(ctx, k, 0, l.window)
	incr := pipe.Incr(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= l.limit, nil
}

// Noop allows everything.
type Noop struct{}

func (Noop) Allow(context.Context, string) (bool, error) { return true, nil }
