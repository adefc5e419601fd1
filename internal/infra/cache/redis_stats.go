package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agroia/agroia-backend/internal/domain/analysis"
)

const keyPrefix = "agroia:stats:"

// RedisStats caches UserStats as JSON under one key per owner.
type RedisStats struct {
	rdb *redis.Client
}

type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect dials Redis and pings it once.
func Connect(ctx context.Context, o Options) (*RedisStats, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        o.Addr,
		Password:    o.Password,
		DB:          o.DB,
		DialTimeout: 5 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStats{rdb: rdb}, nil
}

func NewRedisStats(rdb *redis.Client) *RedisStats { return &RedisStats{rdb: rdb} }

func (c *RedisStats) GetStats(ctx context.Context, owner string) (analysis.UserStats, bool, error) {
	raw, err := c.rdb.Get(ctx, keyPrefix+owner).Bytes()
	if errors.Is(err, redis.Nil) {
		return analysis.UserStats{}, false, nil
	}
	if err != nil {
		return analysis.UserStats{}, false, err
	}
	var st analysis.UserStats
	if err := json.Unmarshal(raw, &st); err != nil {
		return analysis.UserStats{}, false, fmt.Errorf("decode cached stats: %w", err)
	}
	return st, true, nil
}

func (c *RedisStats) SetStats(ctx context.Context, owner string, st analysis.UserStats, ttl time.Duration) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, keyPrefix+owner, raw, ttl).Err()
}

func (c *RedisStats) DropStats(ctx context.Context, owner string) error {
	return c.rdb.Del(ctx, keyPrefix+owner).Err()
}

func (c *RedisStats) Check(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

func (c *RedisStats) Close() error { return c.rdb.Close() }
