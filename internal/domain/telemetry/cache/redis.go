package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"sunforge-server/internal/domain/telemetry/aggregate"
)

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis connects to redis and checks the connection.
func NewRedis(cfg Config) (LatestReadings, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "sunforge:latest:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisCache{client: client, ttl: ttl, prefix: prefix}, nil
}

func (c *redisCache) key(deviceID string) string {
	return c.prefix + deviceID
}

func (c *redisCache) Get(ctx context.Context, deviceID string) (*aggregate.Reading, bool, error) {
	raw, err := c.client.Get(ctx, c.key(deviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var r aggregate.Reading
	if err := sonic.Unmarshal(raw, &r); err != nil {
		return nil, false, fmt.Errorf("decode cached reading: %w", err)
	}
	return &r, true, nil
}

func (c *redisCache) Set(ctx context.Context, reading *aggregate.Reading) error {
	if reading == nil || reading.DeviceID == "" {
		return fmt.Errorf("reading with device id required")
	}
	data, err := sonic.Marshal(reading)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(reading.DeviceID), data, c.ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, deviceID string) error {
	return c.client.Del(ctx, c.key(deviceID)).Err()
}

func (c *redisCache) Stats(ctx context.Context) (map[string]any, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		total += len(keys)
		if next == 0 {
			break
		}
		cursor = next
	}
	return map[string]any{
		"type":  DriverRedis,
		"total": total,
		"ttl":   int(c.ttl.Seconds()),
	}, nil
}

func (c *redisCache) Close(context.Context) error {
	return c.client.Close()
}
