package cache

import (
	"context"
	"fmt"
	"time"

	"sunforge-server/internal/domain/telemetry/aggregate"
)

// LatestReadings keeps the newest reading per device so device listings do
// not hit the reading table once per device.
type LatestReadings interface {
	Get(ctx context.Context, deviceID string) (*aggregate.Reading, bool, error)
	Set(ctx context.Context, reading *aggregate.Reading) error
	Delete(ctx context.Context, deviceID string) error
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Driver identifiers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Config selects and tunes a cache driver.
type Config struct {
	Driver string
	TTL    time.Duration
	Redis  *RedisConfig
	Memory *MemoryConfig
}

type MemoryConfig struct {
	GCInterval time.Duration
}

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

const defaultTTL = 10 * time.Minute

// New creates the cache named by cfg.Driver, memory when empty.
func New(cfg Config) (LatestReadings, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(cfg), nil
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported latest-reading cache driver: %s", driver)
	}
}
