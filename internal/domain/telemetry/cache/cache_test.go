package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"sunforge-server/internal/domain/telemetry/aggregate"
)

func reading(deviceID string, power float64, at time.Time) *aggregate.Reading {
	return &aggregate.Reading{DeviceID: deviceID, Voltage: 18.2, Power: power, RecordedAt: at}
}

func TestMemoryCacheLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Config{TTL: time.Minute})
	t.Cleanup(func() { _ = c.Close(ctx) })

	if _, ok, err := c.Get(ctx, "esp32-1"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	now := time.Now()
	if err := c.Set(ctx, reading("esp32-1", 42, now)); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, ok, err := c.Get(ctx, "esp32-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Power != 42 {
		t.Fatalf("unexpected reading: %+v", got)
	}

	// An older reading never replaces a newer one.
	if err := c.Set(ctx, reading("esp32-1", 7, now.Add(-time.Second))); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, _, _ = c.Get(ctx, "esp32-1")
	if got.Power != 42 {
		t.Fatalf("older reading overwrote newer: %+v", got)
	}

	// Mutating the returned copy does not touch the cache.
	got.Power = 0
	again, _, _ := c.Get(ctx, "esp32-1")
	if again.Power != 42 {
		t.Fatalf("cache entry was mutated: %+v", again)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats["total"] != 1 || stats["type"] != DriverMemory {
		t.Fatalf("unexpected stats: %v", stats)
	}

	if err := c.Delete(ctx, "esp32-1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "esp32-1"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Config{TTL: time.Minute}).(*memoryCache)
	t.Cleanup(func() { _ = c.Close(ctx) })

	now := time.Now()
	c.now = func() time.Time { return now }
	if err := c.Set(ctx, reading("esp32-2", 1, now)); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok, _ := c.Get(ctx, "esp32-2"); ok {
		t.Fatalf("expected expired entry to miss")
	}
	c.sweep()
	c.mutex.RLock()
	n := len(c.items)
	c.mutex.RUnlock()
	if n != 0 {
		t.Fatalf("sweep left %d entries", n)
	}
}

func TestMemoryCacheRejectsEmptyDevice(t *testing.T) {
	c := NewMemory(Config{})
	defer c.Close(context.Background())
	if err := c.Set(context.Background(), &aggregate.Reading{}); err == nil {
		t.Fatalf("expected error for reading without device id")
	}
}

func TestRedisCacheLifecycle(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	c, err := NewRedis(Config{TTL: time.Minute, Redis: &RedisConfig{Addr: mr.Addr(), Prefix: "test:latest:"}})
	if err != nil {
		t.Fatalf("NewRedis error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(ctx) })

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := c.Set(ctx, reading("esp32-3", 55.5, at)); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if !mr.Exists("test:latest:esp32-3") {
		t.Fatalf("expected key under prefix, keys=%v", mr.Keys())
	}
	if ttl := mr.TTL("test:latest:esp32-3"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	got, ok, err := c.Get(ctx, "esp32-3")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Power != 55.5 || !got.RecordedAt.Equal(at) {
		t.Fatalf("unexpected reading: %+v", got)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats["total"] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "esp32-3"); ok {
		t.Fatalf("expected expiry")
	}

	if _, ok, err := c.Get(ctx, "unknown"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestRedisCacheRequiresAddress(t *testing.T) {
	if _, err := NewRedis(Config{}); err == nil {
		t.Fatalf("expected error without redis config")
	}
	if _, err := NewRedis(Config{Redis: &RedisConfig{}}); err == nil {
		t.Fatalf("expected error without address")
	}
}

func TestFactory(t *testing.T) {
	ctx := context.Background()

	c, err := New(Config{})
	if err != nil {
		t.Fatalf("default driver error: %v", err)
	}
	_ = c.Close(ctx)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	c, err = New(Config{Driver: DriverRedis, Redis: &RedisConfig{Addr: mr.Addr()}})
	if err != nil {
		t.Fatalf("redis driver error: %v", err)
	}
	_ = c.Close(ctx)

	if _, err := New(Config{Driver: "memcached"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
