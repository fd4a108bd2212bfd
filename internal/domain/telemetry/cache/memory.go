package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sunforge-server/internal/domain/telemetry/aggregate"
)

type memoryEntry struct {
	reading   aggregate.Reading
	expiresAt time.Time
}

type memoryCache struct {
	items       map[string]memoryEntry
	mutex       sync.RWMutex
	ttl         time.Duration
	cleanupFreq time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
	now         func() time.Time
}

// NewMemory builds an in-process cache with a background expiry sweep.
func NewMemory(cfg Config) LatestReadings {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	cleanup := time.Minute
	if cfg.Memory != nil && cfg.Memory.GCInterval > 0 {
		cleanup = cfg.Memory.GCInterval
	}
	c := &memoryCache{
		items:       make(map[string]memoryEntry),
		ttl:         ttl,
		cleanupFreq: cleanup,
		stop:        make(chan struct{}),
		now:         time.Now,
	}
	go c.gcLoop()
	return c
}

func (c *memoryCache) gcLoop() {
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *memoryCache) sweep() {
	now := c.now()
	c.mutex.Lock()
	for id, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, id)
		}
	}
	c.mutex.Unlock()
}

func (c *memoryCache) Get(_ context.Context, deviceID string) (*aggregate.Reading, bool, error) {
	c.mutex.RLock()
	e, ok := c.items[deviceID]
	c.mutex.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return nil, false, nil
	}
	r := e.reading
	return &r, true, nil
}

// Set stores reading unless a newer one is already cached.
func (c *memoryCache) Set(_ context.Context, reading *aggregate.Reading) error {
	if reading == nil || reading.DeviceID == "" {
		return fmt.Errorf("reading with device id required")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if cur, ok := c.items[reading.DeviceID]; ok && cur.reading.RecordedAt.After(reading.RecordedAt) {
		return nil
	}
	c.items[reading.DeviceID] = memoryEntry{reading: *reading, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *memoryCache) Delete(_ context.Context, deviceID string) error {
	c.mutex.Lock()
	delete(c.items, deviceID)
	c.mutex.Unlock()
	return nil
}

func (c *memoryCache) Stats(context.Context) (map[string]any, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return map[string]any{
		"type":  DriverMemory,
		"total": len(c.items),
		"ttl":   int(c.ttl.Seconds()),
	}, nil
}

func (c *memoryCache) Close(context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}
