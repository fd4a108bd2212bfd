package inspection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextProgressConvergesBelowCap(t *testing.T) {
	p := 0
	for i := 0; i < 500; i++ {
		next := NextProgress(p)
		if p < ProgressCap {
			require.Greater(t, next, p)
		}
		require.LessOrEqual(t, next, ProgressCap)
		p = next
	}
	assert.Equal(t, ProgressCap, p)
	assert.Equal(t, ProgressCap, NextProgress(120))
}

func TestTrackProgress(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	stop := TrackProgress(context.Background(), time.Millisecond, func(p int) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 5
	}, time.Second, time.Millisecond)
	stop()

	mu.Lock()
	count := len(seen)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
	for _, p := range seen {
		assert.LessOrEqual(t, p, ProgressCap)
	}
	mu.Unlock()

	// Nothing is emitted once stop has returned.
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, count, len(seen))
	mu.Unlock()

	stop()
}

func TestTrackProgressStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	stop := TrackProgress(ctx, time.Hour, func(int) { calls++ })
	cancel()
	stop()
	assert.Zero(t, calls)
}
