package inspection

import (
	"context"
	"sync"
	"time"
)

// ProgressCap is the highest percentage reported while a call is outstanding.
// Only the arrival of a result takes progress to 100.
const ProgressCap = 95

// NextProgress advances p toward ProgressCap in shrinking steps, so the
// reported value slows down the longer the model takes.
func NextProgress(p int) int {
	if p >= ProgressCap {
		return ProgressCap
	}
	step := (ProgressCap - p) / 8
	if step < 1 {
		step = 1
	}
	return min(p+step, ProgressCap)
}

// TrackProgress calls emit on every tick of interval with a strictly
// increasing percentage, never above ProgressCap. It runs independently of
// the call it reports on. The returned stop function blocks until the ticker
// goroutine has exited, so emit is never called after stop returns.
func TrackProgress(ctx context.Context, interval time.Duration, emit func(percent int)) (stop func()) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		p := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				next := NextProgress(p)
				if next == p {
					continue
				}
				p = next
				emit(p)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}
