package papersources

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter(t *testing.T) {
	t.Run("allows the configured burst", func(t *testing.T) {
		rl := NewRateLimiter(3, 3)
		for i := 0; i < 3; i++ {
			assert.True(t, rl.Allow(), "request %d within burst", i+1)
		}
		assert.False(t, rl.Allow())
	})

	t.Run("fractional rate", func(t *testing.T) {
		rl := NewRateLimiter(0.3, 1)
		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())
	})
}

func TestRateLimiter_WaitContextCanceled(t *testing.T) {
	rl := NewRateLimiter(0.1, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, rl.Wait(ctx))
}

func TestRateLimiter_ThrottleAndRecover(t *testing.T) {
	rl := NewRateLimiter(16, 1)

	assert.InDelta(t, 8.0, rl.Throttle(), 1e-9)
	assert.InDelta(t, 4.0, rl.Throttle(), 1e-9)
	assert.InDelta(t, 2.0, rl.Throttle(), 1e-9)
	assert.InDelta(t, 2.0, rl.Throttle(), 1e-9, "floor is an eighth of the configured rate")

	rl.Recover()
	assert.InDelta(t, 16.0, rl.Rate(), 1e-9)

	rl.Recover()
	assert.InDelta(t, 16.0, rl.Rate(), 1e-9)
}

func TestRateLimiter_Concurrency(t *testing.T) {
	rl := NewRateLimiter(1, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, allowed, 11)
	assert.GreaterOrEqual(t, allowed, 10)
}
