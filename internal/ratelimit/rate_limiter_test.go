package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstPassesImmediately(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitHonoursCancellation(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, rl.Wait(ctx))
	assert.Error(t, rl.Wait(ctx))
}

func TestDisabledLimiterNeverBlocks(t *testing.T) {
	Configure(0, 0)
	t.Cleanup(func() { Configure(12, 4) })

	for i := 0; i < 100; i++ {
		require.NoError(t, WaitForRateLimit(context.Background()))
	}
}
