// rate_limiter.go - Rate limiting to prevent hitting AI provider limits

package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket shared by every extractor and repair call.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing requestsPerMinute with the given burst.
// A non-positive rate disables limiting.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	every := time.Minute / time.Duration(requestsPerMinute)
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(every), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Global rate limiter for AI calls.
// gemini-2.5-flash free tier: 15 RPM, default keeps ~20% headroom.
var (
	globalMu          sync.RWMutex
	globalRateLimiter = NewRateLimiter(12, 4)
)

// Configure replaces the global limiter, typically from configs at startup.
func Configure(requestsPerMinute, burst int) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalRateLimiter = NewRateLimiter(requestsPerMinute, burst)
}

// WaitForRateLimit waits on the global limiter.
func WaitForRateLimit(ctx context.Context) error {
	globalMu.RLock()
	rl := globalRateLimiter
	globalMu.RUnlock()
	return rl.Wait(ctx)
}
