package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bosocmputer/lab_report_reconciler/internal/ratelimit"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

var fastRetry = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    time.Millisecond,
	MaxDelay:        5 * time.Millisecond,
	BackoffMultiple: 2,
}

func init() {
	ratelimit.Configure(0, 0)
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		category  string
		retryable bool
		status    int
	}{
		{"gemini rate limit", &googleapi.Error{Code: 429}, CategoryRateLimit, true, 429},
		{"gemini wrapped 503", fmt.Errorf("call: %w", &googleapi.Error{Code: 503}), CategoryServerError, true, 503},
		{"gemini bad request", &googleapi.Error{Code: 400}, CategoryBadRequest, false, 400},
		{"openai unauthorized", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, CategoryUnauthorized, false, 401},
		{"openai request error", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, CategoryServerError, true, 502},
		{"payload too large", &googleapi.Error{Code: 413}, CategoryPayloadTooLarge, false, 413},
		{"deadline", context.DeadlineExceeded, CategoryTimeout, true, 0},
		{"canceled", fmt.Errorf("x: %w", context.Canceled), CategoryCanceled, false, 0},
		{"quota text", errors.New("Quota exceeded for project"), CategoryQuotaExceeded, false, 0},
		{"network text", errors.New("connection reset by peer"), CategoryNetwork, true, 0},
		{"unknown", errors.New("something odd"), CategoryUnknown, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := categorizeError("gemini", tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.category, got.Category)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Nil(t, categorizeError("gemini", nil))
}

func TestCalculateBackoff(t *testing.T) {
	cfg := DefaultRetryConfig
	assert.Equal(t, 1*time.Second, calculateBackoff(1, cfg))
	assert.Equal(t, 2*time.Second, calculateBackoff(2, cfg))
	assert.Equal(t, 4*time.Second, calculateBackoff(3, cfg))
	assert.Equal(t, 8*time.Second, calculateBackoff(5, cfg))
}

func TestCallWithRetryRecoversFromServerError(t *testing.T) {
	calls := 0
	got, err := callWithRetry(context.Background(), "gemini", nil, fastRetry, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &googleapi.Error{Code: 503}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestCallWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := callWithRetry(context.Background(), "openai", nil, fastRetry, func(context.Context) (int, error) {
		calls++
		return 0, &openai.APIError{HTTPStatusCode: 401}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, CategoryUnauthorized, providerErr.Category)
	assert.Equal(t, "openai", providerErr.Provider)
}

func TestCallWithRetryGivesUp(t *testing.T) {
	calls := 0
	_, err := callWithRetry(context.Background(), "gemini", nil, fastRetry, func(context.Context) (string, error) {
		calls++
		return "", &googleapi.Error{Code: 500}
	})
	require.Error(t, err)
	assert.Equal(t, fastRetry.MaxAttempts, calls)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestCallWithRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffMultiple: 2}

	_, err := callWithRetry(ctx, "gemini", nil, slow, func(context.Context) (string, error) {
		cancel()
		return "", &googleapi.Error{Code: 500}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUserFriendlyError(t *testing.T) {
	resp := UserFriendlyError(categorizeError("gemini", &googleapi.Error{Code: 429}))
	assert.Equal(t, CategoryRateLimit, resp["category"])
	assert.Equal(t, "30-60 seconds", resp["retry_after"])

	resp = UserFriendlyError(errors.New("connection refused"))
	assert.Equal(t, CategoryNetwork, resp["category"])
	assert.Equal(t, true, resp["retry_recommended"])
}
