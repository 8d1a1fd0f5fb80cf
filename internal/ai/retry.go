// retry.go - Retry logic and error categorization for extractor and repair calls

package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/bosocmputer/lab_report_reconciler/internal/common"
	"github.com/bosocmputer/lab_report_reconciler/internal/ratelimit"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

// RetryConfig defines retry behavior for provider calls
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides sensible defaults for retry behavior
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    1 * time.Second,
	MaxDelay:        8 * time.Second,
	BackoffMultiple: 2.0,
}

// Error categories
const (
	CategoryBadRequest      = "bad_request"
	CategoryUnauthorized    = "unauthorized"
	CategoryForbidden       = "forbidden"
	CategoryNotFound        = "not_found"
	CategoryPayloadTooLarge = "payload_too_large"
	CategoryRateLimit       = "rate_limit"
	CategoryServerError     = "server_error"
	CategoryTimeout         = "timeout"
	CategoryCanceled        = "canceled"
	CategoryQuotaExceeded   = "quota_exceeded"
	CategoryNetwork         = "network_error"
	CategoryUnknown         = "unknown"
)

// ProviderError represents a categorized provider API error
type ProviderError struct {
	OriginalError error
	Provider      string
	Category      string
	StatusCode    int
	Message       string
	Retryable     bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (provider: %s, status: %d, retryable: %v)", e.Category, e.Message, e.Provider, e.StatusCode, e.Retryable)
}

func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// categorizeError analyzes err and determines retry strategy
func categorizeError(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}

	var already *ProviderError
	if errors.As(err, &already) {
		return already
	}

	providerErr := &ProviderError{
		OriginalError: err,
		Provider:      provider,
		Category:      CategoryUnknown,
		Message:       err.Error(),
	}

	// HTTP status from either SDK
	var gErr *googleapi.Error
	var oaiErr *openai.APIError
	var oaiReqErr *openai.RequestError
	switch {
	case errors.As(err, &gErr):
		providerErr.StatusCode = gErr.Code
	case errors.As(err, &oaiErr):
		providerErr.StatusCode = oaiErr.HTTPStatusCode
	case errors.As(err, &oaiReqErr):
		providerErr.StatusCode = oaiReqErr.HTTPStatusCode
	}
	if providerErr.StatusCode != 0 {
		categorizeStatus(providerErr)
		return providerErr
	}

	// Context errors
	if errors.Is(err, context.DeadlineExceeded) {
		providerErr.Category = CategoryTimeout
		providerErr.Message = "Request timeout - processing took too long"
		providerErr.Retryable = true
		return providerErr
	}
	if errors.Is(err, context.Canceled) {
		providerErr.Category = CategoryCanceled
		providerErr.Message = "Request was canceled"
		return providerErr
	}

	// Common message patterns
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "quota"):
		providerErr.Category = CategoryQuotaExceeded
		providerErr.Message = "API quota exceeded - daily or monthly limit reached"
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		providerErr.Category = CategoryTimeout
		providerErr.Message = "Request timeout"
		providerErr.Retryable = true
	case strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network"):
		providerErr.Category = CategoryNetwork
		providerErr.Message = "Network connection error"
		providerErr.Retryable = true
	}
	return providerErr
}

func categorizeStatus(e *ProviderError) {
	switch e.StatusCode {
	case http.StatusBadRequest:
		e.Category = CategoryBadRequest
		e.Message = "Invalid request format or parameters"
	case http.StatusUnauthorized:
		e.Category = CategoryUnauthorized
		e.Message = "Invalid API key or authentication failed"
	case http.StatusForbidden:
		e.Category = CategoryForbidden
		e.Message = "API key lacks required permissions"
	case http.StatusNotFound:
		e.Category = CategoryNotFound
		e.Message = "Model not found or invalid endpoint"
	case http.StatusRequestEntityTooLarge:
		e.Category = CategoryPayloadTooLarge
		e.Message = "Request size exceeds limit (reduce segment or image size)"
	case http.StatusTooManyRequests:
		e.Category = CategoryRateLimit
		e.Message = "Rate limit exceeded - too many requests"
		e.Retryable = true
	default:
		if e.StatusCode >= 500 {
			e.Category = CategoryServerError
			e.Message = fmt.Sprintf("%s server error (%d)", e.Provider, e.StatusCode)
			e.Retryable = true
			return
		}
		e.Category = CategoryUnknown
		e.Message = fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}
}

// callWithRetry waits on the shared rate limiter before every attempt and retries
// retryable failures with exponential backoff.
func callWithRetry[T any](
	ctx context.Context,
	provider string,
	reqCtx *common.RequestContext,
	config RetryConfig,
	call func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr *ProviderError

	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			reqCtx.LogInfo("Retry attempt %d/%d (%s)", attempt, attempts, provider)
		}

		if err := ratelimit.WaitForRateLimit(ctx); err != nil {
			return zero, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := call(ctx)
		if err == nil {
			if attempt > 1 {
				reqCtx.LogInfo("✅ Retry succeeded on attempt %d", attempt)
			}
			return resp, nil
		}

		lastErr = categorizeError(provider, err)
		reqCtx.LogError("API call failed (attempt %d/%d): %s", attempt, attempts, lastErr.Error())

		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s call aborted: %w", provider, ctx.Err())
		}
		if !lastErr.Retryable {
			return zero, lastErr
		}
		if attempt >= attempts {
			break
		}

		delay := calculateBackoff(attempt, config)
		if lastErr.Category == CategoryRateLimit {
			delay *= 2
			reqCtx.LogWarning("Rate limit hit, waiting %v before retry", delay)
		} else {
			reqCtx.LogInfo("Waiting %v before retry", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context canceled during retry wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	reqCtx.LogError("❌ All %d attempts failed, last error: %s", attempts, lastErr.Error())
	return zero, fmt.Errorf("%s call failed after %d attempts: %w", provider, attempts, lastErr)
}

// calculateBackoff computes exponential backoff delay
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffMultiple, float64(attempt-1))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}

// UserFriendlyError converts a provider failure into the payload returned to API callers.
func UserFriendlyError(err error) map[string]interface{} {
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		providerErr = categorizeError("", err)
	}

	errorResponse := map[string]interface{}{
		"error":    "AI processing failed",
		"category": providerErr.Category,
		"details":  providerErr.Message,
	}

	switch providerErr.Category {
	case CategoryRateLimit:
		errorResponse["suggestion"] = "Too many requests. Please wait a moment and try again."
		errorResponse["retry_after"] = "30-60 seconds"
	case CategoryQuotaExceeded:
		errorResponse["suggestion"] = "API quota exceeded. Please contact support or try again later."
		errorResponse["action_required"] = "upgrade_plan"
	case CategoryUnauthorized:
		errorResponse["suggestion"] = "API authentication failed. Please contact system administrator."
		errorResponse["action_required"] = "check_api_key"
	case CategoryPayloadTooLarge:
		errorResponse["suggestion"] = "Report is too large. Lower WINDOW_CHARS or send smaller images."
		errorResponse["action_required"] = "reduce_input_size"
	case CategoryTimeout, CategoryServerError, CategoryNetwork:
		errorResponse["suggestion"] = "The AI service is temporarily unavailable. Please try again in a few minutes."
		errorResponse["retry_recommended"] = true
	default:
		errorResponse["suggestion"] = "An unexpected error occurred. Please try again or contact support."
		errorResponse["retry_recommended"] = false
	}
	return errorResponse
}
