// request_context.go - Request tracking and logging system

package common

import (
	"fmt"
	"sync"
	"time"

	"github.com/bosocmputer/lab_report_reconciler/configs"
	"github.com/bosocmputer/lab_report_reconciler/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestContext tracks the entire request lifecycle with timing and costs.
// Step tracking belongs to the goroutine driving the request; logging, token accounting
// and Track may be used from fan-out workers.
type RequestContext struct {
	RequestID           string
	Source              string
	StartTime           time.Time
	Steps               []StepLog
	TotalTokens         TokenUsage
	CurrentStep         string
	CurrentStepStart    time.Time
	CurrentSubSteps     []SubStepLog
	CurrentSubStep      string
	CurrentSubStepStart time.Time

	mu     sync.Mutex
	logger *zap.Logger
}

// StepLog represents a single processing step
type StepLog struct {
	Name      string       `json:"name"`
	StartTime time.Time    `json:"start_time"`
	Duration  int64        `json:"duration_ms"`
	Status    string       `json:"status"` // "success", "failed", "skipped"
	Tokens    *TokenUsage  `json:"tokens,omitempty"`
	Error     string       `json:"error,omitempty"`
	SubSteps  []SubStepLog `json:"sub_steps,omitempty"`
}

// SubStepLog represents a detailed sub-operation within a step
type SubStepLog struct {
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Duration  int64     `json:"duration_ms"`
	Details   string    `json:"details,omitempty"`
}

// TokenUsage tracks API token consumption
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// NewRequestContext creates a new request tracking context
func NewRequestContext(source string) *RequestContext {
	reqID := uuid.New().String()
	now := time.Now()

	logger := logging.L().With(zap.String("request_id", reqID))
	logger.Info("🚀 request received", zap.String("source", source))

	return &RequestContext{
		RequestID:   reqID,
		Source:      source,
		StartTime:   now,
		Steps:       []StepLog{},
		TotalTokens: TokenUsage{},
		logger:      logger,
	}
}

// Logger exposes the request-scoped zap logger.
func (rc *RequestContext) Logger() *zap.Logger {
	if rc == nil || rc.logger == nil {
		return logging.L()
	}
	return rc.logger
}

// StartStep begins tracking a new processing step
func (rc *RequestContext) StartStep(stepName string) {
	rc.CurrentStep = stepName
	rc.CurrentStepStart = time.Now()

	stepDescriptions := map[string]string{
		"plan_segments":     "✂️ plan segments",
		"extract_segments":  "🤖 extract segments",
		"heuristic_extract": "🔍 heuristic line extraction",
		"merge_candidates":  "🔗 merge candidates",
		"filter_records":    "🧹 relevance filter",
		"assemble_category": "🗂️ assemble categories",
	}

	desc := stepDescriptions[stepName]
	if desc == "" {
		desc = stepName
	}

	rc.Logger().Info("┌── " + desc)
}

// EndStep completes the current step and records timing
func (rc *RequestContext) EndStep(status string, tokens *TokenUsage, err error) {
	duration := time.Since(rc.CurrentStepStart).Milliseconds()

	rc.mu.Lock()
	stepLog := StepLog{
		Name:      rc.CurrentStep,
		StartTime: rc.CurrentStepStart,
		Duration:  duration,
		Status:    status,
		Tokens:    tokens,
		SubSteps:  rc.CurrentSubSteps,
	}
	rc.mu.Unlock()

	if err != nil {
		stepLog.Error = err.Error()
		rc.Logger().Error("❌ step failed",
			zap.String("step", rc.CurrentStep),
			zap.Int64("duration_ms", duration),
			zap.Error(err))
	} else {
		fields := []zap.Field{
			zap.String("step", rc.CurrentStep),
			zap.String("status", status),
			zap.Int64("duration_ms", duration),
		}
		if tokens != nil {
			rc.AddTokens(tokens)
			fields = append(fields,
				zap.Int("input_tokens", tokens.InputTokens),
				zap.Int("output_tokens", tokens.OutputTokens),
				zap.Float64("cost_usd", tokens.CostUSD))
		}
		if n := len(stepLog.SubSteps); n > 0 {
			fields = append(fields, zap.Int("sub_steps", n))
		}
		rc.Logger().Info("└── ✅ step done", fields...)
	}

	rc.mu.Lock()
	rc.Steps = append(rc.Steps, stepLog)
	rc.CurrentStep = ""
	rc.CurrentSubSteps = []SubStepLog{}
	rc.mu.Unlock()
}

// AddTokens accumulates token usage; safe for concurrent use.
func (rc *RequestContext) AddTokens(tokens *TokenUsage) {
	if rc == nil || tokens == nil {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.TotalTokens.InputTokens += tokens.InputTokens
	rc.TotalTokens.OutputTokens += tokens.OutputTokens
	rc.TotalTokens.TotalTokens += tokens.TotalTokens
	rc.TotalTokens.CostUSD += tokens.CostUSD
}

// CalculateExtractTokenCost computes USD cost for extraction calls.
func CalculateExtractTokenCost(inputTokens, outputTokens int) TokenUsage {
	return calculateCost(inputTokens, outputTokens,
		configs.EXTRACT_INPUT_PRICE_PER_MILLION, configs.EXTRACT_OUTPUT_PRICE_PER_MILLION)
}

// CalculateRepairTokenCost computes USD cost for JSON repair calls.
func CalculateRepairTokenCost(inputTokens, outputTokens int) TokenUsage {
	return calculateCost(inputTokens, outputTokens,
		configs.REPAIR_INPUT_PRICE_PER_MILLION, configs.REPAIR_OUTPUT_PRICE_PER_MILLION)
}

func calculateCost(inputTokens, outputTokens int, inputPrice, outputPrice float64) TokenUsage {
	inputCost := float64(inputTokens) * inputPrice / 1_000_000
	outputCost := float64(outputTokens) * outputPrice / 1_000_000

	return TokenUsage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		CostUSD:      inputCost + outputCost,
	}
}

// GetSummary returns a final summary of the entire request
func (rc *RequestContext) GetSummary() map[string]interface{} {
	totalDuration := time.Since(rc.StartTime).Milliseconds()

	rc.mu.Lock()
	stepBreakdown := make(map[string]int64)
	for _, step := range rc.Steps {
		stepBreakdown[step.Name] = step.Duration
	}
	totals := rc.TotalTokens
	steps := len(rc.Steps)
	rc.mu.Unlock()

	summary := map[string]interface{}{
		"request_id":         rc.RequestID,
		"source":             rc.Source,
		"total_duration_ms":  totalDuration,
		"total_duration_sec": float64(totalDuration) / 1000,
		"step_breakdown":     stepBreakdown,
		"total_steps":        steps,
		"token_usage": map[string]interface{}{
			"input_tokens":  totals.InputTokens,
			"output_tokens": totals.OutputTokens,
			"total_tokens":  totals.TotalTokens,
			"cost_usd":      fmt.Sprintf("$%.4f", totals.CostUSD),
		},
	}

	rc.Logger().Info("🎯 request summary",
		zap.Int64("duration_ms", totalDuration),
		zap.Int("steps", steps),
		zap.String("tokens", fmt.Sprintf("%s in + %s out = %s",
			formatNumber(totals.InputTokens),
			formatNumber(totals.OutputTokens),
			formatNumber(totals.TotalTokens))),
		zap.Float64("cost_usd", totals.CostUSD))

	return summary
}

// StartSubStep begins tracking a detailed sub-operation
func (rc *RequestContext) StartSubStep(subStepName string) {
	rc.CurrentSubStep = subStepName
	rc.CurrentSubStepStart = time.Now()
	rc.Logger().Debug("├─ " + subStepName)
}

// EndSubStep completes the current sub-step and records timing
func (rc *RequestContext) EndSubStep(details string) {
	if rc.CurrentSubStep == "" {
		return
	}
	rc.recordSubStep(rc.CurrentSubStep, rc.CurrentSubStepStart, details)
	rc.CurrentSubStep = ""
}

// Track records a sub-step from a worker goroutine. Call the returned func when done.
func (rc *RequestContext) Track(name string) func(details string) {
	if rc == nil {
		return func(string) {}
	}
	start := time.Now()
	return func(details string) {
		rc.recordSubStep(name, start, details)
	}
}

func (rc *RequestContext) recordSubStep(name string, start time.Time, details string) {
	duration := time.Since(start).Milliseconds()

	rc.mu.Lock()
	rc.CurrentSubSteps = append(rc.CurrentSubSteps, SubStepLog{
		Name:      name,
		StartTime: start,
		Duration:  duration,
		Details:   details,
	})
	rc.mu.Unlock()

	rc.Logger().Debug("└─ ✅ "+name, zap.Int64("duration_ms", duration), zap.String("details", details))
}

// LogInfo logs info-level message with request ID
func (rc *RequestContext) LogInfo(format string, args ...interface{}) {
	rc.Logger().Info(fmt.Sprintf(format, args...))
}

// LogWarning logs warning-level message with request ID
func (rc *RequestContext) LogWarning(format string, args ...interface{}) {
	rc.Logger().Warn(fmt.Sprintf(format, args...))
}

// LogError logs error-level message with request ID
func (rc *RequestContext) LogError(format string, args ...interface{}) {
	rc.Logger().Error(fmt.Sprintf(format, args...))
}

// GetPartialSummary returns a summary of completed steps (for timeout scenarios)
func (rc *RequestContext) GetPartialSummary() map[string]interface{} {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	completedSteps := []string{}
	for _, step := range rc.Steps {
		if step.Status == "success" {
			completedSteps = append(completedSteps, step.Name)
		}
	}

	return map[string]interface{}{
		"completed_steps": completedSteps,
		"total_steps":     len(rc.Steps),
		"current_step":    rc.CurrentStep,
	}
}

// formatNumber adds comma separators to numbers
func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n%1000000)/1000, n%1000)
}
