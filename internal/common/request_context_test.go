package common

import (
	"errors"
	"sync"
	"testing"

	"github.com/bosocmputer/lab_report_reconciler/configs"
	"github.com/bosocmputer/lab_report_reconciler/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStepsAndTokensAccumulate(t *testing.T) {
	rc := NewRequestContext("test")

	rc.StartStep("extract_segments")
	rc.StartSubStep("call_model")
	rc.EndSubStep("segment 0")
	rc.EndStep("success", &TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, nil)

	rc.StartStep("merge_candidates")
	rc.EndStep("failed", nil, errors.New("boom"))

	require.Len(t, rc.Steps, 2)
	assert.Len(t, rc.Steps[0].SubSteps, 1)
	assert.Equal(t, "boom", rc.Steps[1].Error)
	assert.Equal(t, 15, rc.TotalTokens.TotalTokens)

	partial := rc.GetPartialSummary()
	assert.Equal(t, []string{"extract_segments"}, partial["completed_steps"])
}

func TestTrackAndAddTokensAreConcurrencySafe(t *testing.T) {
	rc := NewRequestContext("test")
	rc.StartStep("extract_segments")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := rc.Track("segment")
			rc.AddTokens(&TokenUsage{InputTokens: 1, TotalTokens: 1})
			done("")
		}()
	}
	wg.Wait()
	rc.EndStep("success", nil, nil)

	assert.Equal(t, 20, rc.TotalTokens.InputTokens)
	assert.Len(t, rc.Steps[0].SubSteps, 20)
}

func TestLogsCarryRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logging.Set(zap.New(core))
	t.Cleanup(func() { logging.Set(nil) })

	rc := NewRequestContext("api")
	rc.LogWarning("segment %d unparseable", 3)

	warn := logs.FilterMessage("segment 3 unparseable").All()
	require.Len(t, warn, 1)
	assert.Equal(t, rc.RequestID, warn[0].ContextMap()["request_id"])
}

func TestCalculateExtractTokenCost(t *testing.T) {
	configs.EXTRACT_INPUT_PRICE_PER_MILLION = 1
	configs.EXTRACT_OUTPUT_PRICE_PER_MILLION = 2

	usage := CalculateExtractTokenCost(1_000_000, 500_000)
	assert.Equal(t, 1_500_000, usage.TotalTokens)
	assert.InDelta(t, 2.0, usage.CostUSD, 1e-9)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "12,345", formatNumber(12345))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
}
