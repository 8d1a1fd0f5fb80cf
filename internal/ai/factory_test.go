package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/bosocmputer/lab_report_reconciler/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExtractor struct {
	mock.Mock
	name string
}

func (m *mockExtractor) Extract(ctx context.Context, segment string, images []BinaryFile, schemaHint string, reqCtx *common.RequestContext) (string, *common.TokenUsage, error) {
	args := m.Called(ctx, segment)
	usage, _ := args.Get(1).(*common.TokenUsage)
	return args.String(0), usage, args.Error(2)
}

func (m *mockExtractor) GetProviderName() string { return m.name }

func TestFallbackExtractorUsesPrimaryFirst(t *testing.T) {
	primary := &mockExtractor{name: "gemini"}
	fallback := &mockExtractor{name: "openai"}
	primary.On("Extract", mock.Anything, "seg").Return(`{"tests":[]}`, nil, nil)

	ex := NewFallbackExtractor(primary, fallback)
	text, _, err := ex.Extract(context.Background(), "seg", nil, SchemaHint, nil)

	require.NoError(t, err)
	assert.Equal(t, `{"tests":[]}`, text)
	assert.Equal(t, "gemini+openai", ex.GetProviderName())
	fallback.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestFallbackExtractorFallsBack(t *testing.T) {
	primary := &mockExtractor{name: "gemini"}
	fallback := &mockExtractor{name: "openai"}
	primary.On("Extract", mock.Anything, "seg").Return("", nil, errors.New("503"))
	fallback.On("Extract", mock.Anything, "seg").Return(`{"tests":[{"testName":"TSH"}]}`, &common.TokenUsage{InputTokens: 5}, nil)

	text, usage, err := NewFallbackExtractor(primary, fallback).Extract(context.Background(), "seg", nil, SchemaHint, nil)

	require.NoError(t, err)
	assert.Contains(t, text, "TSH")
	require.NotNil(t, usage)
	assert.Equal(t, 5, usage.InputTokens)
	primary.AssertExpectations(t)
	fallback.AssertExpectations(t)
}

func TestFallbackExtractorBothFail(t *testing.T) {
	primary := &mockExtractor{name: "gemini"}
	fallback := &mockExtractor{name: "openai"}
	primary.On("Extract", mock.Anything, "seg").Return("", nil, errors.New("primary down"))
	fallback.On("Extract", mock.Anything, "seg").Return("", nil, errors.New("fallback down"))

	_, _, err := NewFallbackExtractor(primary, fallback).Extract(context.Background(), "seg", nil, SchemaHint, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary down")
	assert.Contains(t, err.Error(), "fallback down")
}

func TestFallbackExtractorSkipsFallbackWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary := &mockExtractor{name: "gemini"}
	fallback := &mockExtractor{name: "openai"}
	primary.On("Extract", mock.Anything, "seg").Return("", nil, context.Canceled)

	_, _, err := NewFallbackExtractor(primary, fallback).Extract(ctx, "seg", nil, SchemaHint, nil)
	assert.ErrorIs(t, err, context.Canceled)
	fallback.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestNewFallbackExtractorWithoutFallback(t *testing.T) {
	primary := &mockExtractor{name: "gemini"}
	assert.Same(t, primary, NewFallbackExtractor(primary, nil))
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Provider: "heuristic"})
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewProvider(ProviderConfig{Provider: "gemini"})
	assert.Error(t, err)

	p, err = NewProvider(ProviderConfig{Provider: "gemini", GeminiAPIKey: "k", ExtractModel: "m"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.GetProviderName())

	p, err = NewProvider(ProviderConfig{Provider: "openai", OpenAIBaseURL: "http://localhost:11434/v1", OpenAIModel: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.GetProviderName())

	_, err = NewProvider(ProviderConfig{Provider: "mistral-ocr"})
	assert.Error(t, err)
}

func TestBuildPrompts(t *testing.T) {
	prompt := BuildExtractPrompt("HbA1c 6.1 %", "", false)
	assert.Contains(t, prompt, "HbA1c 6.1 %")
	assert.Contains(t, prompt, `"referenceRange"`)
	assert.NotContains(t, prompt, "Page images are attached")

	assert.Contains(t, BuildExtractPrompt("x", "{}", true), "Page images are attached")

	repair := BuildRepairPrompt(`{"tests":[{"testName":"TSH"`, "")
	assert.Contains(t, repair, `{"tests":[{"testName":"TSH"`)
	assert.Contains(t, repair, `"dateAndTime"`)
}
