package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAIProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := NewOpenAIProvider(ProviderConfig{
		Provider:      "openai",
		OpenAIAPIKey:  "test-key",
		OpenAIBaseURL: server.URL + "/v1",
		OpenAIModel:   "test-model",
	})
	p.retry = fastRetry
	return p
}

func chatResponse(content, finish string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:    "chatcmpl-1",
		Model: "test-model",
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: openai.FinishReason(finish),
		}},
		Usage: openai.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150},
	}
}

func TestOpenAIExtract(t *testing.T) {
	var got openai.ChatCompletionRequest
	p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse(`{"tests":[{"testName":"Hemoglobin","value":"13.5"}]}`, "stop"))
	})

	text, usage, err := p.Extract(context.Background(), "Hemoglobin 13.5 g/dL", nil, "", nil)
	require.NoError(t, err)
	assert.Contains(t, text, "Hemoglobin")
	require.NotNil(t, usage)
	assert.Equal(t, 120, usage.InputTokens)
	assert.Equal(t, 30, usage.OutputTokens)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, "Hemoglobin 13.5 g/dL")
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, got.ResponseFormat.Type)
}

func TestOpenAIExtractSendsImagesAsDataURLs(t *testing.T) {
	var got openai.ChatCompletionRequest
	p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(chatResponse(`{"tests":[]}`, "stop"))
	})

	images := []BinaryFile{
		{Name: "page1.jpg", MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}},
		{Name: "report.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")},
	}
	_, _, err := p.Extract(context.Background(), "text", images, "", nil)
	require.NoError(t, err)

	require.Len(t, got.Messages, 1)
	parts := got.Messages[0].MultiContent
	require.Len(t, parts, 2)
	assert.Equal(t, openai.ChatMessagePartTypeText, parts[0].Type)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, parts[1].Type)
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,"))
}

func TestOpenAIRetriesServerErrors(t *testing.T) {
	var calls int32
	p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse(`{"tests":[]}`, "stop"))
	})

	text, _, err := p.Repair(context.Background(), `{"tests":[`, SchemaHint, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"tests":[]}`, text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOpenAIUnauthorizedIsNotRetried(t *testing.T) {
	var calls int32
	p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	})

	_, _, err := p.Extract(context.Background(), "text", nil, "", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, CategoryUnauthorized, providerErr.Category)
}

func TestOpenAIEmptyContentIsAnError(t *testing.T) {
	p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse("", "length"))
	})

	_, _, err := p.Extract(context.Background(), "text", nil, "", nil)
	assert.Error(t, err)
}
