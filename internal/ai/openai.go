// openai.go - OpenAI-compatible client (OpenAI, Mistral, Ollama) for extraction and repair

package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bosocmputer/lab_report_reconciler/internal/common"
	"github.com/bosocmputer/lab_report_reconciler/internal/processor"
	openai "github.com/sashabaranov/go-openai"
)

const openAIMaxTokens = 8192

// OpenAIProvider implements Provider for any OpenAI-compatible chat completions endpoint
type OpenAIProvider struct {
	client    *openai.Client
	modelName string

	preprocessImages  bool
	maxImageDimension int
	retry             RetryConfig
}

// NewOpenAIProvider creates a provider; a non-empty base URL points it at another
// compatible endpoint.
func NewOpenAIProvider(cfg ProviderConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	}
	return &OpenAIProvider{
		client:            openai.NewClientWithConfig(clientConfig),
		modelName:         cfg.OpenAIModel,
		preprocessImages:  cfg.PreprocessImages,
		maxImageDimension: cfg.MaxImageDimension,
		retry:             DefaultRetryConfig,
	}
}

// GetProviderName returns "openai"
func (o *OpenAIProvider) GetProviderName() string {
	return "openai"
}

// Extract sends one segment plus optional page images as data URLs.
func (o *OpenAIProvider) Extract(ctx context.Context, segment string, images []BinaryFile, schemaHint string, reqCtx *common.RequestContext) (string, *common.TokenUsage, error) {
	prompt := BuildExtractPrompt(segment, schemaHint, len(images) > 0)

	message := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(images) == 0 {
		message.Content = prompt
	} else {
		message.MultiContent = []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt}}
		for _, img := range images {
			data, mimeType := img.Data, img.MIMEType
			if mimeType == "application/pdf" {
				reqCtx.LogWarning("⚠️  Skipping %s: PDF pages are not accepted as image parts", img.Name)
				continue
			}
			if o.preprocessImages {
				processed, processedType, err := processor.PreprocessImage(data, mimeType, o.maxImageDimension)
				if err != nil {
					reqCtx.LogWarning("⚠️  Preprocessing %s failed, using original: %v", img.Name, err)
				} else {
					data, mimeType = processed, processedType
				}
			}
			message.MultiContent = append(message.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)),
					Detail: openai.ImageURLDetailHigh,
				},
			})
		}
	}

	done := reqCtx.Track("openai_extract_call")
	text, usage, err := o.complete(ctx, message, reqCtx, common.CalculateExtractTokenCost)
	if err != nil {
		done("❌ FAILED")
		return "", nil, err
	}
	done(fmt.Sprintf("%d output tokens", usage.OutputTokens))
	return text, usage, nil
}

// Repair asks the model to return valid JSON for malformed output.
func (o *OpenAIProvider) Repair(ctx context.Context, rawText, schemaHint string, reqCtx *common.RequestContext) (string, *common.TokenUsage, error) {
	message := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: BuildRepairPrompt(rawText, schemaHint),
	}

	done := reqCtx.Track("openai_repair_call")
	text, usage, err := o.complete(ctx, message, reqCtx, common.CalculateRepairTokenCost)
	if err != nil {
		done("❌ FAILED")
		return "", nil, err
	}
	done(fmt.Sprintf("%d output tokens", usage.OutputTokens))
	return text, usage, nil
}

func (o *OpenAIProvider) complete(
	ctx context.Context,
	message openai.ChatCompletionMessage,
	reqCtx *common.RequestContext,
	cost func(input, output int) common.TokenUsage,
) (string, *common.TokenUsage, error) {
	request := openai.ChatCompletionRequest{
		Model:          o.modelName,
		Messages:       []openai.ChatCompletionMessage{message},
		MaxTokens:      openAIMaxTokens,
		Temperature:    0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := callWithRetry(ctx, o.GetProviderName(), reqCtx, o.retry,
		func(ctx context.Context) (openai.ChatCompletionResponse, error) {
			return o.client.CreateChatCompletion(ctx, request)
		})
	if err != nil {
		return "", nil, err
	}

	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("no choices returned from %s", o.modelName)
	}
	choice := resp.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", nil, fmt.Errorf("empty content from %s (finish reason: %s)", o.modelName, choice.FinishReason)
	}
	if choice.FinishReason == openai.FinishReasonLength {
		reqCtx.LogWarning("⚠️  Response was truncated (finish reason: length, model: %s)", o.modelName)
	}

	usage := cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	reqCtx.AddTokens(&usage)
	return choice.Message.Content, &usage, nil
}
