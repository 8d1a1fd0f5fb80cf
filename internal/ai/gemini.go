// gemini.go - Gemini AI client for lab test extraction and JSON repair

package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/bosocmputer/lab_report_reconciler/internal/common"
	"github.com/bosocmputer/lab_report_reconciler/internal/processor"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// maxOutputTokens is Gemini's output ceiling; set explicitly so truncation is reported
// through FinishReason instead of happening silently.
const maxOutputTokens int32 = 8192

var statusEnum = []string{"LOW", "HIGH", "NORMAL", "ABSENT", "PRESENT", "NOT_PRESENTED", "NOT_FOUND"}

// GeminiProvider implements Provider for Google Gemini
type GeminiProvider struct {
	apiKey       string
	extractModel string
	repairModel  string

	preprocessImages  bool
	maxImageDimension int
	retry             RetryConfig
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(cfg ProviderConfig) *GeminiProvider {
	repairModel := cfg.RepairModel
	if repairModel == "" {
		repairModel = cfg.ExtractModel
	}
	return &GeminiProvider{
		apiKey:            cfg.GeminiAPIKey,
		extractModel:      cfg.ExtractModel,
		repairModel:       repairModel,
		preprocessImages:  cfg.PreprocessImages,
		maxImageDimension: cfg.MaxImageDimension,
		retry:             DefaultRetryConfig,
	}
}

// GetProviderName returns "gemini"
func (g *GeminiProvider) GetProviderName() string {
	return "gemini"
}

// Extract sends one segment plus optional page images and returns the raw JSON reply.
func (g *GeminiProvider) Extract(ctx context.Context, segment string, images []BinaryFile, schemaHint string, reqCtx *common.RequestContext) (string, *common.TokenUsage, error) {
	// Step 1: Prepare parts
	done := reqCtx.Track("gemini_build_request")
	parts := []genai.Part{genai.Text(BuildExtractPrompt(segment, schemaHint, len(images) > 0))}
	for _, img := range images {
		data, mimeType := img.Data, img.MIMEType
		if g.preprocessImages {
			processed, processedType, err := processor.PreprocessImage(data, mimeType, g.maxImageDimension)
			if err != nil {
				reqCtx.LogWarning("⚠️  Preprocessing %s failed, using original: %v", img.Name, err)
			} else {
				data, mimeType = processed, processedType
			}
		}
		parts = append(parts, genai.Blob{MIMEType: mimeType, Data: data})
	}
	done(fmt.Sprintf("%d chars, %d images", len(segment), len(images)))

	// Step 2: Call the model
	done = reqCtx.Track("gemini_extract_call")
	text, usage, err := g.generate(ctx, g.extractModel, extractSchema(), parts, reqCtx, common.CalculateExtractTokenCost)
	if err != nil {
		done("❌ FAILED")
		return "", nil, err
	}
	done(fmt.Sprintf("%d output tokens", usage.OutputTokens))
	return text, usage, nil
}

// Repair asks the repair model to turn malformed output back into valid JSON.
func (g *GeminiProvider) Repair(ctx context.Context, rawText, schemaHint string, reqCtx *common.RequestContext) (string, *common.TokenUsage, error) {
	done := reqCtx.Track("gemini_repair_call")
	parts := []genai.Part{genai.Text(BuildRepairPrompt(rawText, schemaHint))}
	text, usage, err := g.generate(ctx, g.repairModel, nil, parts, reqCtx, common.CalculateRepairTokenCost)
	if err != nil {
		done("❌ FAILED")
		return "", nil, err
	}
	done(fmt.Sprintf("%d output tokens", usage.OutputTokens))
	return text, usage, nil
}

func (g *GeminiProvider) generate(
	ctx context.Context,
	modelName string,
	schema *genai.Schema,
	parts []genai.Part,
	reqCtx *common.RequestContext,
	cost func(input, output int) common.TokenUsage,
) (string, *common.TokenUsage, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(modelName)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: ptr(maxOutputTokens),
		Temperature:     ptrFloat(0),
	}
	model.ResponseMIMEType = "application/json"
	if schema != nil {
		model.ResponseSchema = schema
	}

	resp, err := callWithRetry(ctx, g.GetProviderName(), reqCtx, g.retry,
		func(ctx context.Context) (*genai.GenerateContentResponse, error) {
			return model.GenerateContent(ctx, parts...)
		})
	if err != nil {
		return "", nil, err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil, fmt.Errorf("no candidates returned from Gemini API")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", nil, fmt.Errorf("empty text from Gemini API (FinishReason: %v)", resp.Candidates[0].FinishReason)
	}

	// Truncated replies are still returned; JSON recovery closes what it can.
	if resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		reqCtx.LogWarning("⚠️  Gemini response was truncated (FinishReason: MAX_TOKENS, model: %s)", modelName)
	}

	usage := &common.TokenUsage{}
	if resp.UsageMetadata != nil {
		u := cost(int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
		usage = &u
	}
	reqCtx.AddTokens(usage)
	return sb.String(), usage, nil
}

// extractSchema mirrors SchemaHint for Gemini's structured output mode.
func extractSchema() *genai.Schema {
	observation := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"value":       {Type: genai.TypeString, Description: "Result as printed"},
			"dateAndTime": {Type: genai.TypeString, Nullable: true, Description: "Collection date of this result"},
			"status":      {Type: genai.TypeString, Enum: statusEnum},
		},
		Required: []string{"value"},
	}

	test := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"testName":       {Type: genai.TypeString, Description: "Test name without method"},
			"value":          {Type: genai.TypeString, Nullable: true},
			"unit":           {Type: genai.TypeString, Nullable: true},
			"referenceRange": {Type: genai.TypeString, Nullable: true},
			"section":        {Type: genai.TypeString, Nullable: true, Description: "Report heading"},
			"page":           {Type: genai.TypeInteger, Nullable: true},
			"remarks":        {Type: genai.TypeString, Nullable: true},
			"status":         {Type: genai.TypeString, Enum: statusEnum},
			"results":        {Type: genai.TypeArray, Items: observation},
		},
		Required: []string{"testName"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"tests": {Type: genai.TypeArray, Items: test},
		},
		Required: []string{"tests"},
	}
}

func ptr(i int32) *int32 {
	return &i
}

func ptrFloat(f float32) *float32 {
	return &f
}
