// factory.go - Extractor factory for creating provider instances

package ai

import (
	"context"
	"fmt"

	"github.com/bosocmputer/lab_report_reconciler/configs"
	"github.com/bosocmputer/lab_report_reconciler/internal/common"
	"github.com/bosocmputer/lab_report_reconciler/internal/logging"
	"go.uber.org/zap"
)

// ProviderHeuristic disables model extraction; the pipeline uses its line extractor only.
const ProviderHeuristic = "heuristic"

// ConfigFromEnv builds a ProviderConfig from the loaded configs package.
func ConfigFromEnv(provider string) ProviderConfig {
	return ProviderConfig{
		Provider:          provider,
		GeminiAPIKey:      configs.GEMINI_API_KEY,
		ExtractModel:      configs.EXTRACT_MODEL_NAME,
		RepairModel:       configs.REPAIR_MODEL_NAME,
		OpenAIAPIKey:      configs.OPENAI_API_KEY,
		OpenAIBaseURL:     configs.OPENAI_BASE_URL,
		OpenAIModel:       configs.OPENAI_MODEL_NAME,
		PreprocessImages:  configs.ENABLE_IMAGE_PREPROCESSING,
		MaxImageDimension: configs.MAX_IMAGE_DIMENSION,
	}
}

// NewProvider creates a provider by name. "heuristic" returns (nil, nil).
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini provider requires GEMINI_API_KEY")
		}
		logging.L().Info("🔵 Creating Gemini provider", zap.String("model", cfg.ExtractModel))
		return NewGeminiProvider(cfg), nil

	case "openai":
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY or OPENAI_BASE_URL")
		}
		logging.L().Info("🔷 Creating OpenAI-compatible provider", zap.String("model", cfg.OpenAIModel), zap.String("base_url", cfg.OpenAIBaseURL))
		return NewOpenAIProvider(cfg), nil

	case ProviderHeuristic, "":
		logging.L().Info("🔍 No model provider configured, heuristic extraction only")
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported extractor provider: %s (supported: gemini, openai, heuristic)", cfg.Provider)
	}
}

// CreateExtractor builds the configured extractor and repairer. When FALLBACK_PROVIDER
// names a second provider, extraction falls back to it after the primary fails.
// Both return values are nil in heuristic mode.
func CreateExtractor() (Extractor, Repairer, error) {
	primary, err := NewProvider(ConfigFromEnv(configs.EXTRACTOR_PROVIDER))
	if err != nil {
		return nil, nil, err
	}
	if primary == nil {
		return nil, nil, nil
	}

	var repairer Repairer
	if configs.REPAIR_ENABLED {
		repairer = primary
	}

	fallbackName := configs.FALLBACK_PROVIDER
	if fallbackName == "" || fallbackName == primary.GetProviderName() || fallbackName == ProviderHeuristic {
		return primary, repairer, nil
	}

	fallback, err := NewProvider(ConfigFromEnv(fallbackName))
	if err != nil {
		logging.L().Warn("⚠️  Fallback provider not configured", zap.String("provider", fallbackName), zap.Error(err))
		return primary, repairer, nil
	}
	logging.L().Info("✅ Fallback provider configured", zap.String("provider", fallback.GetProviderName()))
	return NewFallbackExtractor(primary, fallback), repairer, nil
}

// fallbackExtractor tries the primary extractor and, on error, the fallback.
type fallbackExtractor struct {
	primary  Extractor
	fallback Extractor
}

// NewFallbackExtractor wraps primary with a fallback; a nil fallback returns primary.
func NewFallbackExtractor(primary, fallback Extractor) Extractor {
	if fallback == nil {
		return primary
	}
	return &fallbackExtractor{primary: primary, fallback: fallback}
}

func (f *fallbackExtractor) GetProviderName() string {
	return f.primary.GetProviderName() + "+" + f.fallback.GetProviderName()
}

func (f *fallbackExtractor) Extract(ctx context.Context, segment string, images []BinaryFile, schemaHint string, reqCtx *common.RequestContext) (string, *common.TokenUsage, error) {
	text, usage, err := f.primary.Extract(ctx, segment, images, schemaHint, reqCtx)
	if err == nil {
		return text, usage, nil
	}
	if ctx.Err() != nil {
		return "", nil, err
	}

	reqCtx.LogWarning("⚠️  %s failed, falling back to %s: %v", f.primary.GetProviderName(), f.fallback.GetProviderName(), err)
	text, usage, fbErr := f.fallback.Extract(ctx, segment, images, schemaHint, reqCtx)
	if fbErr != nil {
		return "", nil, fmt.Errorf("primary: %v; fallback: %w", err, fbErr)
	}
	return text, usage, nil
}
