// interface.go - Extractor and repair interfaces for supporting multiple AI providers

package ai

import (
	"context"

	"github.com/bosocmputer/lab_report_reconciler/internal/common"
)

// BinaryFile is an image or document page sent alongside a text segment.
type BinaryFile struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Extractor asks a model to pull lab tests out of a text segment.
// The returned text usually contains JSON but is not guaranteed to be valid.
type Extractor interface {
	// Extract sends one segment (plus optional page images) and returns the raw reply.
	Extract(ctx context.Context, segment string, images []BinaryFile, schemaHint string, reqCtx *common.RequestContext) (string, *common.TokenUsage, error)

	// GetProviderName returns the name of the provider (e.g., "gemini", "openai")
	GetProviderName() string
}

// Repairer asks a model to turn truncated or malformed JSON back into valid JSON.
type Repairer interface {
	Repair(ctx context.Context, rawText, schemaHint string, reqCtx *common.RequestContext) (string, *common.TokenUsage, error)
}

// Provider is a backend that can both extract and repair.
type Provider interface {
	Extractor
	Repairer
}

// ProviderConfig contains configuration for AI providers
type ProviderConfig struct {
	// Provider name: "gemini", "openai" or "heuristic"
	Provider string

	// Gemini configuration
	GeminiAPIKey string
	ExtractModel string
	RepairModel  string

	// OpenAI-compatible configuration (OpenAI, Mistral, Ollama)
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Image preprocessing before upload
	PreprocessImages  bool
	MaxImageDimension int
}
