// config.go - Configuration loaded from environment variables

package configs

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	// Extractor provider configuration
	EXTRACTOR_PROVIDER string // "gemini", "openai" or "heuristic"
	FALLBACK_PROVIDER  string // optional secondary provider, "" disables

	// Gemini AI Configuration
	GEMINI_API_KEY     string
	EXTRACT_MODEL_NAME string
	REPAIR_MODEL_NAME  string

	// OpenAI-compatible endpoint (OpenAI, Mistral, Ollama)
	OPENAI_API_KEY    string
	OPENAI_BASE_URL   string
	OPENAI_MODEL_NAME string

	// Pricing Configuration (per 1M tokens in USD)
	EXTRACT_INPUT_PRICE_PER_MILLION  float64
	EXTRACT_OUTPUT_PRICE_PER_MILLION float64
	REPAIR_INPUT_PRICE_PER_MILLION   float64
	REPAIR_OUTPUT_PRICE_PER_MILLION  float64

	// Server Configuration
	PORT            string
	ALLOWED_ORIGINS string

	// Dictionary source
	DICTIONARY_SOURCE           string // "file" or "mongo"
	DICTIONARY_PATH             string
	DICTIONARY_NAME_COLUMN      int // zero-based column for tab-delimited files
	MONGO_URI                   string
	MONGO_DB_NAME               string
	MONGO_DICTIONARY_COLLECTION string

	// Chunking and windowing
	MAX_CHUNKS           int
	CHUNK_OVERLAP_CHARS  int
	WINDOW_CHARS         int
	WINDOW_OVERLAP_CHARS int
	MAX_WINDOWS          int
	PROMPT_CHAR_LIMIT    int
	ANCHOR_TERMS         []string

	// Fan-out and reconciliation
	EXTRACT_CONCURRENCY    int
	SEGMENT_TIMEOUT        time.Duration
	REPAIR_ENABLED         bool
	OBSERVATION_PRECEDENCE string // "first" or "latest"

	// Rate limiting for AI calls
	RATE_LIMIT_RPM   int
	RATE_LIMIT_BURST int

	// Image preprocessing settings
	ENABLE_IMAGE_PREPROCESSING bool
	MAX_IMAGE_DIMENSION        int

	// Logging
	LOG_LEVEL  string
	LOG_FORMAT string // "json" or "console"
)

// defaultAnchors are the section headings that usually open the result table of a lab report.
var defaultAnchors = []string{
	"test name", "investigation", "parameter", "result", "observed value",
	"biological reference", "reference range", "complete blood count", "lipid profile",
}

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	if err := load(); err != nil {
		log.Fatal(err)
	}

	log.Println("✓ Configuration loaded successfully")
}

// load reads every variable and validates the provider settings.
func load() error {
	EXTRACTOR_PROVIDER = strings.ToLower(getEnv("EXTRACTOR_PROVIDER", "gemini"))
	FALLBACK_PROVIDER = strings.ToLower(getEnv("FALLBACK_PROVIDER", ""))

	GEMINI_API_KEY = getEnv("GEMINI_API_KEY", "")
	EXTRACT_MODEL_NAME = getEnv("EXTRACT_MODEL_NAME", "gemini-2.5-flash")
	REPAIR_MODEL_NAME = getEnv("REPAIR_MODEL_NAME", "gemini-2.5-flash-lite")

	OPENAI_API_KEY = getEnv("OPENAI_API_KEY", "")
	OPENAI_BASE_URL = getEnv("OPENAI_BASE_URL", "")
	OPENAI_MODEL_NAME = getEnv("OPENAI_MODEL_NAME", "gpt-4o-mini")

	// Gemini 2.5 Flash: Input=$0.30, Output=$2.50
	// Gemini 2.5 Flash-Lite: Input=$0.10, Output=$0.40
	EXTRACT_INPUT_PRICE_PER_MILLION = getEnvFloat("EXTRACT_INPUT_PRICE_PER_MILLION", 0.30)
	EXTRACT_OUTPUT_PRICE_PER_MILLION = getEnvFloat("EXTRACT_OUTPUT_PRICE_PER_MILLION", 2.50)
	REPAIR_INPUT_PRICE_PER_MILLION = getEnvFloat("REPAIR_INPUT_PRICE_PER_MILLION", 0.10)
	REPAIR_OUTPUT_PRICE_PER_MILLION = getEnvFloat("REPAIR_OUTPUT_PRICE_PER_MILLION", 0.40)

	PORT = getEnv("PORT", "8080")
	ALLOWED_ORIGINS = getEnv("ALLOWED_ORIGINS", "*")

	DICTIONARY_SOURCE = strings.ToLower(getEnv("DICTIONARY_SOURCE", "file"))
	DICTIONARY_PATH = getEnv("DICTIONARY_PATH", "data/test_dictionary.json")
	DICTIONARY_NAME_COLUMN = getEnvInt("DICTIONARY_NAME_COLUMN", 0)
	MONGO_URI = getEnv("MONGO_URI", "mongodb://localhost:27017")
	MONGO_DB_NAME = getEnv("MONGO_DB_NAME", "labrecon")
	MONGO_DICTIONARY_COLLECTION = getEnv("MONGO_DICTIONARY_COLLECTION", "test_dictionary")

	MAX_CHUNKS = getEnvInt("MAX_CHUNKS", 4)
	CHUNK_OVERLAP_CHARS = getEnvInt("CHUNK_OVERLAP_CHARS", 400)
	WINDOW_CHARS = getEnvInt("WINDOW_CHARS", 12000)
	WINDOW_OVERLAP_CHARS = getEnvInt("WINDOW_OVERLAP_CHARS", 800)
	MAX_WINDOWS = getEnvInt("MAX_WINDOWS", 6)
	PROMPT_CHAR_LIMIT = getEnvInt("PROMPT_CHAR_LIMIT", 16000)
	ANCHOR_TERMS = getEnvList("ANCHOR_TERMS", defaultAnchors)

	EXTRACT_CONCURRENCY = getEnvInt("EXTRACT_CONCURRENCY", 4)
	SEGMENT_TIMEOUT = time.Duration(getEnvInt("SEGMENT_TIMEOUT", 90)) * time.Second
	REPAIR_ENABLED = getEnvBool("REPAIR_ENABLED", true)
	OBSERVATION_PRECEDENCE = strings.ToLower(getEnv("OBSERVATION_PRECEDENCE", "first"))

	RATE_LIMIT_RPM = getEnvInt("RATE_LIMIT_RPM", 12)
	RATE_LIMIT_BURST = getEnvInt("RATE_LIMIT_BURST", 4)

	ENABLE_IMAGE_PREPROCESSING = getEnvBool("ENABLE_IMAGE_PREPROCESSING", true)
	MAX_IMAGE_DIMENSION = getEnvInt("MAX_IMAGE_DIMENSION", 2000)

	LOG_LEVEL = getEnv("LOG_LEVEL", "info")
	LOG_FORMAT = getEnv("LOG_FORMAT", "console")

	switch EXTRACTOR_PROVIDER {
	case "gemini":
		if GEMINI_API_KEY == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required when EXTRACTOR_PROVIDER=gemini")
		}
	case "openai":
		if OPENAI_API_KEY == "" && OPENAI_BASE_URL == "" {
			return fmt.Errorf("OPENAI_API_KEY or OPENAI_BASE_URL is required when EXTRACTOR_PROVIDER=openai")
		}
	case "heuristic":
	default:
		return fmt.Errorf("unsupported EXTRACTOR_PROVIDER: %s (supported: gemini, openai, heuristic)", EXTRACTOR_PROVIDER)
	}

	switch OBSERVATION_PRECEDENCE {
	case "first", "latest":
	default:
		return fmt.Errorf("unsupported OBSERVATION_PRECEDENCE: %s (supported: first, latest)", OBSERVATION_PRECEDENCE)
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blank entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
