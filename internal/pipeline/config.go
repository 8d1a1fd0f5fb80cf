// config.go - Engine configuration derived from the configs package

package pipeline

import (
	"time"

	"github.com/bosocmputer/lab_report_reconciler/configs"
	"github.com/bosocmputer/lab_report_reconciler/internal/chunker"
	"github.com/bosocmputer/lab_report_reconciler/internal/merge"
)

// Config tunes one Engine. Zero values fall back to the defaults in withDefaults.
type Config struct {
	Chunking       chunker.Options
	Concurrency    int
	SegmentTimeout time.Duration
	Policy         merge.Policy
	RepairEnabled  bool
	// HeuristicFallback runs the line extractor when no other source produced records.
	HeuristicFallback bool
}

// ConfigFromEnv reads the loaded configs package.
func ConfigFromEnv() Config {
	return Config{
		Chunking: chunker.Options{
			MaxChunks:     configs.MAX_CHUNKS,
			ChunkOverlap:  configs.CHUNK_OVERLAP_CHARS,
			WindowChars:   configs.WINDOW_CHARS,
			WindowOverlap: configs.WINDOW_OVERLAP_CHARS,
			MaxWindows:    configs.MAX_WINDOWS,
			PromptLimit:   configs.PROMPT_CHAR_LIMIT,
			Anchors:       configs.ANCHOR_TERMS,
		},
		Concurrency:       configs.EXTRACT_CONCURRENCY,
		SegmentTimeout:    configs.SEGMENT_TIMEOUT,
		Policy:            merge.ParsePolicy(configs.OBSERVATION_PRECEDENCE),
		RepairEnabled:     configs.REPAIR_ENABLED,
		HeuristicFallback: true,
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.Chunking.MaxChunks < 1 {
		c.Chunking.MaxChunks = 1
	}
	return c
}
