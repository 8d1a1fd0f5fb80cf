package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsForHeuristicProvider(t *testing.T) {
	t.Setenv("EXTRACTOR_PROVIDER", "heuristic")
	t.Setenv("MAX_CHUNKS", "")
	t.Setenv("ANCHOR_TERMS", "")

	require.NoError(t, load())

	assert.Equal(t, "heuristic", EXTRACTOR_PROVIDER)
	assert.Equal(t, 4, MAX_CHUNKS)
	assert.Equal(t, 90*time.Second, SEGMENT_TIMEOUT)
	assert.Equal(t, "first", OBSERVATION_PRECEDENCE)
	assert.Equal(t, defaultAnchors, ANCHOR_TERMS)
}

func TestLoadRequiresGeminiKey(t *testing.T) {
	t.Setenv("EXTRACTOR_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "")

	assert.ErrorContains(t, load(), "GEMINI_API_KEY")
}

func TestLoadRejectsUnknownPrecedence(t *testing.T) {
	t.Setenv("EXTRACTOR_PROVIDER", "heuristic")
	t.Setenv("OBSERVATION_PRECEDENCE", "random")

	assert.ErrorContains(t, load(), "OBSERVATION_PRECEDENCE")
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("ANCHOR_TERMS", " lipid profile, ,hemogram ")
	assert.Equal(t, []string{"lipid profile", "hemogram"}, getEnvList("ANCHOR_TERMS", nil))

	t.Setenv("ANCHOR_TERMS", " , ")
	assert.Equal(t, []string{"x"}, getEnvList("ANCHOR_TERMS", []string{"x"}))
}

func TestGetEnvTypedHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "abc")
	t.Setenv("SOME_BOOL", "maybe")
	t.Setenv("SOME_FLOAT", "1.5")

	assert.Equal(t, 7, getEnvInt("SOME_INT", 7))
	assert.True(t, getEnvBool("SOME_BOOL", true))
	assert.InDelta(t, 1.5, getEnvFloat("SOME_FLOAT", 0), 1e-9)
}
