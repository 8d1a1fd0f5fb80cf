// chunker.go - Fixed chunking, sliding windows and anchor-aware prompt capping

package chunker

import (
	"strings"
)

// Chunk is one slice of a document.
type Chunk struct {
	Text  string
	Index int
	Total int
}

// Segment is one extractor call's worth of text.
type Segment struct {
	Chunk  int
	Window int
	Text   string
}

// Options drives Plan.
type Options struct {
	MaxChunks     int
	ChunkOverlap  int
	WindowChars   int
	WindowOverlap int
	MaxWindows    int
	PromptLimit   int
	Anchors       []string
}

// TotalChunks is min(maxChunks, max(1, length)).
func TotalChunks(length, maxChunks int) int {
	if maxChunks < 1 {
		maxChunks = 1
	}
	return min(maxChunks, max(1, length))
}

// FixedChunk splits text into near-equal rune slices and returns the one at index, with
// index clamped into range. Slice lengths differ by at most one and none is empty.
func FixedChunk(text string, index, maxChunks int) Chunk {
	return FixedChunkWithOverlap(text, index, maxChunks, 0)
}

// FixedChunkWithOverlap is FixedChunk padded by overlap runes on interior boundaries.
func FixedChunkWithOverlap(text string, index, maxChunks, overlap int) Chunk {
	runes := []rune(text)
	total := TotalChunks(len(runes), maxChunks)
	index = min(max(index, 0), total-1)

	start := index * len(runes) / total
	end := (index + 1) * len(runes) / total

	if overlap > 0 {
		if index > 0 {
			start = max(0, start-overlap)
		}
		if index < total-1 {
			end = min(len(runes), end+overlap)
		}
	}
	return Chunk{Text: string(runes[start:end]), Index: index, Total: total}
}

// Windows slides a window of windowChars runes, stepping windowChars-overlapChars,
// over chunk. It stops at the end of the chunk or after maxWindows windows.
func Windows(chunk string, windowChars, overlapChars, maxWindows int) []string {
	runes := []rune(chunk)
	if windowChars <= 0 || len(runes) <= windowChars {
		return []string{chunk}
	}
	if maxWindows < 1 {
		maxWindows = 1
	}
	step := windowChars - overlapChars
	if step < 1 {
		step = 1
	}

	var out []string
	for start := 0; start < len(runes) && len(out) < maxWindows; start += step {
		end := min(start+windowChars, len(runes))
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

const sampleSeparator = "\n...\n"

// CapWithAnchors trims text to limit runes. The kept span is centred on the first
// occurrence of any anchor (case-insensitive, earliest in the text wins); without an
// anchor a head/middle/tail sample is kept.
func CapWithAnchors(text string, limit int, anchors []string) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}

	if pos := firstAnchor(runes, anchors); pos >= 0 {
		start := max(0, pos-limit/2)
		end := min(len(runes), start+limit)
		start = max(0, end-limit)
		return string(runes[start:end])
	}

	sep := len([]rune(sampleSeparator))
	part := (limit - 2*sep) / 3
	if part <= 0 {
		return string(runes[:limit])
	}
	midStart := (len(runes) - part) / 2
	return string(runes[:part]) + sampleSeparator +
		string(runes[midStart:midStart+part]) + sampleSeparator +
		string(runes[len(runes)-part:])
}

// firstAnchor returns the rune offset of the earliest anchor hit, or -1.
func firstAnchor(runes []rune, anchors []string) int {
	lower := []rune(strings.ToLower(string(runes)))
	if len(lower) != len(runes) {
		// Case folding changed the length; search the original text instead.
		lower = runes
	}
	hay := string(lower)

	best := -1
	for _, a := range anchors {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		idx := strings.Index(hay, a)
		if idx < 0 {
			continue
		}
		pos := len([]rune(hay[:idx]))
		if best < 0 || pos < best {
			best = pos
		}
	}
	return best
}

// Plan expands text into every chunk/window segment, each capped for the prompt.
func Plan(text string, opts Options) []Segment {
	total := TotalChunks(len([]rune(text)), opts.MaxChunks)

	var segments []Segment
	for i := 0; i < total; i++ {
		chunk := FixedChunkWithOverlap(text, i, opts.MaxChunks, opts.ChunkOverlap)
		for w, window := range Windows(chunk.Text, opts.WindowChars, opts.WindowOverlap, opts.MaxWindows) {
			if strings.TrimSpace(window) == "" {
				continue
			}
			segments = append(segments, Segment{
				Chunk:  i,
				Window: w,
				Text:   CapWithAnchors(window, opts.PromptLimit, opts.Anchors),
			})
		}
	}
	return segments
}
