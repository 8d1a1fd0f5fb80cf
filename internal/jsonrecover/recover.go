// recover.go - Three-tier recovery of JSON from unreliable model output

package jsonrecover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Outcome records which tier produced the value.
type Outcome string

const (
	OutcomeDirect   Outcome = "direct"   // whole text parsed strictly
	OutcomeScanned  Outcome = "scanned"  // balanced substring parsed
	OutcomeRepaired Outcome = "repaired" // parsed after a repair phase
	OutcomeFailed   Outcome = "failed"
)

// maxScanCandidates bounds how many balanced substrings tier 2 will try.
const maxScanCandidates = 16

const previewChars = 500

// RepairFunc asks a collaborator to turn broken output into valid JSON.
type RepairFunc func(ctx context.Context, raw, schemaHint string) (string, error)

// Result is the outcome of Recover.
type Result struct {
	Value   any
	Outcome Outcome
	// Preview holds the head of the raw text when recovery failed.
	Preview string
	// RepairPhase is the 1-based index of the repair phase that produced Value, 0 when
	// no repair was needed or none succeeded.
	RepairPhase int
	// RepairErrors collects failures of individual repair phases.
	RepairErrors []error
}

// ErrNoJSON is returned by Parse when neither the whole text nor any balanced
// substring decodes.
var ErrNoJSON = errors.New("no parseable JSON object or array found")

// Parse runs tiers 1 and 2.
func Parse(text string) (any, Outcome, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, OutcomeFailed, ErrNoJSON
	}

	// Tier 1: the whole text
	if v, err := Decode(trimmed); err == nil {
		return v, OutcomeDirect, nil
	}

	// Tier 2: balanced substrings, first one that decodes wins
	pos := 0
	for attempt := 0; attempt < maxScanCandidates; attempt++ {
		start, end, ok := FindBalanced(trimmed, pos)
		if start < 0 {
			break
		}
		if !ok && end == len(trimmed) {
			// Unterminated: anything nested inside is a fragment of a truncated
			// document, leave it to the repair phase.
			break
		}
		if ok {
			candidate := trimmed[start:end]
			if v, err := Decode(candidate); err == nil {
				return v, OutcomeScanned, nil
			}
			if v, err := Decode(EscapeControlChars(candidate)); err == nil {
				return v, OutcomeScanned, nil
			}
		}
		pos = start + 1
	}

	return nil, OutcomeFailed, ErrNoJSON
}

// Recover runs tiers 1 and 2 and, when both fail, each repair phase in turn followed
// by tiers 1 and 2 on the repaired text. Context cancellation stops the repair phase.
func Recover(ctx context.Context, raw, schemaHint string, repairs ...RepairFunc) Result {
	if v, outcome, err := Parse(raw); err == nil {
		return Result{Value: v, Outcome: outcome}
	}

	result := Result{Outcome: OutcomeFailed, Preview: Preview(raw, previewChars)}
	for i, repair := range repairs {
		if repair == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.RepairErrors = append(result.RepairErrors, err)
			break
		}
		repaired, err := repair(ctx, raw, schemaHint)
		if err != nil {
			result.RepairErrors = append(result.RepairErrors, fmt.Errorf("repair phase %d: %w", i+1, err))
			continue
		}
		if v, _, err := Parse(repaired); err == nil {
			return Result{Value: v, Outcome: OutcomeRepaired, RepairPhase: i + 1, RepairErrors: result.RepairErrors}
		}
		result.RepairErrors = append(result.RepairErrors, fmt.Errorf("repair phase %d: %w", i+1, ErrNoJSON))
	}
	return result
}

// FindBalanced locates the first '{' or '[' at or after from and returns the bounds of
// the structure it opens. ok is false when that structure is unterminated or mismatched;
// start is -1 when no opener exists. Brackets inside string literals are ignored.
func FindBalanced(text string, from int) (start, end int, ok bool) {
	start = -1
	for i := from; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return -1, -1, false
	}

	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return start, i, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return start, i + 1, true
			}
		}
	}
	return start, len(text), false
}

// EscapeControlChars escapes raw control characters that appear inside string
// literals; models regularly emit literal newlines there.
func EscapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for _, r := range s {
		if !inString {
			if r == '"' {
				inString = true
			}
			b.WriteRune(r)
			continue
		}
		switch {
		case escaped:
			escaped = false
			b.WriteRune(r)
		case r == '\\':
			escaped = true
			b.WriteRune(r)
		case r == '"':
			inString = false
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Preview returns at most n runes of s, marking truncation.
func Preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "... (truncated)"
}
