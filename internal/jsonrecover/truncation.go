// truncation.go - Offline repair for output cut off by token limits

package jsonrecover

import (
	"context"
	"errors"
	"strings"
)

var errNotRepairable = errors.New("no complete element to keep")

// openContainer is one '{' or '[' still open while scanning. cut is the end of its
// last complete element, or just past the opener when it has none yet.
type openContainer struct {
	closer byte
	open   int
	cut    int
}

// CloseTruncated repairs a document cut off mid-way. The innermost array still open at
// the end of the text (the root when no array is open) keeps its complete elements;
// anything still open inside it is an incomplete element and is dropped whole, then
// every enclosing structure is closed. A complete leading structure is returned as is.
func CloseTruncated(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}

	var stack []openContainer
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
			stack = append(stack, openContainer{closer: '}', open: i, cut: i + 1})
		case '[':
			stack = append(stack, openContainer{closer: ']', open: i, cut: i + 1})
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1].closer != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return text[start : i+1], true
			}
			stack[len(stack)-1].cut = i + 1
		case ',':
			if len(stack) > 0 {
				stack[len(stack)-1].cut = i
			}
		}
	}

	keep := 0
	for j := len(stack) - 1; j >= 0; j-- {
		if stack[j].closer == ']' {
			keep = j
			break
		}
	}
	kept := stack[keep]
	if kept.cut == kept.open+1 {
		return "", false
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(text[start:kept.cut], " \t\r\n"))
	for j := keep; j >= 0; j-- {
		b.WriteByte(stack[j].closer)
	}
	return b.String(), true
}

// LocalRepair is a RepairFunc that needs no collaborator.
func LocalRepair(_ context.Context, raw, _ string) (string, error) {
	repaired, ok := CloseTruncated(raw)
	if !ok {
		return "", errNotRepairable
	}
	return repaired, nil
}
