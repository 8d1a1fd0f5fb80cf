// normalize.go - Text clean-up applied before line extraction

package heuristic

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// minGluedLetters is the shortest letter run that gets split from a following number,
// so "Hemoglobin13.5" splits but "B12" and "HbA1c" do not.
const minGluedLetters = 4

// NormalizeText applies NFKC, separates numbers from glued units and names, and
// collapses whitespace runs on every line. Blank lines are dropped.
func NormalizeText(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(splitGlued(line)), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func splitGlued(line string) string {
	rs := []rune(line)
	var b strings.Builder
	b.Grow(len(line) + 8)

	letterRun := 0
	inNum := false
	standalone := false
	for i, r := range rs {
		var prev rune
		if i > 0 {
			prev = rs[i-1]
		}

		switch {
		case unicode.IsDigit(r):
			if !inNum {
				inNum = true
				standalone = i == 0 || !unicode.IsLetter(prev)
				if unicode.IsLetter(prev) && letterRun >= minGluedLetters {
					b.WriteRune(' ')
					standalone = true
				}
			}
			letterRun = 0
		case (r == '.' || r == ',') && inNum && i+1 < len(rs) && unicode.IsDigit(rs[i+1]):
			// decimal or grouping separator inside a number
		case unicode.IsLetter(r):
			if inNum && standalone && unicode.IsDigit(prev) {
				b.WriteRune(' ')
			}
			inNum = false
			if unicode.IsLetter(prev) {
				letterRun++
			} else {
				letterRun = 1
			}
		default:
			inNum = false
			letterRun = 0
		}
		b.WriteRune(r)
	}
	return b.String()
}
