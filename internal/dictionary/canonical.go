// canonical.go - Canonical and merge keys for test names

package dictionary

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// methodTokens are assay/technology names that may be glued onto a test name.
// Longer tokens come first so "eclia" is not reduced to "e" by "clia".
var methodTokens = []string{
	"turbidimetry",
	"colorimetry",
	"photometry",
	"calculated",
	"icpms",
	"eclia",
	"elisa",
	"hplc",
	"clia",
}

// CanonicalKey lowercases s and keeps only letters and digits.
// It is idempotent: CanonicalKey(CanonicalKey(x)) == CanonicalKey(x).
func CanonicalKey(s string) string {
	s = norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// MergeKey is the canonical key with method tokens removed, so "Vitamin D (HPLC)" and
// "Vitamin D" merge. A name made only of method tokens keeps its canonical key.
func MergeKey(s string) string {
	key := CanonicalKey(s)
	stripped := key
	for _, tok := range methodTokens {
		stripped = strings.ReplaceAll(stripped, tok, "")
	}
	if stripped == "" {
		return key
	}
	return stripped
}

// IsMethodKey reports whether a canonical key is exactly one method token.
func IsMethodKey(key string) bool {
	for _, tok := range methodTokens {
		if key == tok {
			return true
		}
	}
	return false
}
