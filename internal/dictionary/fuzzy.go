// fuzzy.go - Substitution-only fallback for OCR-misread test names

package dictionary

import "unicode"

// at most one substitution per this many runes; shorter keys never match fuzzily
const fuzzyRunesPerEdit = 10

// fuzzyMatch accepts only same-length keys that differ by letter substitutions, e.g.
// "creatinlne" for "creatinine". Insertions and deletions are refused: they turn
// "vldlcholesterol" into "ldlcholesterol" and "vitaminb1" into "vitaminb12", which are
// different tests. A differing digit is never a typo ("t3" vs "t4"). Ties are refused.
func (d *Dictionary) fuzzyMatch(name string) (string, bool) {
	if d == nil {
		return "", false
	}
	key := []rune(MergeKey(name))
	maxEdits := len(key) / fuzzyRunesPerEdit
	if maxEdits == 0 {
		return "", false
	}
	best, bestEdits, tied := "", maxEdits+1, false
	for _, mk := range d.mergeKeys {
		n, ok := letterSubstitutions(key, []rune(mk))
		if !ok || n == 0 || n > maxEdits {
			continue
		}
		switch {
		case n < bestEdits:
			best, bestEdits, tied = mk, n, false
		case n == bestEdits:
			tied = true
		}
	}
	if best == "" || tied {
		return "", false
	}
	return d.byMerge[best], true
}

// letterSubstitutions counts differing positions of two equal-length keys. ok is false
// when the lengths differ or a differing position holds a digit on either side.
func letterSubstitutions(a, b []rune) (int, bool) {
	if len(a) != len(b) {
		return 0, false
	}
	n := 0
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		if unicode.IsDigit(a[i]) || unicode.IsDigit(b[i]) {
			return 0, false
		}
		n++
	}
	return n, true
}
