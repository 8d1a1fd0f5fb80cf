// status.go - Clinical status from a value and its reference range

package status

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bosocmputer/lab_report_reconciler/internal/record"
)

// Kind is the shape of a reference range.
type Kind int

const (
	KindBetween Kind = iota + 1
	KindLessThan
	KindGreaterThan
)

func (k Kind) String() string {
	switch k {
	case KindBetween:
		return "between"
	case KindLessThan:
		return "lt"
	case KindGreaterThan:
		return "gt"
	}
	return "absent"
}

// Bounds is a parsed reference range. Min is unused for lt, Max for gt.
type Bounds struct {
	Kind Kind
	Min  float64
	Max  float64
}

const num = `(-?\d+(?:\.\d+)?)`

var (
	numberRe    = regexp.MustCompile(`-?\d+(\.\d+)?`)
	thousandsRe = regexp.MustCompile(`(\d),(\d)`)
	betweenRe   = regexp.MustCompile(`(?i)` + num + `\s*(?:-|–|—|to)\s*` + num)
	lessRe      = regexp.MustCompile(`(?i)(?:<\s*=?|≤|less\s+than|lesser\s+than|below|up\s*to|till)\s*=?\s*` + num)
	greaterRe   = regexp.MustCompile(`(?i)(?:>\s*=?|≥|more\s+than|greater\s+than|above)\s*=?\s*` + num)
)

var (
	absentWords  = []string{"absent", "nil", "negative", "not detected", "non reactive", "non-reactive", "nonreactive", "none seen"}
	presentWords = []string{"present", "positive", "reactive", "detected", "trace"}
)

// stripThousands removes digit-grouping commas ("1,50,000" -> "150000").
func stripThousands(s string) string {
	for {
		next := thousandsRe.ReplaceAllString(s, "$1$2")
		if next == s {
			return s
		}
		s = next
	}
}

// FirstNumber extracts the first numeric substring; comparison symbols are ignored.
func FirstNumber(value string) (float64, bool) {
	m := numberRe.FindString(stripThousands(value))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	return f, err == nil
}

// ParseRange parses "40-60", "40 to 60", "<200", "> 5", "Up to 40" and, failing those,
// treats the first two numbers found as a between range.
func ParseRange(s string) (Bounds, bool) {
	s = stripThousands(strings.TrimSpace(s))
	if s == "" {
		return Bounds{}, false
	}
	head := strings.TrimLeft(s, "([ ")

	if m := lessRe.FindStringSubmatchIndex(head); m != nil && m[0] == 0 {
		return lessThan(head[m[2]:m[3]])
	}
	if m := greaterRe.FindStringSubmatchIndex(head); m != nil && m[0] == 0 {
		return greaterThan(head[m[2]:m[3]])
	}
	if m := betweenRe.FindStringSubmatch(s); m != nil {
		return between(m[1], m[2])
	}
	if m := lessRe.FindStringSubmatch(s); m != nil {
		return lessThan(m[1])
	}
	if m := greaterRe.FindStringSubmatch(s); m != nil {
		return greaterThan(m[1])
	}
	if nums := numberRe.FindAllString(s, 2); len(nums) == 2 {
		return between(nums[0], nums[1])
	}
	return Bounds{}, false
}

func between(a, b string) (Bounds, bool) {
	lo, err1 := strconv.ParseFloat(a, 64)
	hi, err2 := strconv.ParseFloat(b, 64)
	if err1 != nil || err2 != nil {
		return Bounds{}, false
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return Bounds{Kind: KindBetween, Min: lo, Max: hi}, true
}

func lessThan(a string) (Bounds, bool) {
	v, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return Bounds{}, false
	}
	return Bounds{Kind: KindLessThan, Max: v}, true
}

func greaterThan(a string) (Bounds, bool) {
	v, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return Bounds{}, false
	}
	return Bounds{Kind: KindGreaterThan, Min: v}, true
}

// Classify compares a number against bounds.
func (b Bounds) Classify(v float64) record.Status {
	switch b.Kind {
	case KindBetween:
		if v < b.Min {
			return record.StatusLow
		}
		if v > b.Max {
			return record.StatusHigh
		}
	case KindLessThan:
		if v > b.Max {
			return record.StatusHigh
		}
	case KindGreaterThan:
		if v < b.Min {
			return record.StatusLow
		}
	}
	return record.StatusNormal
}

// Compute returns the status of value against referenceRange. Without a number or
// bounds it falls back to a valid fallback status, then to the qualitative meaning of
// the value, then to NORMAL; a blank value is NOT_PRESENTED. value is never modified.
func Compute(value, referenceRange, fallback string) record.Status {
	fb, fbOK := record.ParseStatus(fallback)

	value = strings.TrimSpace(value)
	if value == "" {
		if fbOK {
			return fb
		}
		return record.StatusNotPresented
	}

	n, hasNum := FirstNumber(value)
	if hasNum {
		if b, ok := ParseRange(referenceRange); ok {
			return b.Classify(n)
		}
	}

	if fbOK {
		return fb
	}
	if !hasNum {
		if st, ok := qualitative(value); ok {
			return st
		}
	}
	return record.StatusNormal
}

func qualitative(value string) (record.Status, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, w := range absentWords {
		if strings.HasPrefix(v, w) {
			return record.StatusAbsent, true
		}
	}
	for _, w := range presentWords {
		if strings.HasPrefix(v, w) {
			return record.StatusPresent, true
		}
	}
	if strings.Trim(v, "+ ") == "" {
		return record.StatusPresent, true
	}
	return "", false
}

// Apply recomputes every observation status of rec against its reference range, using
// each observation's current status as the fallback, and refreshes the top-level fields.
func Apply(rec *record.TestRecord) {
	rng := record.Deref(rec.ReferenceRange)
	for i := range rec.Results {
		obs := &rec.Results[i]
		obs.Status = Compute(obs.Value, rng, string(obs.Status))
	}
	rec.Refresh()
}
