// dictionary.go - Immutable master list of recognised test names

package dictionary

import (
	"strings"
	"unicode/utf8"
)

// Group is the specimen family a test name belongs to.
type Group string

const (
	GroupHeart Group = "heart"
	GroupUrine Group = "urine"
	GroupOther Group = "other"
	GroupBlood Group = "blood"
)

// Keyword lists are matched against the upper-cased name, claimed in this order:
// heart, urine, other; everything unclaimed is blood.
var (
	heartKeywords = []string{
		"CHOLESTEROL", "TROPONIN", "LP(A)", "LIPOPROTEIN", "TRIGLYCERIDE", "HDL", "LDL",
		"CK-MB", "CKMB", "CPK", "BNP", "HOMOCYSTEINE", "APOLIPOPROTEIN", "APO A", "APO B",
		"HS-CRP", "HSCRP", "HS CRP", "MYOGLOBIN",
	}
	urineKeywords = []string{"URINE", "URINARY"}
	otherKeywords = []string{
		"STOOL", "FECAL", "FAECAL", "SEMEN", "SEMINAL", "SPUTUM", "CSF", "CEREBROSPINAL",
		"SYNOVIAL", "PLEURAL", "ASCITIC", "PERITONEAL", "SALIVA", "SWEAT", "AMNIOTIC",
	}
)

// Dictionary is built once and only read afterwards; accessors return copies.
type Dictionary struct {
	names     []string
	preferred map[string]string // canonical key -> shortest spelling
	byMerge   map[string]string // merge key -> shortest spelling
	mergeKeys []string          // fuzzy candidates, in dictionary order
	heart     []string
	urine     []string
	other     []string
	blood     []string
}

// New builds a dictionary from names in the given order. Blank and repeated entries
// are dropped.
func New(names []string) *Dictionary {
	d := &Dictionary{
		preferred: make(map[string]string),
		byMerge:   make(map[string]string),
	}

	seen := make(map[string]bool)
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		key := CanonicalKey(name)
		if key == "" {
			continue
		}
		seen[name] = true
		d.names = append(d.names, name)

		if cur, ok := d.preferred[key]; !ok || shorter(name, cur) {
			d.preferred[key] = name
		}
		mk := MergeKey(name)
		if cur, ok := d.byMerge[mk]; !ok {
			d.byMerge[mk] = name
			d.mergeKeys = append(d.mergeKeys, mk)
		} else if shorter(name, cur) {
			d.byMerge[mk] = name
		}

		switch Classify(name) {
		case GroupHeart:
			d.heart = append(d.heart, name)
		case GroupUrine:
			d.urine = append(d.urine, name)
		case GroupOther:
			d.other = append(d.other, name)
		default:
			d.blood = append(d.blood, name)
		}
	}
	return d
}

func shorter(a, b string) bool {
	return utf8.RuneCountInString(a) < utf8.RuneCountInString(b)
}

// Classify assigns a name to its specimen group by keyword.
func Classify(name string) Group {
	upper := strings.ToUpper(name)
	switch {
	case containsAny(upper, heartKeywords):
		return GroupHeart
	case containsAny(upper, urineKeywords):
		return GroupUrine
	case containsAny(upper, otherKeywords):
		return GroupOther
	}
	return GroupBlood
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// Len is the number of distinct names.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.names)
}

// Names returns the names in load order.
func (d *Dictionary) Names() []string { return d.copyOf(func() []string { return d.names }) }

// Heart returns the heart-related subset.
func (d *Dictionary) Heart() []string { return d.copyOf(func() []string { return d.heart }) }

// Urine returns the urine-related subset.
func (d *Dictionary) Urine() []string { return d.copyOf(func() []string { return d.urine }) }

// OtherFluid returns the other body-fluid subset.
func (d *Dictionary) OtherFluid() []string { return d.copyOf(func() []string { return d.other }) }

// Blood returns every name not claimed by another subset.
func (d *Dictionary) Blood() []string { return d.copyOf(func() []string { return d.blood }) }

func (d *Dictionary) copyOf(get func() []string) []string {
	if d == nil {
		return nil
	}
	src := get()
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Contains reports whether name matches a dictionary entry by canonical or merge key.
func (d *Dictionary) Contains(name string) bool {
	_, ok := d.PreferredName(name)
	return ok
}

// PreferredName returns the shortest dictionary spelling sharing name's canonical key,
// falling back to its merge key.
func (d *Dictionary) PreferredName(name string) (string, bool) {
	if d == nil {
		return "", false
	}
	if p, ok := d.preferred[CanonicalKey(name)]; ok {
		return p, true
	}
	if p, ok := d.byMerge[MergeKey(name)]; ok {
		return p, true
	}
	return "", false
}

// Canonicalize maps a free-text name onto its dictionary spelling: exact key, merge key,
// then a close fuzzy match for OCR-style typos. Unknown names come back trimmed.
func (d *Dictionary) Canonicalize(name string) string {
	name = strings.TrimSpace(name)
	if p, ok := d.PreferredName(name); ok {
		return p
	}
	if p, ok := d.fuzzyMatch(name); ok {
		return p
	}
	return name
}
