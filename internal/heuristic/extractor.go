// extractor.go - Pattern-based test extraction straight from report text

package heuristic

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/bosocmputer/lab_report_reconciler/internal/dictionary"
	"github.com/bosocmputer/lab_report_reconciler/internal/record"
)

// MaxEstimate caps EstimateTestCount.
const MaxEstimate = 5000

var (
	numberTokenRe  = regexp.MustCompile(`^[<>≤≥]?=?\s*-?\d+(?:[.,]\d+)*\*?$`)
	betweenTokenRe = regexp.MustCompile(`(?i)^-?\d+(?:\.\d+)?\s*(?:-|–|—|to)\s*-?\d+(?:\.\d+)?$`)
	compareTokenRe = regexp.MustCompile(`^[<>≤≥]=?\s*-?\d+(?:\.\d+)?$`)
	plainNumberRe  = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
	unitTokenRe    = regexp.MustCompile(`(?i)^(?:%|[a-zµμ]{0,8}/[a-zµμ0-9^.³]+|(?:x10|10\^)\S*|mg|gm?|ng|pg|[µμu]g|mcg|[mnpµμu]?mol|meq|[mµμu]?iu|u|fl|cells|lakhs?|millions?|secs?|seconds|mm|ratio)$`)
	boilerplateRe  = regexp.MustCompile(`(?i)^(?:(?:name|age|sex|gender|date|time|dob)\s*[:/]|(?:page|patient|ref\.?\s*by|referred\s+by|dr\.|doctor|report(?:ed)?|sample\s+(?:id|no)|collected|collection|received|registered|printed|lab\s*(?:no|id)|uhid|mrn|barcode|end\s+of\s+report|test\s+name|investigation|signature|pathologist|tel|phone|mobile|email|www\.|http)\b)`)
	addressWordRe  = regexp.MustCompile(`(?i)\b(?:road|rd|street|st|lane|ln|nagar|avenue|ave|floor|building|bldg|suite|sector|plot|near|opp|opposite|district|city|pin|pincode|zip|p\.?\s?o\.?\s?box|colony|marg|highway|hwy)\b`)
	postalCodeRe   = regexp.MustCompile(`\b\d{5,6}\b`)
)

var extraMethodKeys = map[string]bool{
	"cmia":               true,
	"ise":                true,
	"enzymatic":          true,
	"nephelometry":       true,
	"immunoturbidimetry": true,
	"spectrophotometry":  true,
	"kinetic":            true,
	"microscopy":         true,
	"impedance":          true,
	"flowcytometry":      true,
}

var (
	singleQualitative = map[string]bool{
		"absent": true, "present": true, "nil": true, "negative": true, "positive": true,
		"reactive": true, "nonreactive": true, "non-reactive": true, "detected": true,
		"trace": true, "+": true, "++": true, "+++": true,
	}
	pairQualitative = map[string]bool{
		"non reactive": true, "not detected": true, "not seen": true, "none seen": true,
	}
	flagStatus = map[string]record.Status{
		"H": record.StatusHigh, "L": record.StatusLow,
		"high": record.StatusHigh, "low": record.StatusLow,
	}
)

// IsMethodToken reports whether tok names an assay technology ("HPLC", "(ICP-MS)").
func IsMethodToken(tok string) bool {
	key := dictionary.CanonicalKey(tok)
	if key == "" {
		return false
	}
	return dictionary.IsMethodKey(key) || extraMethodKeys[key]
}

// LooksLikeAddress reports whether s reads like a postal address line: an address
// keyword plus a comma or a 5-6 digit postal code.
func LooksLikeAddress(s string) bool {
	if !addressWordRe.MatchString(s) {
		return false
	}
	return strings.Contains(s, ",") || postalCodeRe.MatchString(s)
}

// Extract returns candidate records found line by line in text. It keeps no state
// between calls.
func Extract(text string) []*record.TestRecord {
	var out []*record.TestRecord
	seen := make(map[string]bool)
	section := ""

	for _, line := range strings.Split(NormalizeText(text), "\n") {
		if len([]rune(line)) < 3 || boilerplateRe.MatchString(line) || LooksLikeAddress(line) {
			continue
		}
		if isSectionHeader(line) {
			if !isColumnHeader(line) {
				section = strings.TrimRight(line, ": ")
			}
			continue
		}

		row, ok := parseColonLine(line)
		if !ok {
			row, ok = parseTokenLine(strings.Fields(line))
		}
		if !ok {
			continue
		}

		key := strings.ToLower(strings.Join([]string{row.name, row.value, row.unit, row.rng}, "\x00"))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row.toRecord(section))
	}
	return out
}

// EstimateTestCount is the number of heuristic candidates in text, capped at MaxEstimate.
func EstimateTestCount(text string) int {
	return min(len(Extract(text)), MaxEstimate)
}

type row struct {
	name  string
	value string
	unit  string
	rng   string
	flag  record.Status
}

func (r row) toRecord(section string) *record.TestRecord {
	rec := &record.TestRecord{
		TestName:       r.name,
		Unit:           record.StringPtr(r.unit),
		ReferenceRange: record.StringPtr(r.rng),
		Section:        record.StringPtr(section),
		Results:        []record.Observation{{Value: r.value, Status: r.flag}},
	}
	rec.Refresh()
	return rec
}

// parseColonLine handles "Name: value [unit] [range]".
func parseColonLine(line string) (row, bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return row{}, false
	}
	name := cleanName(strings.Fields(line[:idx]))
	rhs := strings.Fields(line[idx+1:])
	if name == "" || len(rhs) == 0 {
		return row{}, false
	}

	if q, ok := leadingQualitative(rhs); ok {
		return row{name: name, value: q}, true
	}
	if !numberTokenRe.MatchString(trimBrackets(rhs[0])) {
		return row{}, false
	}

	r, _, _, ok := readValue(mergeRangeTriples(rhs))
	if !ok {
		return row{}, false
	}
	r.name = name
	return r, true
}

// parseTokenLine handles "Name [method] value [flag] [unit] [range]" rows.
func parseTokenLine(tokens []string) (row, bool) {
	tokens = mergeRangeTriples(tokens)

	r, valueAt, used, ok := readValue(tokens)
	if !ok {
		return parseQualitativeLine(tokens)
	}

	var nameTokens []string
	for i := 0; i < valueAt; i++ {
		if !used[i] {
			nameTokens = append(nameTokens, tokens[i])
		}
	}
	r.name = cleanName(nameTokens)
	if r.name == "" {
		return row{}, false
	}
	return r, true
}

// readValue locates the value, range, flag and unit tokens. used marks the tokens that
// must not become part of the name.
func readValue(tokens []string) (row, int, map[int]bool, bool) {
	var r row
	valueAt := -1
	var ranges []int
	for i, tok := range tokens {
		bare := trimBrackets(tok)
		switch {
		case betweenTokenRe.MatchString(bare):
			ranges = append(ranges, i)
		case valueAt < 0 && numberTokenRe.MatchString(bare):
			valueAt = i
			r.value = bare
		case valueAt >= 0 && r.rng == "" && compareTokenRe.MatchString(bare):
			r.rng = bare
		}
	}

	used := make(map[int]bool)
	switch {
	case valueAt < 0 && len(ranges) == 1:
		// "Pus Cells 2-4 /hpf": a lone range-shaped token is the reading itself.
		valueAt = ranges[0]
		r.value = trimBrackets(tokens[valueAt])
	case valueAt < 0:
		return row{}, -1, nil, false
	default:
		for _, i := range ranges {
			used[i] = true
		}
		if r.rng == "" && len(ranges) > 0 {
			r.rng = trimBrackets(tokens[ranges[0]])
		}
	}
	used[valueAt] = true

	for i := valueAt + 1; i < len(tokens); i++ {
		if st, ok := flag(tokens[i]); ok {
			if r.flag == "" {
				r.flag = st
			}
			continue
		}
		if isUnit(tokens[i]) {
			r.unit = trimBrackets(tokens[i])
		}
		break
	}
	if r.unit == "" && valueAt > 1 && isUnit(tokens[valueAt-1]) {
		r.unit = trimBrackets(tokens[valueAt-1])
		used[valueAt-1] = true
	}
	return r, valueAt, used, true
}

// parseQualitativeLine handles "Name Non Reactive" rows without numbers.
func parseQualitativeLine(tokens []string) (row, bool) {
	n := len(tokens)
	if n >= 3 && pairQualitative[strings.ToLower(tokens[n-2]+" "+tokens[n-1])] {
		if name := cleanName(tokens[:n-2]); name != "" {
			return row{name: name, value: tokens[n-2] + " " + tokens[n-1]}, true
		}
	}
	if n >= 2 && singleQualitative[strings.ToLower(tokens[n-1])] {
		if name := cleanName(tokens[:n-1]); name != "" {
			return row{name: name, value: tokens[n-1]}, true
		}
	}
	return row{}, false
}

func leadingQualitative(tokens []string) (string, bool) {
	if len(tokens) >= 2 && pairQualitative[strings.ToLower(tokens[0]+" "+tokens[1])] {
		return tokens[0] + " " + tokens[1], true
	}
	if singleQualitative[strings.ToLower(tokens[0])] {
		return tokens[0], true
	}
	return "", false
}

// mergeRangeTriples joins "a - b" and "a to b" token triples into one token.
func mergeRangeTriples(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		if i+2 < len(tokens) && isRangeJoiner(tokens[i+1]) {
			a, b := trimBrackets(tokens[i]), trimBrackets(tokens[i+2])
			if plainNumberRe.MatchString(a) && plainNumberRe.MatchString(b) {
				out = append(out, a+" "+tokens[i+1]+" "+b)
				i += 2
				continue
			}
		}
		out = append(out, tokens[i])
	}
	return out
}

func isRangeJoiner(tok string) bool {
	switch strings.ToLower(tok) {
	case "-", "–", "—", "to":
		return true
	}
	return false
}

func flag(tok string) (record.Status, bool) {
	bare := strings.Trim(tok, "*()[]")
	if st, ok := flagStatus[bare]; ok {
		return st, true
	}
	st, ok := flagStatus[strings.ToLower(bare)]
	if ok && len(bare) > 1 {
		return st, true
	}
	return "", false
}

func isUnit(tok string) bool {
	if IsMethodToken(tok) {
		return false
	}
	if _, ok := flag(tok); ok {
		return false
	}
	return unitTokenRe.MatchString(trimBrackets(tok))
}

// cleanName joins name tokens after dropping method tokens at either end.
func cleanName(tokens []string) string {
	for len(tokens) > 0 && IsMethodToken(tokens[0]) {
		tokens = tokens[1:]
	}
	for len(tokens) > 0 && IsMethodToken(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	name := strings.Trim(strings.Join(tokens, " "), " :-–.,;*")
	if len([]rune(name)) < 2 || len([]rune(name)) > 80 || !strings.ContainsFunc(name, unicode.IsLetter) {
		return ""
	}
	return name
}

func trimBrackets(tok string) string {
	return strings.Trim(tok, "()[],;")
}

// isSectionHeader matches short ALL-CAPS lines without digits ("LIPID PROFILE").
func isSectionHeader(line string) bool {
	if strings.ContainsFunc(line, unicode.IsDigit) || len(strings.Fields(line)) > 6 {
		return false
	}
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	if letters < 3 {
		return false
	}
	_, qualitative := parseQualitativeLine(strings.Fields(line))
	return !qualitative
}

// isColumnHeader matches table headings such as "TEST RESULT UNIT REFERENCE RANGE".
func isColumnHeader(line string) bool {
	upper := strings.ToUpper(line)
	return strings.Contains(upper, "RESULT") &&
		(strings.Contains(upper, "UNIT") || strings.Contains(upper, "RANGE") || strings.Contains(upper, "REFERENCE"))
}
