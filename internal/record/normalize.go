// normalize.go - Flattens arbitrarily shaped extractor JSON into TestRecord candidates

package record

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/bosocmputer/lab_report_reconciler/internal/jsonrecover"
)

const maxDepth = 12

// Group is one named group of a pre-grouped payload.
type Group struct {
	Name    string
	Payload any
}

// Normalize walks v (decoded JSON: *jsonrecover.Object, map[string]any, []any) and
// returns every record with a resolvable name, in document order.
func Normalize(v any) []*TestRecord {
	var out []*TestRecord
	walk(v, "", &out, 0)
	return out
}

// DetectGroups reports whether v is a pre-grouped payload: objects exposing a name plus
// a tests/items array. Loose records found next to groups are returned in a group with
// an empty name.
func DetectGroups(v any) ([]Group, bool) {
	return detectGroups(v, 0)
}

func detectGroups(v any, depth int) ([]Group, bool) {
	if depth > maxDepth {
		return nil, false
	}
	if obj, ok := asObject(v); ok {
		if g, ok := groupOf(obj); ok {
			return []Group{g}, true
		}
		if _, named := obj.firstString(nameAliases); named {
			return nil, false
		}
		for _, key := range containerKeys {
			if inner, ok := obj.lookup(key); ok {
				if groups, ok := detectGroups(inner, depth+1); ok {
					return groups, true
				}
			}
		}
		return nil, false
	}

	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	var groups []Group
	var loose []any
	for _, el := range arr {
		if obj, ok := asObject(el); ok {
			if g, ok := groupOf(obj); ok {
				groups = append(groups, g)
				continue
			}
		}
		loose = append(loose, el)
	}
	if len(groups) == 0 {
		return nil, false
	}
	if len(loose) > 0 {
		groups = append(groups, Group{Payload: loose})
	}
	return groups, true
}

func groupOf(obj object) (Group, bool) {
	name, ok := obj.firstString(groupNameKeys)
	if !ok {
		return Group{}, false
	}
	for _, key := range groupTestKeys {
		raw, ok := obj.lookup(key)
		if !ok {
			continue
		}
		arr, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, el := range arr {
			if inner, ok := asObject(el); ok {
				if _, named := inner.firstString(nameAliases); named {
					return Group{Name: name, Payload: arr}, true
				}
			}
		}
	}
	return Group{}, false
}

func walk(v any, section string, out *[]*TestRecord, depth int) {
	if depth > maxDepth {
		return
	}

	if arr, ok := v.([]any); ok {
		for _, el := range arr {
			walk(el, section, out, depth+1)
		}
		return
	}

	obj, ok := asObject(v)
	if !ok {
		return
	}

	if g, ok := groupOf(obj); ok {
		walk(g.Payload, g.Name, out, depth+1)
		return
	}

	if rec := toRecord(obj, section); rec != nil {
		*out = append(*out, rec)
		return
	}

	// Container: known keys keep the current section, any other key holding
	// records is taken as a category name.
	for _, key := range obj.keys {
		inner := obj.fields[key]
		switch inner.(type) {
		case []any, *jsonrecover.Object, map[string]any:
		default:
			continue
		}
		if isContainerKey(key) {
			walk(inner, section, out, depth+1)
		} else {
			walk(inner, humanizeKey(key), out, depth+1)
		}
	}
}

func toRecord(obj object, section string) *TestRecord {
	name, ok := obj.firstString(nameAliases)
	if !ok {
		return nil
	}

	rec := &TestRecord{TestName: name}
	rec.Unit = obj.stringPtr(unitAliases)
	rec.ReferenceRange = obj.rangePtr()
	rec.Section = obj.stringPtr(sectionAliases)
	if rec.Section == nil {
		rec.Section = StringPtr(section)
	}
	rec.Remarks = obj.stringPtr(remarkAliases)
	rec.Page = obj.pagePtr()

	fallback, _ := obj.firstString(statusFieldAliases)
	date := obj.stringPtr(dateAliases)

	if raw, ok := obj.lookupAny(resultsAliases); ok {
		rec.Results = append(rec.Results, observations(raw, fallback, date)...)
	}

	if raw, ok := obj.lookupAny(valueAliases); ok {
		switch raw.(type) {
		case []any, *jsonrecover.Object, map[string]any:
			if len(rec.Results) == 0 {
				rec.Results = append(rec.Results, observations(raw, fallback, date)...)
			}
		default:
			if len(rec.Results) == 0 {
				if value, ok := scalarString(raw); ok && value != "" {
					rec.Results = append(rec.Results, Observation{
						Value:       value,
						DateAndTime: date,
						Status:      parseOrEmpty(fallback),
					})
				}
			}
		}
	}

	rec.Refresh()
	if len(rec.Results) == 0 {
		rec.Status = parseOrEmpty(fallback)
	}
	return rec
}

func observations(raw any, fallback string, date *string) []Observation {
	var out []Observation
	add := func(el any) {
		if obj, ok := asObject(el); ok {
			value, ok := obj.firstString(valueAliases)
			if !ok || value == "" {
				return
			}
			st, ok := obj.firstString(statusFieldAliases)
			if !ok {
				st = fallback
			}
			obsDate := obj.stringPtr(dateAliases)
			if obsDate == nil {
				obsDate = date
			}
			out = append(out, Observation{
				Value:       value,
				DateAndTime: obsDate,
				Status:      parseOrEmpty(st),
			})
			return
		}
		if value, ok := scalarString(el); ok && value != "" {
			out = append(out, Observation{Value: value, DateAndTime: date, Status: parseOrEmpty(fallback)})
		}
	}

	if arr, ok := raw.([]any); ok {
		for _, el := range arr {
			add(el)
		}
		return out
	}
	add(raw)
	return out
}

func parseOrEmpty(s string) Status {
	st, _ := ParseStatus(s)
	return st
}

// object is a read view over both decoded object representations.
type object struct {
	keys   []string
	fields map[string]any
	folded map[string]string
}

func asObject(v any) (object, bool) {
	switch t := v.(type) {
	case *jsonrecover.Object:
		if t == nil {
			return object{}, false
		}
		return newObject(t.Keys, t.Fields), true
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return newObject(keys, t), true
	}
	return object{}, false
}

func newObject(keys []string, fields map[string]any) object {
	folded := make(map[string]string, len(keys))
	for _, k := range keys {
		fk := foldKey(k)
		if _, exists := folded[fk]; !exists {
			folded[fk] = k
		}
	}
	return object{keys: keys, fields: fields, folded: folded}
}

// foldKey makes "Test_Name", "test-name" and "testName" compare equal.
func foldKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
}

func (o object) lookup(alias string) (any, bool) {
	key, ok := o.folded[foldKey(alias)]
	if !ok {
		return nil, false
	}
	v := o.fields[key]
	return v, v != nil
}

func (o object) lookupAny(aliases []string) (any, bool) {
	for _, alias := range aliases {
		if v, ok := o.lookup(alias); ok {
			return v, true
		}
	}
	return nil, false
}

func (o object) firstString(aliases []string) (string, bool) {
	for _, alias := range aliases {
		v, ok := o.lookup(alias)
		if !ok {
			continue
		}
		if s, ok := scalarString(v); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func (o object) stringPtr(aliases []string) *string {
	s, _ := o.firstString(aliases)
	return StringPtr(s)
}

// rangePtr accepts a printed range or an object with low/high bounds.
func (o object) rangePtr() *string {
	if s, ok := o.firstString(rangeAliases); ok {
		return StringPtr(s)
	}
	raw, ok := o.lookupAny(rangeAliases)
	if !ok {
		return nil
	}
	bounds, ok := asObject(raw)
	if !ok {
		return nil
	}
	low, hasLow := bounds.firstString([]string{"min", "low", "lower"})
	high, hasHigh := bounds.firstString([]string{"max", "high", "upper"})
	switch {
	case hasLow && hasHigh:
		return StringPtr(low + "-" + high)
	case hasHigh:
		return StringPtr("<" + high)
	case hasLow:
		return StringPtr(">" + low)
	}
	return nil
}

func (o object) pagePtr() *int {
	raw, ok := o.lookupAny(pageAliases)
	if !ok {
		return nil
	}
	s, ok := scalarString(raw)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 || f != math.Trunc(f) {
		return nil
	}
	page := int(f)
	return &page
}

// scalarString renders a JSON scalar without reformatting numbers.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	case fmt.Stringer:
		return strings.TrimSpace(t.String()), true
	}
	return "", false
}

func isContainerKey(key string) bool {
	fk := foldKey(key)
	for _, c := range containerKeys {
		if foldKey(c) == fk {
			return true
		}
	}
	return false
}

// humanizeKey turns "lipid_profile" into "Lipid Profile"; keys with capitals or spaces
// are taken as already written for display.
func humanizeKey(key string) string {
	key = strings.TrimSpace(key)
	if strings.ContainsAny(key, " ") || strings.ToLower(key) != key {
		return key
	}
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
