// assembler.go - Groups reconciled records into categories, one category per test

package category

import (
	"strings"

	"github.com/bosocmputer/lab_report_reconciler/internal/dictionary"
	"github.com/bosocmputer/lab_report_reconciler/internal/merge"
	"github.com/bosocmputer/lab_report_reconciler/internal/record"
	"github.com/bosocmputer/lab_report_reconciler/internal/relevance"
)

const (
	// overlapRatio is the share of the smaller category that must also appear in the
	// other one before the two are merged.
	overlapRatio = 0.6
	// minSharedTests keeps single shared tests to the uniqueness pass.
	minSharedTests = 2
)

// Assemble builds categories from a decoded payload. Pre-grouped payloads keep their
// groups; flat payloads are grouped by section.
func Assemble(payload any, dict *dictionary.Dictionary, policy merge.Policy) []*record.Category {
	groups, grouped := record.DetectGroups(payload)
	if !grouped {
		return Enforce(FromRecords(Reconcile(record.Normalize(payload), dict, policy)), policy)
	}

	var cats []*record.Category
	for _, g := range groups {
		recs := Reconcile(record.Normalize(g.Payload), dict, policy)
		if strings.TrimSpace(g.Name) == "" {
			cats = append(cats, FromRecords(recs)...)
			continue
		}
		cats = append(cats, &record.Category{CategoryName: strings.TrimSpace(g.Name), Tests: recs})
	}
	return Enforce(cats, policy)
}

// Reconcile canonicalizes names, merges the records as one source and drops noise.
func Reconcile(recs []*record.TestRecord, dict *dictionary.Dictionary, policy merge.Policy) []*record.TestRecord {
	for _, r := range recs {
		if r != nil {
			r.TestName = dict.Canonicalize(r.TestName)
		}
	}
	acc := merge.New(policy)
	acc.Add(recs)
	return relevance.Filter(acc.Records(), dict)
}

// FromRecords groups records by section in first-seen order. Records without a section
// go to record.DefaultCategory.
func FromRecords(recs []*record.TestRecord) []*record.Category {
	var cats []*record.Category
	index := make(map[string]*record.Category)
	for _, r := range recs {
		if r == nil {
			continue
		}
		name := strings.TrimSpace(record.Deref(r.Section))
		if name == "" {
			name = record.DefaultCategory
		}
		c, ok := index[name]
		if !ok {
			c = &record.Category{CategoryName: name}
			index[name] = c
			cats = append(cats, c)
		}
		c.Tests = append(c.Tests, r)
	}
	return cats
}

// Enforce merges duplicate and heavily overlapping categories, then keeps every test in
// exactly one category. Empty categories are dropped.
func Enforce(cats []*record.Category, policy merge.Policy) []*record.Category {
	cats = mergeSameName(cats, policy)
	cats = mergeOverlapping(cats, policy)
	keepUnique(cats, policy)

	out := make([]*record.Category, 0, len(cats))
	for _, c := range cats {
		if len(c.Tests) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// combine folds records sharing a merge key; each record counts as its own source.
func combine(recs []*record.TestRecord, policy merge.Policy) []*record.TestRecord {
	acc := merge.New(policy)
	for _, r := range recs {
		acc.Add([]*record.TestRecord{r})
	}
	return acc.Records()
}

func mergeSameName(cats []*record.Category, policy merge.Policy) []*record.Category {
	var out []*record.Category
	index := make(map[string]*record.Category)
	for _, c := range cats {
		if c == nil {
			continue
		}
		name := strings.TrimSpace(c.CategoryName)
		if name == "" {
			name = record.DefaultCategory
		}
		key := strings.ToLower(name)
		existing, ok := index[key]
		if !ok {
			existing = &record.Category{CategoryName: name}
			index[key] = existing
			out = append(out, existing)
		}
		existing.Tests = append(existing.Tests, c.Tests...)
	}
	for _, c := range out {
		c.Tests = combine(c.Tests, policy)
	}
	return out
}

func mergeOverlapping(cats []*record.Category, policy merge.Policy) []*record.Category {
	for {
		i, j, ok := findOverlap(cats)
		if !ok {
			return cats
		}
		big, small := i, j
		if len(cats[j].Tests) > len(cats[i].Tests) {
			big, small = j, i
		}
		cats[big].Tests = combine(append(cats[big].Tests, cats[small].Tests...), policy)
		cats = append(cats[:small:small], cats[small+1:]...)
	}
}

func findOverlap(cats []*record.Category) (int, int, bool) {
	keys := make([]map[string]bool, len(cats))
	for i, c := range cats {
		keys[i] = keySet(c.Tests)
	}
	for i := range cats {
		for j := i + 1; j < len(cats); j++ {
			shared := 0
			for k := range keys[i] {
				if keys[j][k] {
					shared++
				}
			}
			smaller := min(len(keys[i]), len(keys[j]))
			if shared >= minSharedTests && float64(shared) >= overlapRatio*float64(smaller) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func keySet(recs []*record.TestRecord) map[string]bool {
	out := make(map[string]bool, len(recs))
	for _, r := range recs {
		out[dictionary.MergeKey(r.TestName)] = true
	}
	return out
}

type location struct {
	cat  int
	test int
}

// keepUnique leaves each merge key in one category: the one whose copy has the most
// observations, then the larger category, then the earliest. Dropped copies are merged
// into the kept record.
func keepUnique(cats []*record.Category, policy merge.Policy) {
	var order []string
	where := make(map[string][]location)
	for ci, c := range cats {
		for ti, r := range c.Tests {
			k := dictionary.MergeKey(r.TestName)
			if _, ok := where[k]; !ok {
				order = append(order, k)
			}
			where[k] = append(where[k], location{ci, ti})
		}
	}

	removed := make(map[location]bool)
	for _, k := range order {
		locs := where[k]
		if len(locs) < 2 {
			continue
		}
		best := locs[0]
		for _, l := range locs[1:] {
			if better(cats, l, best) {
				best = l
			}
		}

		copies := []*record.TestRecord{cats[best.cat].Tests[best.test]}
		for _, l := range locs {
			if l != best {
				copies = append(copies, cats[l.cat].Tests[l.test])
				removed[l] = true
			}
		}
		if merged := combine(copies, policy); len(merged) == 1 {
			cats[best.cat].Tests[best.test] = merged[0]
		}
	}

	for ci, c := range cats {
		kept := c.Tests[:0:0]
		for ti, r := range c.Tests {
			if !removed[location{ci, ti}] {
				kept = append(kept, r)
			}
		}
		c.Tests = kept
	}
}

func better(cats []*record.Category, a, b location) bool {
	ra, rb := cats[a.cat].Tests[a.test], cats[b.cat].Tests[b.test]
	if len(ra.Results) != len(rb.Results) {
		return len(ra.Results) > len(rb.Results)
	}
	return len(cats[a.cat].Tests) > len(cats[b.cat].Tests)
}
