// merge.go - Reconciles candidate record sets into one record per merge key

package merge

import (
	"strings"

	"github.com/bosocmputer/lab_report_reconciler/internal/dictionary"
	"github.com/bosocmputer/lab_report_reconciler/internal/record"
	"github.com/bosocmputer/lab_report_reconciler/internal/status"
)

// Policy decides which source owns a date when two sources report observations for it.
type Policy int

const (
	// FirstSeen keeps the earlier source's observations for a date.
	FirstSeen Policy = iota
	// Latest lets the newer source replace the observations for a date.
	Latest
)

func (p Policy) String() string {
	if p == Latest {
		return "latest"
	}
	return "first"
}

// ParsePolicy maps "first"/"latest" (case-insensitive); anything else is FirstSeen.
func ParsePolicy(s string) Policy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "latest", "last", "newest":
		return Latest
	}
	return FirstSeen
}

// Accumulator holds the merged state of one request. It is not safe for concurrent use;
// the pipeline feeds it from a single goroutine after fan-out has settled.
type Accumulator struct {
	policy Policy
	order  []string
	byKey  map[string]*record.TestRecord
}

// New returns an empty accumulator.
func New(policy Policy) *Accumulator {
	return &Accumulator{
		policy: policy,
		byKey:  make(map[string]*record.TestRecord),
	}
}

// Len is the number of distinct merge keys seen so far.
func (a *Accumulator) Len() int {
	return len(a.order)
}

// Add merges one source's batch. Records are copied; the batch is not modified.
func (a *Accumulator) Add(batch []*record.TestRecord) {
	keys, unioned := unionBatch(batch)
	for _, key := range keys {
		incoming := unioned[key]
		existing, ok := a.byKey[key]
		if !ok {
			status.Apply(incoming)
			a.byKey[key] = incoming
			a.order = append(a.order, key)
			continue
		}
		fillFields(existing, incoming)
		existing.Results = mergeObservations(existing.Results, incoming.Results, a.policy)
		status.Apply(existing)
	}
}

// Records returns copies of the merged records in first-seen order, skipping records
// left without observations.
func (a *Accumulator) Records() []*record.TestRecord {
	out := make([]*record.TestRecord, 0, len(a.order))
	for _, key := range a.order {
		rec := a.byKey[key]
		if len(rec.Results) == 0 {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out
}

// Merge folds incoming into acc as two consecutive sources and returns the result.
func Merge(acc, incoming []*record.TestRecord, policy Policy) []*record.TestRecord {
	a := New(policy)
	a.Add(acc)
	a.Add(incoming)
	return a.Records()
}

// unionBatch groups a single source's records by merge key. Every observation from the
// source is kept; only exact duplicates (same date, same value) collapse.
func unionBatch(batch []*record.TestRecord) ([]string, map[string]*record.TestRecord) {
	var keys []string
	out := make(map[string]*record.TestRecord)
	for _, rec := range batch {
		if rec == nil || strings.TrimSpace(rec.TestName) == "" {
			continue
		}
		key := dictionary.MergeKey(rec.TestName)
		if key == "" {
			continue
		}

		c := rec.Clone()
		c.TestName = strings.TrimSpace(c.TestName)
		c.Results = nonEmpty(c.Results)

		existing, ok := out[key]
		if !ok {
			out[key] = c
			keys = append(keys, key)
			continue
		}
		fillFields(existing, c)
		existing.Results = append(existing.Results, c.Results...)
	}

	for _, key := range keys {
		out[key].Results = collapseDuplicates(out[key].Results)
	}
	return keys, out
}

// fillFields copies incoming's fields into dst only where dst has none.
func fillFields(dst, incoming *record.TestRecord) {
	if dst.Unit == nil {
		dst.Unit = incoming.Unit
	}
	if dst.ReferenceRange == nil {
		dst.ReferenceRange = incoming.ReferenceRange
	}
	if dst.Section == nil {
		dst.Section = incoming.Section
	}
	if dst.Remarks == nil {
		dst.Remarks = incoming.Remarks
	}
	if dst.Page == nil {
		dst.Page = incoming.Page
	}
}

// mergeObservations combines two sources date group by date group. Dates keep the order
// they were first encountered, existing dates first.
func mergeObservations(existing, incoming []record.Observation, policy Policy) []record.Observation {
	oldDates, oldGroups := groupByDate(existing)
	newDates, newGroups := groupByDate(incoming)

	var out []record.Observation
	for _, d := range oldDates {
		kept := oldGroups[d]
		if repl, ok := newGroups[d]; ok && policy == Latest {
			kept = repl
		}
		out = append(out, kept...)
	}
	for _, d := range newDates {
		if _, ok := oldGroups[d]; ok {
			continue
		}
		out = append(out, newGroups[d]...)
	}
	return collapseDuplicates(out)
}

func groupByDate(obs []record.Observation) ([]string, map[string][]record.Observation) {
	var dates []string
	groups := make(map[string][]record.Observation)
	for _, o := range obs {
		d := o.DateKey()
		if _, ok := groups[d]; !ok {
			dates = append(dates, d)
		}
		groups[d] = append(groups[d], o)
	}
	return dates, groups
}

// collapseDuplicates keeps the earliest observation for each (date, value) pair.
func collapseDuplicates(obs []record.Observation) []record.Observation {
	seen := make(map[[2]string]bool, len(obs))
	out := obs[:0:0]
	for _, o := range obs {
		k := [2]string{o.DateKey(), o.Value}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, o)
	}
	return out
}

func nonEmpty(obs []record.Observation) []record.Observation {
	out := obs[:0:0]
	for _, o := range obs {
		o.Value = strings.TrimSpace(o.Value)
		if o.Value == "" {
			continue
		}
		out = append(out, o)
	}
	return out
}
