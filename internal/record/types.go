// types.go - Canonical test record model shared by every reconciliation stage

package record

import (
	"strings"
)

// Status is the clinical status attached to an observation.
type Status string

const (
	StatusLow          Status = "LOW"
	StatusHigh         Status = "HIGH"
	StatusNormal       Status = "NORMAL"
	StatusAbsent       Status = "ABSENT"
	StatusPresent      Status = "PRESENT"
	StatusNotPresented Status = "NOT_PRESENTED"
	StatusNotFound     Status = "NOT_FOUND"
)

// DefaultCategory is used when a record carries no section.
const DefaultCategory = "Other Tests"

var statusAliases = map[string]Status{
	"LOW":           StatusLow,
	"L":             StatusLow,
	"HIGH":          StatusHigh,
	"H":             StatusHigh,
	"NORMAL":        StatusNormal,
	"N":             StatusNormal,
	"ABSENT":        StatusAbsent,
	"PRESENT":       StatusPresent,
	"NOT_PRESENTED": StatusNotPresented,
	"NOT_FOUND":     StatusNotFound,
}

// ParseStatus accepts an enum value regardless of case, spaces or hyphens, plus the
// H/L/N flags printed next to values on lab reports.
func ParseStatus(s string) (Status, bool) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	st, ok := statusAliases[key]
	return st, ok
}

// Observation is one value of a test at a point in time.
type Observation struct {
	Value       string  `json:"value"`
	DateAndTime *string `json:"dateAndTime"`
	Status      Status  `json:"status"`
}

// DateKey is the grouping key used when merging observations; empty means undated.
func (o Observation) DateKey() string {
	if o.DateAndTime == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*o.DateAndTime))
}

// TestRecord is one reconciled lab test.
type TestRecord struct {
	TestName       string        `json:"testName"`
	Value          *string       `json:"value"`
	Results        []Observation `json:"results"`
	Unit           *string       `json:"unit"`
	ReferenceRange *string       `json:"referenceRange"`
	Section        *string       `json:"section"`
	Page           *int          `json:"page"`
	Remarks        *string       `json:"remarks"`
	Status         Status        `json:"status"`
}

// Refresh re-derives the top-level value and status from the latest observation.
func (r *TestRecord) Refresh() {
	if len(r.Results) == 0 {
		r.Value = nil
		r.Status = StatusNotPresented
		return
	}
	last := r.Results[len(r.Results)-1]
	r.Value = StringPtr(last.Value)
	r.Status = last.Status
}

// LatestValue returns the value of the last observation, or "".
func (r *TestRecord) LatestValue() string {
	if len(r.Results) == 0 {
		if r.Value != nil {
			return *r.Value
		}
		return ""
	}
	return r.Results[len(r.Results)-1].Value
}

// Clone returns a deep copy.
func (r *TestRecord) Clone() *TestRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Value = cloneString(r.Value)
	out.Unit = cloneString(r.Unit)
	out.ReferenceRange = cloneString(r.ReferenceRange)
	out.Section = cloneString(r.Section)
	out.Remarks = cloneString(r.Remarks)
	if r.Page != nil {
		p := *r.Page
		out.Page = &p
	}
	out.Results = make([]Observation, len(r.Results))
	for i, obs := range r.Results {
		out.Results[i] = Observation{Value: obs.Value, DateAndTime: cloneString(obs.DateAndTime), Status: obs.Status}
	}
	return &out
}

// Category groups records under a display name.
type Category struct {
	CategoryName string        `json:"categoryName"`
	Tests        []*TestRecord `json:"tests"`
}

// FlatResult is the flat output contract.
type FlatResult struct {
	Tests []*TestRecord `json:"tests"`
}

// CategorizedResult is the grouped output contract.
type CategorizedResult struct {
	Tests []*Category `json:"tests"`
}

// StringPtr returns nil for blank strings, otherwise a pointer to the trimmed value.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
