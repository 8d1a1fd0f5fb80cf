package merge

import (
	"testing"

	"github.com/bosocmputer/lab_report_reconciler/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obs(value, date string) record.Observation {
	return record.Observation{Value: value, DateAndTime: record.StringPtr(date)}
}

func rec(name string, results ...record.Observation) *record.TestRecord {
	return &record.TestRecord{TestName: name, Results: results}
}

func values(r *record.TestRecord) []string {
	out := make([]string, len(r.Results))
	for i, o := range r.Results {
		out[i] = o.Value
	}
	return out
}

func byName(recs []*record.TestRecord) map[string]*record.TestRecord {
	out := make(map[string]*record.TestRecord, len(recs))
	for _, r := range recs {
		out[r.TestName] = r
	}
	return out
}

func TestMergeKeysOnMethodStrippedName(t *testing.T) {
	a := New(FirstSeen)
	a.Add([]*record.TestRecord{rec("Vitamin D (HPLC)", obs("32", "2024-01-02"))})
	a.Add([]*record.TestRecord{rec("vitamin d", obs("30", "2024-03-01"))})

	recs := a.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "Vitamin D (HPLC)", recs[0].TestName)
	assert.Equal(t, []string{"32", "30"}, values(recs[0]))
	assert.Equal(t, "30", record.Deref(recs[0].Value))
}

func TestFieldsFilledButNeverOverwritten(t *testing.T) {
	first := rec("Hemoglobin", obs("12.1", ""))
	first.Unit = record.StringPtr("g/dL")

	second := rec("HEMOGLOBIN", obs("12.1", ""))
	second.Unit = record.StringPtr("g/L")
	second.ReferenceRange = record.StringPtr("13-17")
	second.Section = record.StringPtr("Haematology")

	recs := Merge([]*record.TestRecord{first}, []*record.TestRecord{second}, FirstSeen)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, "g/dL", record.Deref(r.Unit))
	assert.Equal(t, "13-17", record.Deref(r.ReferenceRange))
	assert.Equal(t, "Haematology", record.Deref(r.Section))

	// status recomputed from the newly filled range
	assert.Equal(t, record.StatusLow, r.Status)
	assert.Equal(t, record.StatusLow, r.Results[0].Status)
}

func TestFirstSeenSourceOwnsDate(t *testing.T) {
	acc := []*record.TestRecord{rec("TSH", obs("2.1", "2024-01-01"))}
	incoming := []*record.TestRecord{rec("TSH", obs("2.4", "2024-01-01"), obs("3.0", "2024-02-01"))}

	recs := Merge(acc, incoming, FirstSeen)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"2.1", "3.0"}, values(recs[0]))
}

func TestLatestPolicyReplacesDate(t *testing.T) {
	acc := []*record.TestRecord{rec("TSH", obs("2.1", "2024-01-01"))}
	incoming := []*record.TestRecord{rec("TSH", obs("2.4", " 2024-01-01 "))}

	recs := Merge(acc, incoming, Latest)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"2.4"}, values(recs[0]))
}

func TestSameDateSameValueCollapses(t *testing.T) {
	a := New(FirstSeen)
	a.Add([]*record.TestRecord{
		rec("Total Cholesterol", obs("210", "2024-01-01")),
		rec("Total Cholesterol", obs("210", "2024-01-01")),
	})
	recs := a.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"210"}, values(recs[0]))
}

func TestSameDateDifferentValuesKept(t *testing.T) {
	a := New(FirstSeen)
	a.Add([]*record.TestRecord{
		rec("Total Cholesterol", obs("210", "2024-01-01")),
		rec("Total Cholesterol", obs("215", "2024-01-01")),
	})
	recs := a.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"210", "215"}, values(recs[0]))
}

func TestMergeOrderIndependentForDisjointDates(t *testing.T) {
	ab := []*record.TestRecord{
		rec("Glucose Fasting", obs("98", "2024-01-01")),
		rec("Creatinine", obs("0.9", "2024-01-01")),
	}
	ab[1].Unit = record.StringPtr("mg/dL")
	c := []*record.TestRecord{
		rec("Glucose, Fasting", obs("104", "2024-02-01")),
		rec("Creatinine", obs("1.0", "2024-02-01")),
		rec("Urea", obs("21", "2024-02-01")),
	}
	c[1].ReferenceRange = record.StringPtr("0.7-1.3")

	one := New(FirstSeen)
	one.Add(ab)
	one.Add(c)
	two := New(FirstSeen)
	two.Add(c)
	two.Add(ab)

	left, right := byName(one.Records()), byName(two.Records())
	require.Len(t, left, 3)
	require.Len(t, right, 3)

	for _, name := range []string{"Creatinine", "Urea"} {
		l, r := left[name], right[name]
		require.NotNil(t, l, name)
		require.NotNil(t, r, name)
		assert.ElementsMatch(t, values(l), values(r), name)
		assert.Equal(t, record.Deref(l.Unit), record.Deref(r.Unit))
		assert.Equal(t, record.Deref(l.ReferenceRange), record.Deref(r.ReferenceRange))
	}

	// name spelling follows the first source; the key and the values do not
	lg, rg := left["Glucose Fasting"], right["Glucose, Fasting"]
	require.NotNil(t, lg)
	require.NotNil(t, rg)
	assert.ElementsMatch(t, values(lg), values(rg))
}

func TestMergeIsIdempotent(t *testing.T) {
	batch := []*record.TestRecord{
		rec("HbA1c", obs("6.1", "2024-01-01"), obs("5.9", "2024-04-01")),
		rec("Ferritin - ECLIA", obs("120", "")),
	}
	batch[0].ReferenceRange = record.StringPtr("<5.7")

	once := New(FirstSeen)
	once.Add(batch)
	twice := New(FirstSeen)
	twice.Add(batch)
	twice.Add(batch)

	assert.Equal(t, once.Records(), twice.Records())
}

func TestRecordsDropsEmptyRecordsAndValues(t *testing.T) {
	a := New(FirstSeen)
	a.Add([]*record.TestRecord{
		rec("Remarks Only"),
		rec("Sodium", obs("  ", ""), obs("139", "")),
		nil,
		rec("  "),
	})
	recs := a.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "Sodium", recs[0].TestName)
	assert.Equal(t, []string{"139"}, values(recs[0]))
	assert.Equal(t, 2, a.Len())
}

func TestAddDoesNotAliasInput(t *testing.T) {
	in := rec("Sodium", obs("139", ""))
	a := New(FirstSeen)
	a.Add([]*record.TestRecord{in})
	in.Results[0].Value = "999"

	assert.Equal(t, []string{"139"}, values(a.Records()[0]))
}

func TestDatesKeepFirstEncounterOrder(t *testing.T) {
	acc := []*record.TestRecord{rec("Platelets", obs("250", "b"), obs("260", "a"))}
	incoming := []*record.TestRecord{rec("Platelets", obs("270", "c"), obs("255", "a"))}

	got := Merge(acc, incoming, FirstSeen)[0]
	assert.Equal(t, []string{"250", "260", "270"}, values(got))
	assert.Equal(t, "c", record.Deref(got.Results[2].DateAndTime))
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, Latest, ParsePolicy(" Latest"))
	assert.Equal(t, FirstSeen, ParsePolicy("first"))
	assert.Equal(t, FirstSeen, ParsePolicy("bogus"))
	assert.Equal(t, "latest", Latest.String())
}
