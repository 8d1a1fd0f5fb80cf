package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bosocmputer/lab_report_reconciler/internal/ai"
	"github.com/bosocmputer/lab_report_reconciler/internal/chunker"
	"github.com/bosocmputer/lab_report_reconciler/internal/common"
	"github.com/bosocmputer/lab_report_reconciler/internal/dictionary"
	"github.com/bosocmputer/lab_report_reconciler/internal/merge"
	"github.com/bosocmputer/lab_report_reconciler/internal/metrics"
	"github.com/bosocmputer/lab_report_reconciler/internal/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// stubExtractor answers by segment content and records concurrency.
type stubExtractor struct {
	respond func(ctx context.Context, segment string) (string, error)
	delay   time.Duration

	calls       int32
	inFlight    int32
	maxInFlight int32
	mu          sync.Mutex
	images      [][]ai.BinaryFile
}

func (s *stubExtractor) Extract(ctx context.Context, segment string, images []ai.BinaryFile, schemaHint string, reqCtx *common.RequestContext) (string, *common.TokenUsage, error) {
	atomic.AddInt32(&s.calls, 1)
	n := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		old := atomic.LoadInt32(&s.maxInFlight)
		if n <= old || atomic.CompareAndSwapInt32(&s.maxInFlight, old, n) {
			break
		}
	}
	s.mu.Lock()
	s.images = append(s.images, images)
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	text, err := s.respond(ctx, segment)
	return text, nil, err
}

func (s *stubExtractor) GetProviderName() string { return "stub" }

type mockRepairer struct{ mock.Mock }

func (m *mockRepairer) Repair(ctx context.Context, rawText, schemaHint string, reqCtx *common.RequestContext) (string, *common.TokenUsage, error) {
	args := m.Called(rawText)
	return args.String(0), nil, args.Error(1)
}

var testDict = dictionary.New([]string{"Hemoglobin", "TSH", "Total Cholesterol", "Glucose Fasting"})

func testConfig(chunks int) Config {
	return Config{
		Chunking:          chunker.Options{MaxChunks: chunks},
		Concurrency:       4,
		Policy:            merge.FirstSeen,
		RepairEnabled:     true,
		HeuristicFallback: true,
	}
}

func jsonOf(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func byName(recs []*record.TestRecord) map[string]*record.TestRecord {
	out := make(map[string]*record.TestRecord)
	for _, r := range recs {
		out[r.TestName] = r
	}
	return out
}

const (
	hemoglobinJSON = `{"tests":[{"testName":"Hemoglobin","unit":"g/dL","referenceRange":"13-17","results":[{"value":"13.5","dateAndTime":"2024-01-05"}]}]}`
	hemoglobinLate = `{"tests":[{"test_name":"HEMOGLOBIN","unit":"g/dL","results":[{"value":"12.1","dateAndTime":"2024-02-10"}]}]}`
	twoHalves      = "alpha-----" + "beta------"
)

func TestRunMergesSegments(t *testing.T) {
	ex := &stubExtractor{respond: func(_ context.Context, seg string) (string, error) {
		if strings.Contains(seg, "alpha") {
			return hemoglobinJSON, nil
		}
		return "Here you go:\n```json\n" + hemoglobinLate + "\n```", nil
	}}
	engine := NewEngine(testDict, ex, nil, nil, testConfig(2))

	res, err := engine.Run(context.Background(), Request{Text: twoHalves}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.Segments)
	assert.Equal(t, 1, res.Stats.Outcomes["direct"])
	assert.Equal(t, 1, res.Stats.Outcomes["scanned"])
	require.Len(t, res.Tests, 1)

	hb := res.Tests[0]
	assert.Equal(t, "Hemoglobin", hb.TestName)
	require.Len(t, hb.Results, 2)
	assert.Equal(t, "13.5", hb.Results[0].Value)
	assert.Equal(t, "12.1", hb.Results[1].Value)
	assert.Equal(t, record.StatusLow, hb.Status)
	assert.Equal(t, "12.1", record.Deref(hb.Value))
	assert.Empty(t, res.EmptyReason)
}

func TestRunExtractorFailureDegrades(t *testing.T) {
	ex := &stubExtractor{respond: func(_ context.Context, seg string) (string, error) {
		if strings.Contains(seg, "alpha") {
			return "", errors.New("503 from provider")
		}
		return hemoglobinJSON, nil
	}}
	engine := NewEngine(testDict, ex, nil, nil, testConfig(2))

	res, err := engine.Run(context.Background(), Request{Text: twoHalves}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.ExtractorFailures)
	require.Len(t, res.Tests, 1)
	assert.Equal(t, "Hemoglobin", res.Tests[0].TestName)
}

func TestRunRepairsTruncatedOutputLocally(t *testing.T) {
	truncated := `{"tests":[{"testName":"Hemoglobin","value":"13.5","unit":"g/dL"},{"testName":"Gluc`
	ex := &stubExtractor{respond: func(context.Context, string) (string, error) { return truncated, nil }}
	repairer := &mockRepairer{}
	engine := NewEngine(testDict, ex, repairer, nil, testConfig(1))

	res, err := engine.Run(context.Background(), Request{Text: "page text"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Outcomes[OutcomeRepairedLocal])
	require.Len(t, res.Tests, 1)
	assert.Equal(t, "13.5", record.Deref(res.Tests[0].Value))
	repairer.AssertNotCalled(t, "Repair", mock.Anything)
}

func TestRunDropsElementCutAtSegmentEnd(t *testing.T) {
	// the first segment's output stops inside TSH's date; the second segment carries TSH whole
	cut := `{"tests":[{"testName":"Hemoglobin","value":"13.5","unit":"g/dL","dateAndTime":"2024-01-01"},` +
		`{"testName":"TSH","value":"2.1","unit":"uIU/mL","dateAndTime":"2024-01-`
	whole := `{"tests":[{"testName":"TSH","value":"2.1","unit":"uIU/mL","dateAndTime":"2024-01-01"}]}`
	ex := &stubExtractor{respond: func(_ context.Context, seg string) (string, error) {
		if strings.Contains(seg, "alpha") {
			return cut, nil
		}
		return whole, nil
	}}
	cfg := testConfig(2)
	cfg.RepairEnabled = false

	res, err := NewEngine(testDict, ex, nil, nil, cfg).Run(context.Background(), Request{Text: twoHalves}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Outcomes[OutcomeRepairedLocal])

	got := byName(res.Tests)
	require.Contains(t, got, "Hemoglobin")
	require.Contains(t, got, "TSH")
	require.Len(t, got["TSH"].Results, 1)
	require.NotNil(t, got["TSH"].Results[0].DateAndTime)
	assert.Equal(t, "2024-01-01", *got["TSH"].Results[0].DateAndTime)
}

func TestRunRecordsMergeSubSteps(t *testing.T) {
	ex := &stubExtractor{respond: func(context.Context, string) (string, error) { return hemoglobinJSON, nil }}
	rc := common.NewRequestContext("test")

	_, err := NewEngine(testDict, ex, nil, nil, testConfig(1)).
		Run(context.Background(), Request{Text: "page", Candidates: []string{hemoglobinLate}}, rc)
	require.NoError(t, err)

	var names []string
	for _, step := range rc.Steps {
		if step.Name != "merge_candidates" {
			continue
		}
		for _, sub := range step.SubSteps {
			names = append(names, sub.Name)
		}
	}
	assert.Equal(t, []string{"merge_supplied", "merge_segments"}, names)
}

func TestRunUsesRepairCollaborator(t *testing.T) {
	raw := "I found Hemoglobin 13.5 g/dL on the page."
	ex := &stubExtractor{respond: func(context.Context, string) (string, error) { return raw, nil }}
	repairer := &mockRepairer{}
	repairer.On("Repair", raw).Return(hemoglobinJSON, nil).Once()
	engine := NewEngine(testDict, ex, repairer, nil, testConfig(1))

	res, err := engine.Run(context.Background(), Request{Text: "page text"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Outcomes[OutcomeRepairedAI])
	assert.Zero(t, res.Stats.Outcomes[OutcomeRepairedLocal])
	require.Len(t, res.Tests, 1)
	repairer.AssertExpectations(t)
}

func TestRunUnparseableFallsBackToHeuristic(t *testing.T) {
	ex := &stubExtractor{respond: func(context.Context, string) (string, error) { return "no structured data", nil }}
	cfg := testConfig(1)
	cfg.RepairEnabled = false
	engine := NewEngine(testDict, ex, nil, nil, cfg)

	res, err := engine.Run(context.Background(), Request{Text: "Hemoglobin 13.5 g/dL 13.0-17.0"}, nil)
	require.NoError(t, err)
	require.Len(t, res.Previews, 1)
	assert.Equal(t, "no structured data", res.Previews[0].Preview)
	assert.True(t, res.Stats.HeuristicUsed)
	require.Len(t, res.Tests, 1)
	assert.Equal(t, "Hemoglobin", res.Tests[0].TestName)
	assert.Equal(t, "13.0-17.0", record.Deref(res.Tests[0].ReferenceRange))
}

func TestRunCandidatesAreAuthoritative(t *testing.T) {
	candidate := `{"tests":[{"testName":"TSH","unit":"uIU/mL","results":[{"value":"2.1","dateAndTime":"2024-01-05"}]}]}`
	extracted := `{"tests":[{"testName":"tsh","unit":"mIU/L","referenceRange":"0.4-4.0","results":[{"value":"2.4","dateAndTime":"2024-01-05"}]}]}`
	ex := &stubExtractor{respond: func(context.Context, string) (string, error) { return extracted, nil }}

	res, err := NewEngine(testDict, ex, nil, nil, testConfig(1)).
		Run(context.Background(), Request{Text: "page", Candidates: []string{candidate}}, nil)
	require.NoError(t, err)
	require.Len(t, res.Tests, 1)
	tsh := res.Tests[0]
	require.Len(t, tsh.Results, 1)
	assert.Equal(t, "2.1", tsh.Results[0].Value)
	assert.Equal(t, "uIU/mL", record.Deref(tsh.Unit))
	assert.Equal(t, "0.4-4.0", record.Deref(tsh.ReferenceRange))
	assert.Equal(t, record.StatusNormal, tsh.Status)

	cfg := testConfig(1)
	cfg.Policy = merge.Latest
	res, err = NewEngine(testDict, ex, nil, nil, cfg).
		Run(context.Background(), Request{Text: "page", Candidates: []string{candidate}}, nil)
	require.NoError(t, err)
	require.Len(t, res.Tests, 1)
	assert.Equal(t, "2.4", res.Tests[0].Results[0].Value)
}

func TestRunKeepsSimilarlyNamedTestsApart(t *testing.T) {
	dict := dictionary.New([]string{"LDL Cholesterol", "Vitamin B12"})
	candidate := `{"tests":[
		{"testName":"LDL Cholesterol","value":"130","unit":"mg/dL","referenceRange":"<100","dateAndTime":"2024-01-05"},
		{"testName":"VLDL Cholesterol","value":"28","unit":"mg/dL","referenceRange":"5-40","dateAndTime":"2024-01-05"},
		{"testName":"Vitamin B1","value":"3.1","unit":"ug/dL","referenceRange":"2.5-7.5"}
	]}`

	res, err := NewEngine(dict, nil, nil, nil, testConfig(1)).
		Run(context.Background(), Request{Candidates: []string{candidate}}, nil)
	require.NoError(t, err)
	require.Len(t, res.Tests, 3)

	got := byName(res.Tests)
	require.Contains(t, got, "LDL Cholesterol")
	require.Contains(t, got, "VLDL Cholesterol")
	require.Contains(t, got, "Vitamin B1")
	assert.Equal(t, "130", got["LDL Cholesterol"].LatestValue())
	assert.Equal(t, record.StatusHigh, got["LDL Cholesterol"].Status)
	assert.Equal(t, "28", got["VLDL Cholesterol"].LatestValue())
	assert.Equal(t, "5-40", record.Deref(got["VLDL Cholesterol"].ReferenceRange))
	assert.Equal(t, record.StatusNormal, got["VLDL Cholesterol"].Status)
}

func TestRunCancellation(t *testing.T) {
	ex := &stubExtractor{respond: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	engine := NewEngine(testDict, ex, nil, nil, testConfig(3))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res, err := engine.Run(ctx, Request{Text: "Hemoglobin 13.5 g/dL 13.0-17.0"}, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSegmentTimeoutDegrades(t *testing.T) {
	ex := &stubExtractor{respond: func(ctx context.Context, seg string) (string, error) {
		if strings.Contains(seg, "alpha") {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return hemoglobinJSON, nil
	}}
	cfg := testConfig(2)
	cfg.SegmentTimeout = 20 * time.Millisecond

	res, err := NewEngine(testDict, ex, nil, nil, cfg).Run(context.Background(), Request{Text: twoHalves}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.ExtractorFailures)
	assert.Len(t, res.Tests, 1)
}

func TestRunBoundsConcurrency(t *testing.T) {
	ex := &stubExtractor{
		delay:   15 * time.Millisecond,
		respond: func(context.Context, string) (string, error) { return `{"tests":[]}`, nil },
	}
	cfg := testConfig(6)
	cfg.Concurrency = 2

	var mu sync.Mutex
	var progress []int
	res, err := NewEngine(testDict, ex, nil, nil, cfg).Run(context.Background(), Request{
		Text: "abcdefghijkl",
		Progress: func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 6, total)
			progress = append(progress, done)
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(6), atomic.LoadInt32(&ex.calls))
	assert.LessOrEqual(t, atomic.LoadInt32(&ex.maxInFlight), int32(2))
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, progress)
	assert.Equal(t, EmptyNoMedicalContent, res.EmptyReason)
}

func TestRunImagesGoWithFirstSegmentOnly(t *testing.T) {
	ex := &stubExtractor{respond: func(context.Context, string) (string, error) { return hemoglobinJSON, nil }}
	images := []ai.BinaryFile{{Name: "p1.png", MIMEType: "image/png", Data: []byte{1}}}

	_, err := NewEngine(testDict, ex, nil, nil, testConfig(1)).Run(context.Background(), Request{Images: images}, nil)
	require.NoError(t, err)
	require.Len(t, ex.images, 1)
	assert.Equal(t, images, ex.images[0])
}

func TestRunEmptyReasons(t *testing.T) {
	failing := &stubExtractor{respond: func(context.Context, string) (string, error) { return "", errors.New("down") }}
	res, err := NewEngine(testDict, failing, nil, nil, testConfig(1)).Run(context.Background(), Request{Text: "unreadable scan"}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Tests)
	assert.Equal(t, EmptyExtractionFailed, res.EmptyReason)

	noise := &stubExtractor{respond: func(context.Context, string) (string, error) {
		return `{"tests":[{"testName":"Patient Address","value":"12 Main Road, Pune 411001"}]}`, nil
	}}
	res, err = NewEngine(testDict, noise, nil, nil, testConfig(1)).Run(context.Background(), Request{Text: "scan"}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Tests)
	assert.Equal(t, EmptyNoMedicalContent, res.EmptyReason)
	assert.JSONEq(t, `{"tests":[]}`, jsonOf(t, res.Output()))
}

func TestRunHeuristicKeepsDifferentValues(t *testing.T) {
	text := "Total Cholesterol: 210 mg/dl (<200)\nTotal Cholesterol: 215 mg/dl (<200)\nTotal Cholesterol: 210 mg/dl (<200)"
	res, err := NewEngine(testDict, nil, nil, nil, testConfig(1)).Run(context.Background(), Request{Text: text}, nil)
	require.NoError(t, err)

	require.Len(t, res.Tests, 1)
	tc := res.Tests[0]
	require.Len(t, tc.Results, 2)
	assert.Equal(t, "210", tc.Results[0].Value)
	assert.Equal(t, "215", tc.Results[1].Value)
	assert.Equal(t, record.StatusHigh, tc.Status)
}

func TestRunIsIdempotentOnItsOwnOutput(t *testing.T) {
	input := `{"lab_results":[
		{"testName":"Hemoglobin","value":"13.5","unit":"g/dL","referenceRange":"13-17","dateAndTime":"2024-01-05"},
		{"testName":"Glucose Fasting","results":[{"value":"98","dateAndTime":"2024-01-05"},{"value":"131","dateAndTime":"2024-03-01"}],"unit":"mg/dL","referenceRange":"70-100"},
		{"testName":"HEMOGLOBIN","value":"12.4","dateAndTime":"2024-03-01"}
	]}`
	engine := NewEngine(testDict, nil, nil, nil, testConfig(1))

	first, err := engine.Run(context.Background(), Request{Candidates: []string{input}}, nil)
	require.NoError(t, err)
	firstJSON := jsonOf(t, first.Output())

	second, err := engine.Run(context.Background(), Request{Candidates: []string{firstJSON}}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, firstJSON, jsonOf(t, second.Output()))

	again, err := engine.Run(context.Background(), Request{Candidates: []string{input}}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, firstJSON, jsonOf(t, again.Output()))

	recs := byName(first.Tests)
	require.Contains(t, recs, "Hemoglobin")
	assert.Len(t, recs["Hemoglobin"].Results, 2)
	require.Contains(t, recs, "Glucose Fasting")
	assert.Equal(t, record.StatusHigh, recs["Glucose Fasting"].Status)
}

func TestRunCategorize(t *testing.T) {
	extracted := `{"tests":[
		{"testName":"Total Cholesterol","value":"210","unit":"mg/dL","referenceRange":"<200","section":"LIPID PROFILE"},
		{"testName":"Hemoglobin","value":"13.5","unit":"g/dL","section":"CBC"},
		{"testName":"Total Cholesterol","value":"210","unit":"mg/dL","section":"BIOCHEMISTRY"}
	]}`
	ex := &stubExtractor{respond: func(context.Context, string) (string, error) { return extracted, nil }}

	res, err := NewEngine(testDict, ex, nil, nil, testConfig(1)).
		Run(context.Background(), Request{Text: "page", Categorize: true}, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Tests)

	seen := make(map[string]int)
	for _, c := range res.Categories {
		for _, r := range c.Tests {
			seen[dictionary.MergeKey(r.TestName)]++
		}
	}
	assert.Equal(t, 1, seen[dictionary.MergeKey("Total Cholesterol")])
	assert.Equal(t, 1, seen[dictionary.MergeKey("Hemoglobin")])

	out, ok := res.Output().(record.CategorizedResult)
	require.True(t, ok)
	assert.Len(t, out.Tests, len(res.Categories))
}

func TestRunRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ex := &stubExtractor{respond: func(_ context.Context, seg string) (string, error) {
		if strings.Contains(seg, "alpha") {
			return "", errors.New("boom")
		}
		return hemoglobinJSON, nil
	}}

	_, err := NewEngine(testDict, ex, nil, m, testConfig(2)).Run(context.Background(), Request{Text: twoHalves}, nil)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "labrecon_segments_total", "labrecon_extractor_failures_total", "labrecon_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
