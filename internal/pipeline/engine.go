// engine.go - Reconciliation run: plan, fan-out extraction, recover, merge, filter

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bosocmputer/lab_report_reconciler/internal/ai"
	"github.com/bosocmputer/lab_report_reconciler/internal/category"
	"github.com/bosocmputer/lab_report_reconciler/internal/chunker"
	"github.com/bosocmputer/lab_report_reconciler/internal/common"
	"github.com/bosocmputer/lab_report_reconciler/internal/dictionary"
	"github.com/bosocmputer/lab_report_reconciler/internal/heuristic"
	"github.com/bosocmputer/lab_report_reconciler/internal/jsonrecover"
	"github.com/bosocmputer/lab_report_reconciler/internal/merge"
	"github.com/bosocmputer/lab_report_reconciler/internal/metrics"
	"github.com/bosocmputer/lab_report_reconciler/internal/record"
	"github.com/bosocmputer/lab_report_reconciler/internal/relevance"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EmptyReason tells callers why a run produced no records.
type EmptyReason string

const (
	// EmptyNoMedicalContent: raw text was obtained but nothing survived.
	EmptyNoMedicalContent EmptyReason = "no_medical_content"
	// EmptyExtractionFailed: no source produced any raw text.
	EmptyExtractionFailed EmptyReason = "extraction_failed"
)

// Request is one reconciliation job.
type Request struct {
	Text   string
	Images []ai.BinaryFile
	// Candidates are raw JSON candidate lists from an earlier pass. They are merged
	// first and win date conflicts under the first-seen policy.
	Candidates []string
	Categorize bool
	// Progress is called after each segment settles. Calls are serialized.
	Progress func(done, total int)
}

// Stats summarises a run for diagnostics.
type Stats struct {
	Segments            int            `json:"segments"`
	ExtractorFailures   int            `json:"extractor_failures"`
	Outcomes            map[string]int `json:"recovery_outcomes"`
	CandidateRecords    int            `json:"candidate_records"`
	HeuristicUsed       bool           `json:"heuristic_used"`
	HeuristicCandidates int            `json:"heuristic_candidates"`
	ExpectedTests       int            `json:"expected_tests"`
	Records             int            `json:"records"`
}

// SegmentPreview is the head of a segment reply no recovery tier could parse.
type SegmentPreview struct {
	Chunk   int    `json:"chunk"`
	Window  int    `json:"window"`
	Preview string `json:"preview"`
}

// Result carries exactly one of Tests or Categories, depending on Request.Categorize.
type Result struct {
	Tests       []*record.TestRecord
	Categories  []*record.Category
	Stats       Stats
	Previews    []SegmentPreview
	EmptyReason EmptyReason
}

// Output returns the flat or categorized output contract.
func (r *Result) Output() any {
	if r.Categories != nil {
		return record.CategorizedResult{Tests: r.Categories}
	}
	tests := r.Tests
	if tests == nil {
		tests = []*record.TestRecord{}
	}
	return record.FlatResult{Tests: tests}
}

// Engine runs reconciliation requests. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	dict      *dictionary.Dictionary
	extractor ai.Extractor
	repairer  ai.Repairer
	metrics   *metrics.Metrics
	cfg       Config
}

// NewEngine wires an engine. extractor, repairer and m may be nil; without an
// extractor only caller candidates and the heuristic extractor are used.
func NewEngine(dict *dictionary.Dictionary, extractor ai.Extractor, repairer ai.Repairer, m *metrics.Metrics, cfg Config) *Engine {
	return &Engine{
		dict:      dict,
		extractor: extractor,
		repairer:  repairer,
		metrics:   m,
		cfg:       cfg.withDefaults(),
	}
}

type segmentOutput struct {
	segment  chunker.Segment
	gotRaw   bool
	failed   bool
	outcome  string
	records  []*record.TestRecord
	preview  string
	repaired bool
}

// Run reconciles one request. Only cancellation of ctx is returned as an error; every
// other failure shrinks the result. Partial merges are never returned.
func (e *Engine) Run(ctx context.Context, req Request, reqCtx *common.RequestContext) (*Result, error) {
	if reqCtx == nil {
		reqCtx = common.NewRequestContext("pipeline")
	}
	start := time.Now()

	result, err := e.run(ctx, req, reqCtx)
	switch {
	case err != nil:
		e.metrics.ObserveRun("cancelled", time.Since(start))
		return nil, err
	case result.EmptyReason != "":
		e.metrics.EmptyResult(string(result.EmptyReason))
		e.metrics.ObserveRun("empty", time.Since(start))
	default:
		e.metrics.ObserveRun("ok", time.Since(start))
	}
	e.metrics.RecordsEmitted(result.Stats.Records)
	return result, nil
}

func (e *Engine) run(ctx context.Context, req Request, reqCtx *common.RequestContext) (*Result, error) {
	result := &Result{Stats: Stats{Outcomes: make(map[string]int)}}

	// Step 1: Plan segments
	reqCtx.StartStep("plan_segments")
	var segments []chunker.Segment
	if e.extractor != nil {
		segments = chunker.Plan(req.Text, e.cfg.Chunking)
		if len(segments) == 0 && len(req.Images) > 0 {
			segments = []chunker.Segment{{}}
		}
	}
	result.Stats.Segments = len(segments)
	reqCtx.EndStep("success", nil, nil)

	reqCtx.StartStep("heuristic_extract")
	heuristicRecords := heuristic.Extract(req.Text)
	result.Stats.ExpectedTests = min(len(heuristicRecords), heuristic.MaxEstimate)
	reqCtx.EndStep("success", nil, nil)
	reqCtx.LogInfo("✂️ %d segments planned, ~%d tests expected", len(segments), result.Stats.ExpectedTests)

	// Step 2: Fan out extractor calls
	outputs, err := e.extractAll(ctx, segments, req, reqCtx)
	if err != nil {
		return nil, err
	}

	// Step 3: Merge sequentially in precedence order
	reqCtx.StartStep("merge_candidates")
	acc := merge.New(e.cfg.Policy)
	rawObtained := false

	reqCtx.StartSubStep("merge_supplied")
	for i, raw := range req.Candidates {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		rawObtained = true
		recovered := jsonrecover.Recover(ctx, raw, ai.SchemaHint, jsonrecover.LocalRepair)
		if recovered.Outcome == jsonrecover.OutcomeFailed {
			reqCtx.LogWarning("⚠️  Candidate list %d is not parseable JSON, skipped", i)
			continue
		}
		batch := record.Normalize(recovered.Value)
		result.Stats.CandidateRecords += len(batch)
		e.addBatch(acc, batch)
	}
	reqCtx.EndSubStep(fmt.Sprintf("%d candidate records", result.Stats.CandidateRecords))

	reqCtx.StartSubStep("merge_segments")
	for _, out := range outputs {
		if out.gotRaw {
			rawObtained = true
		}
		if out.failed {
			result.Stats.ExtractorFailures++
			continue
		}
		result.Stats.Outcomes[out.outcome]++
		e.metrics.SegmentOutcome(out.outcome)
		if out.outcome == string(jsonrecover.OutcomeFailed) {
			result.Previews = append(result.Previews, SegmentPreview{Chunk: out.segment.Chunk, Window: out.segment.Window, Preview: out.preview})
			continue
		}
		if !out.repaired {
			e.addBatch(acc, out.records)
		}
	}
	for _, out := range outputs {
		if out.repaired {
			e.addBatch(acc, out.records)
		}
	}
	reqCtx.EndSubStep(fmt.Sprintf("%d segments", len(outputs)))

	if e.cfg.HeuristicFallback && (e.extractor == nil || acc.Len() == 0) && len(heuristicRecords) > 0 {
		reqCtx.StartSubStep("merge_heuristic")
		reqCtx.LogInfo("🔍 Using heuristic line extraction (%d candidates)", len(heuristicRecords))
		result.Stats.HeuristicUsed = true
		result.Stats.HeuristicCandidates = len(heuristicRecords)
		rawObtained = true
		e.addBatch(acc, heuristicRecords)
		reqCtx.EndSubStep(fmt.Sprintf("%d heuristic records", len(heuristicRecords)))
	}
	if e.extractor == nil && strings.TrimSpace(req.Text) != "" {
		rawObtained = true
	}
	reqCtx.EndStep("success", nil, nil)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 4: Relevance filter
	reqCtx.StartStep("filter_records")
	merged := acc.Records()
	records := relevance.Filter(merged, e.dict)
	reqCtx.EndStep("success", nil, nil)
	reqCtx.LogInfo("🧹 %d of %d merged records kept", len(records), len(merged))

	if result.Stats.ExpectedTests > 0 && len(records) < result.Stats.ExpectedTests/2 {
		reqCtx.LogWarning("⚠️  Low coverage: %d records for ~%d expected tests", len(records), result.Stats.ExpectedTests)
	}

	// Step 5: Optional category assembly
	if req.Categorize {
		reqCtx.StartStep("assemble_category")
		result.Categories = category.Enforce(category.FromRecords(records), e.cfg.Policy)
		if result.Categories == nil {
			result.Categories = []*record.Category{}
		}
		reqCtx.EndStep("success", nil, nil)
	} else {
		result.Tests = records
	}
	result.Stats.Records = len(records)

	if len(records) == 0 {
		result.EmptyReason = EmptyExtractionFailed
		if rawObtained {
			result.EmptyReason = EmptyNoMedicalContent
		}
		reqCtx.LogWarning("⚠️  Empty result: %s", result.EmptyReason)
	}
	return result, nil
}

// addBatch canonicalizes names and adds the batch as one source.
func (e *Engine) addBatch(acc *merge.Accumulator, batch []*record.TestRecord) {
	if len(batch) == 0 {
		return
	}
	for _, r := range batch {
		if r != nil {
			r.TestName = e.dict.Canonicalize(r.TestName)
		}
	}
	acc.Add(batch)
}

// extractAll runs one extractor call per segment, at most Concurrency at a time.
// Outputs are indexed by segment so merge order never depends on completion order.
func (e *Engine) extractAll(ctx context.Context, segments []chunker.Segment, req Request, reqCtx *common.RequestContext) ([]segmentOutput, error) {
	if len(segments) == 0 {
		return nil, ctx.Err()
	}

	reqCtx.StartStep("extract_segments")
	outputs := make([]segmentOutput, len(segments))

	var progressMu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, seg := range segments {
		i, seg := i, seg
		var images []ai.BinaryFile
		if i == 0 {
			images = req.Images
		}
		g.Go(func() error {
			outputs[i] = e.extractSegment(gctx, seg, images, reqCtx)
			if req.Progress != nil {
				progressMu.Lock()
				done++
				req.Progress(done, len(segments))
				progressMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		reqCtx.EndStep("failed", nil, err)
		return nil, err
	}
	reqCtx.EndStep("success", nil, nil)
	return outputs, nil
}

func (e *Engine) extractSegment(ctx context.Context, seg chunker.Segment, images []ai.BinaryFile, reqCtx *common.RequestContext) segmentOutput {
	out := segmentOutput{segment: seg}
	if ctx.Err() != nil {
		out.failed = true
		return out
	}

	name := fmt.Sprintf("segment_%d_%d", seg.Chunk, seg.Window)
	track := reqCtx.Track(name)

	segCtx := ctx
	if e.cfg.SegmentTimeout > 0 {
		var cancel context.CancelFunc
		segCtx, cancel = context.WithTimeout(ctx, e.cfg.SegmentTimeout)
		defer cancel()
	}

	raw, _, err := e.extractor.Extract(segCtx, seg.Text, images, ai.SchemaHint, reqCtx)
	if err != nil {
		out.failed = true
		e.metrics.ExtractorFailure(e.extractor.GetProviderName())
		reqCtx.Logger().Warn("extractor failed, segment contributes no candidates",
			zap.String("segment", name), zap.Error(err))
		track("❌ extractor failed")
		return out
	}
	out.gotRaw = strings.TrimSpace(raw) != ""

	repairs := []jsonrecover.RepairFunc{jsonrecover.LocalRepair}
	if e.cfg.RepairEnabled && e.repairer != nil {
		repairs = append(repairs, func(ctx context.Context, raw, hint string) (string, error) {
			text, _, err := e.repairer.Repair(ctx, raw, hint, reqCtx)
			return text, err
		})
	}

	recovered := jsonrecover.Recover(segCtx, raw, ai.SchemaHint, repairs...)
	out.outcome = outcomeLabel(recovered)
	out.repaired = recovered.Outcome == jsonrecover.OutcomeRepaired
	for _, rerr := range recovered.RepairErrors {
		reqCtx.Logger().Debug("repair phase failed", zap.String("segment", name), zap.Error(rerr))
	}
	if recovered.Outcome == jsonrecover.OutcomeFailed {
		out.preview = recovered.Preview
		track("❌ unparseable")
		return out
	}

	out.records = record.Normalize(recovered.Value)
	track(fmt.Sprintf("%s, %d candidates", out.outcome, len(out.records)))
	return out
}

// Segment outcome labels. Repairs are split by phase: local closure of truncated
// output always runs first, the repair collaborator second.
const (
	OutcomeRepairedLocal = "repaired_local"
	OutcomeRepairedAI    = "repaired_ai"
)

func outcomeLabel(r jsonrecover.Result) string {
	if r.Outcome != jsonrecover.OutcomeRepaired {
		return string(r.Outcome)
	}
	if r.RepairPhase == 1 {
		return OutcomeRepairedLocal
	}
	return OutcomeRepairedAI
}
