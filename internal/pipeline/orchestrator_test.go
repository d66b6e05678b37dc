package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/events"
	"github.com/helixir/paper-review-service/internal/papersources"
	"github.com/helixir/paper-review-service/internal/retrieval"
	"github.com/helixir/paper-review-service/internal/review"
	"github.com/helixir/paper-review-service/internal/supervisor"
)

const paperText = `Graph Attention Networks

Abstract
We present graph attention networks, novel neural network architectures that
operate on graph-structured data.

Keywords: graph neural networks, attention

1 Introduction
Convolutional neural networks have been applied to many domains.`

type fakeExtractor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, payload []byte) (string, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, payload []byte) (string, error) {
	f.calls.Add(1)
	return f.fn(ctx, payload)
}

type fakeFields struct {
	calls atomic.Int32
	fn    func(ctx context.Context, text string) (domain.PaperFields, error)
}

func (f *fakeFields) ExtractFields(ctx context.Context, text string, _ review.Language) (domain.PaperFields, error) {
	f.calls.Add(1)
	return f.fn(ctx, text)
}

type fakeAnalyst struct {
	calls      atomic.Int32
	keywords   func(ctx context.Context) ([]string, error)
	innovation func(ctx context.Context) (string, error)
	evaluation func(ctx context.Context) (string, error)
	report     func(ctx context.Context) (string, error)
}

func (f *fakeAnalyst) ExtractKeywords(ctx context.Context, _ domain.PaperFields, _ string) ([]string, error) {
	f.calls.Add(1)
	return f.keywords(ctx)
}

func (f *fakeAnalyst) AnalyzeInnovation(ctx context.Context, _ domain.PaperFields, _ string, _ []domain.PaperRecord, _ review.Language) (string, error) {
	f.calls.Add(1)
	return f.innovation(ctx)
}

func (f *fakeAnalyst) Evaluate(ctx context.Context, _ domain.PaperFields, _, _ string, _ []domain.PaperRecord, _ review.Language) (string, error) {
	f.calls.Add(1)
	return f.evaluation(ctx)
}

func (f *fakeAnalyst) GenerateReport(ctx context.Context, _ domain.PaperFields, _, _, _ string, _ review.Language) (string, error) {
	f.calls.Add(1)
	return f.report(ctx)
}

type fakeRetriever struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req retrieval.Request) (retrieval.Result, error)
}

func (f *fakeRetriever) Search(ctx context.Context, req retrieval.Request) (retrieval.Result, error) {
	f.calls.Add(1)
	return f.fn(ctx, req)
}

type scorerFunc func(ctx context.Context, text string, records []domain.PaperRecord) ([]float64, error)

func (f scorerFunc) Score(ctx context.Context, text string, records []domain.PaperRecord) ([]float64, error) {
	return f(ctx, text, records)
}

type fakes struct {
	extractor *fakeExtractor
	fields    *fakeFields
	analyst   *fakeAnalyst
	retriever *fakeRetriever
}

func healthyFakes() *fakes {
	return &fakes{
		extractor: &fakeExtractor{fn: func(context.Context, []byte) (string, error) { return paperText, nil }},
		fields: &fakeFields{fn: func(context.Context, string) (domain.PaperFields, error) {
			return domain.PaperFields{
				Title:    "Graph Attention Networks",
				Abstract: "We present graph attention networks.",
				Keywords: []string{"graph neural networks"},
			}, nil
		}},
		analyst: &fakeAnalyst{
			keywords:   func(context.Context) ([]string, error) { return []string{"graph attention", "gnn"}, nil },
			innovation: func(context.Context) (string, error) { return "Masked self-attention over neighborhoods.", nil },
			evaluation: func(context.Context) (string, error) { return "Strong empirical results.", nil },
			report:     func(context.Context) (string, error) { return "## Review\n\nAccept.", nil },
		},
		retriever: &fakeRetriever{fn: func(context.Context, retrieval.Request) (retrieval.Result, error) {
			return retrieval.Result{
				Status:  retrieval.StatusOK,
				Source:  domain.SourceTypeSemanticScholar,
				Records: []domain.PaperRecord{{ID: "p1", Title: "Graph Convolutional Networks", Source: domain.SourceTypeSemanticScholar}},
			}, nil
		}},
	}
}

func (f *fakes) deps() Dependencies {
	return Dependencies{
		Extractor: f.extractor,
		Fields:    f.fields,
		Analyst:   f.analyst,
		Retriever: f.retriever,
	}
}

func newTestOrchestrator(t *testing.T, deps Dependencies, cfg Config, clock clockwork.Clock) *Orchestrator {
	t.Helper()
	o, err := New(deps, cfg, Options{Clock: clock, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return o
}

// wireEvent is one decoded SSE frame.
type wireEvent struct {
	Seq     uint64          `json:"seq"`
	Kind    string          `json:"kind"`
	Stage   string          `json:"stage"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data"`
}

type capture struct {
	buf    bytes.Buffer
	stream *events.Stream
}

func newCapture(clock clockwork.Clock) *capture {
	c := &capture{}
	c.stream = events.NewStream(&c.buf, events.Options{Clock: clock, Logger: zerolog.Nop()})
	return c
}

// frames decodes the stream output. It must only be called after Run returned.
func (c *capture) frames(t *testing.T) []wireEvent {
	t.Helper()
	raw := c.buf.String()
	require.True(t, strings.HasSuffix(raw, "data: [DONE]\n\n"), "stream must end with the terminal marker")
	require.Equal(t, 1, strings.Count(raw, "data: [DONE]"), "terminal marker must be written exactly once")

	var out []wireEvent
	for _, block := range strings.Split(strings.TrimSuffix(raw, "\n\n"), "\n\n") {
		if block == "data: [DONE]" {
			continue
		}
		lines := strings.SplitN(block, "\n", 2)
		require.Len(t, lines, 2, "frame %q", block)
		var ev wireEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &ev))
		require.Equal(t, "event: "+ev.Kind, lines[0])
		out = append(out, ev)
	}
	return out
}

func ofKind(frames []wireEvent, kind domain.EventKind) []wireEvent {
	var out []wireEvent
	for _, f := range frames {
		if f.Kind == string(kind) {
			out = append(out, f)
		}
	}
	return out
}

func stepsStarted(frames []wireEvent) []string {
	var out []string
	for _, f := range ofKind(frames, domain.EventKindStep) {
		out = append(out, f.Stage)
	}
	return out
}

func decodeReport(t *testing.T, frames []wireEvent) Report {
	t.Helper()
	finals := ofKind(frames, domain.EventKindFinal)
	require.Len(t, finals, 1)
	var rep Report
	require.NoError(t, json.Unmarshal(finals[0].Data, &rep))
	return rep
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRun_CompletesAllStages(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	o := newTestOrchestrator(t, f.deps(), DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{Query: "review this paper", PDF: []byte("%PDF-1.4")})

	require.NoError(t, res.Err)
	assert.Equal(t, domain.ReviewStatusCompleted, res.Status)
	assert.NotEmpty(t, res.ReviewID)
	require.NotNil(t, res.Report)

	frames := c.frames(t)
	require.NotEmpty(t, frames)
	assert.Equal(t, string(domain.EventKindStart), frames[0].Kind, "start must be first")
	assert.Equal(t, string(domain.EventKindFinal), frames[len(frames)-1].Kind, "final must precede the terminal marker")
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].Seq, frames[i-1].Seq)
	}

	assert.Equal(t, StageOrder, stepsStarted(frames))
	assert.Len(t, ofKind(frames, domain.EventKindStepResult), len(StageOrder))
	assert.Empty(t, ofKind(frames, domain.EventKindError))
	assert.Empty(t, ofKind(frames, domain.EventKindWarning))
	assert.Len(t, ofKind(frames, domain.EventKindSection), 3)

	rep := decodeReport(t, frames)
	assert.Equal(t, domain.ReviewStatusCompleted, rep.Status)
	assert.Equal(t, res.ReviewID, rep.ReviewID)
	assert.False(t, rep.FieldsBestEffort)
	assert.Equal(t, []string{"graph attention", "gnn"}, rep.Keywords)
	require.Len(t, rep.Candidates, 1)
	assert.Equal(t, domain.SourceTypeSemanticScholar, rep.Candidates[0].Source)
	assert.Empty(t, rep.Fallbacks)
	require.Len(t, rep.Sections, 3)
	assert.Equal(t, "## Review\n\nAccept.", rep.Sections[2].Body)
	require.Len(t, rep.Timings, len(StageOrder))
	for i, timing := range rep.Timings {
		assert.Equal(t, StageOrder[i], timing.Stage)
		assert.Equal(t, domain.StageStatusCompleted, timing.Status)
	}
}

func TestRun_FieldExtractionTimeoutDegrades(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ctx := testContext(t)
	f := healthyFakes()

	started := make(chan struct{})
	f.fields.fn = func(ctx context.Context, _ string) (domain.PaperFields, error) {
		close(started)
		<-ctx.Done()
		return domain.PaperFields{}, ctx.Err()
	}

	cfg := DefaultConfig()
	o := newTestOrchestrator(t, f.deps(), cfg, fc)
	c := newCapture(fc)

	go func() {
		select {
		case <-started:
		case <-ctx.Done():
			return
		}
		// deadline and heartbeat timers of the field stage
		if err := fc.BlockUntilContext(ctx, 2); err != nil {
			return
		}
		fc.Advance(cfg.Stages[StageExtractFields].Deadline)
	}()

	res := o.Run(ctx, c.stream, Request{PDF: []byte("%PDF-1.4")})

	require.NoError(t, res.Err)
	assert.Equal(t, domain.ReviewStatusDegraded, res.Status)

	frames := c.frames(t)
	warnings := ofKind(frames, domain.EventKindWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, StageExtractFields, warnings[0].Stage)
	assert.Contains(t, warnings[0].Content, "timed out")

	heartbeats := 0
	for _, hb := range ofKind(frames, domain.EventKindHeartbeat) {
		if hb.Stage == StageExtractFields {
			heartbeats++
		}
	}
	assert.Equal(t, 8, heartbeats, "120s deadline with 15s heartbeat")

	assert.Equal(t, StageOrder, stepsStarted(frames), "a degraded stage never stops the run")
	assert.Empty(t, ofKind(frames, domain.EventKindError))

	rep := decodeReport(t, frames)
	assert.Equal(t, domain.ReviewStatusDegraded, rep.Status)
	assert.True(t, rep.FieldsBestEffort)
	assert.True(t, rep.Fields.BestEffort)
	assert.Equal(t, "Graph Attention Networks", rep.Fields.Title, "heuristic title from the text")
	marker, ok := rep.Fallback(StageExtractFields)
	require.True(t, ok)
	assert.Equal(t, domain.StageStatusTimedOut, marker.Status)
	assert.False(t, marker.Partial)
}

func TestRun_RateLimitedPrimaryUsesSecondaryRecords(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()

	primary := &stubSource{typ: domain.SourceTypeSemanticScholar, fn: func(context.Context, papersources.SearchParams) (*papersources.SearchResult, error) {
		return nil, domain.NewRateLimitError("semantic_scholar", 30*time.Second)
	}}
	secondary := &stubSource{typ: domain.SourceTypeOpenAlex, fn: func(context.Context, papersources.SearchParams) (*papersources.SearchResult, error) {
		return &papersources.SearchResult{Source: domain.SourceTypeOpenAlex, Papers: []domain.PaperRecord{
			{ID: "W1", Title: "Semi-Supervised Classification with Graph Convolutional Networks", Source: domain.SourceTypeOpenAlex},
			{ID: "W2", Title: "Inductive Representation Learning on Large Graphs", Source: domain.SourceTypeOpenAlex},
			{ID: "W3", Title: "Neural Message Passing for Quantum Chemistry", Source: domain.SourceTypeOpenAlex},
		}}, nil
	}}
	registry := papersources.NewRegistry()
	registry.Register(primary)
	registry.Register(secondary)
	engine := retrieval.NewEngine(registry, retrieval.Config{
		Priority:        []domain.SourceType{domain.SourceTypeSemanticScholar, domain.SourceTypeOpenAlex},
		MaxTries:        3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Cooldown:        time.Minute,
		MaxResults:      10,
		MaxPerQuery:     5,
	}, retrieval.WithClock(fc), retrieval.WithLogger(zerolog.Nop()))

	deps := f.deps()
	deps.Retriever = engine
	o := newTestOrchestrator(t, deps, DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{PDF: []byte("%PDF-1.4")})
	require.NoError(t, res.Err)
	assert.Equal(t, domain.ReviewStatusCompleted, res.Status)

	frames := c.frames(t)
	rep := decodeReport(t, frames)
	require.Len(t, rep.Candidates, 3)
	titles := make([]string, 0, 3)
	for _, p := range rep.Candidates {
		assert.Equal(t, domain.SourceTypeOpenAlex, p.Source)
		titles = append(titles, p.Title)
	}
	assert.ElementsMatch(t, []string{
		"Semi-Supervised Classification with Graph Convolutional Networks",
		"Inductive Representation Learning on Large Graphs",
		"Neural Message Passing for Quantum Chemistry",
	}, titles)
	assert.Equal(t, domain.SourceTypeOpenAlex, rep.CandidateSource)
	require.Len(t, rep.SourceAttempts, 2)
	assert.Equal(t, retrieval.OutcomeRateLimited, rep.SourceAttempts[0].Outcome)

	var found bool
	for _, info := range ofKind(frames, domain.EventKindInfo) {
		if info.Stage == StageRetrieveRelated && strings.Contains(info.Content, "Found 3 related papers via openalex") {
			found = true
		}
	}
	assert.True(t, found, "narration names the source used")
}

func TestRun_TextExtractionFailureFailsRun(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	f.extractor.fn = func(context.Context, []byte) (string, error) {
		return "", domain.NewExtractionError("unreadable PDF", errors.New("malformed xref"))
	}
	o := newTestOrchestrator(t, f.deps(), DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{PDF: []byte("not a pdf")})

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, domain.ErrExtraction)
	assert.Equal(t, domain.ReviewStatusFailed, res.Status)
	assert.Nil(t, res.Report)
	assert.False(t, res.Disconnected)

	frames := c.frames(t)
	errs := ofKind(frames, domain.EventKindError)
	require.Len(t, errs, 1)
	assert.Equal(t, StageExtractText, errs[0].Stage)
	var payload errorPayload
	require.NoError(t, json.Unmarshal(errs[0].Data, &payload))
	assert.Equal(t, "fatal", payload.Category)
	assert.Contains(t, payload.Message, "unreadable PDF")

	assert.Equal(t, []string{StageExtractText}, stepsStarted(frames), "no stage runs after a fatal failure")
	assert.Empty(t, ofKind(frames, domain.EventKindFinal))
	assert.Equal(t, string(domain.EventKindError), frames[len(frames)-1].Kind)
	assert.Zero(t, f.fields.calls.Load())
	assert.Zero(t, f.analyst.calls.Load())
}

func TestRun_ReportFailureIsFatal(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	f.analyst.report = func(context.Context) (string, error) {
		return "", domain.NewServiceError("openai", 503, "overloaded", nil)
	}
	o := newTestOrchestrator(t, f.deps(), DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{PDF: []byte("%PDF-1.4")})

	assert.Equal(t, domain.ReviewStatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, domain.ErrServiceUnavailable)

	frames := c.frames(t)
	errs := ofKind(frames, domain.EventKindError)
	require.Len(t, errs, 1)
	assert.Equal(t, StageGenerateReport, errs[0].Stage)
	assert.Empty(t, ofKind(frames, domain.EventKindFinal))
}

func TestRun_DegradeStagesNeverFailTheRun(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	boom := domain.NewServiceError("openai", 500, "internal error", nil)
	f.fields.fn = func(context.Context, string) (domain.PaperFields, error) { return domain.PaperFields{}, boom }
	f.analyst.keywords = func(context.Context) ([]string, error) { return nil, boom }
	f.analyst.innovation = func(context.Context) (string, error) { return "", boom }
	f.analyst.evaluation = func(context.Context) (string, error) { return "", domain.NewTimeoutError("openai evaluate", 0) }
	f.retriever.fn = func(context.Context, retrieval.Request) (retrieval.Result, error) {
		return retrieval.Result{}, boom
	}

	o := newTestOrchestrator(t, f.deps(), DefaultConfig(), fc)
	c := newCapture(fc)
	res := o.Run(testContext(t), c.stream, Request{PDF: []byte("%PDF-1.4")})

	require.NoError(t, res.Err)
	assert.Equal(t, domain.ReviewStatusDegraded, res.Status)

	frames := c.frames(t)
	assert.Equal(t, StageOrder, stepsStarted(frames))
	assert.Empty(t, ofKind(frames, domain.EventKindError))

	rep := decodeReport(t, frames)
	for _, stage := range []string{StageExtractFields, StageExtractKeywords, StageRetrieveRelated, StageAnalyzeInnovation, StageEvaluate} {
		m, ok := rep.Fallback(stage)
		require.True(t, ok, "missing fallback marker for %s", stage)
		assert.NotEmpty(t, m.Fallback)
		assert.False(t, m.Partial, stage)
	}
	m, _ := rep.Fallback(StageEvaluate)
	assert.Equal(t, domain.StageStatusTimedOut, m.Status)

	assert.NotEmpty(t, rep.Keywords, "heuristic keywords fill the gap")
	assert.Empty(t, rep.Candidates)
	require.Len(t, rep.Sections, 3)
	assert.Contains(t, rep.Sections[0].Body, "basic summary")
	assert.Contains(t, rep.Sections[1].Body, "Evaluation (basic)")
}

func TestRun_PartialKeywordsAreKeptAndTagged(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	f.analyst.keywords = func(context.Context) ([]string, error) {
		return []string{"graph neural networks"}, domain.NewServiceError("openai", 502, "bad gateway", nil)
	}
	o := newTestOrchestrator(t, f.deps(), DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{PDF: []byte("%PDF-1.4")})
	require.NoError(t, res.Err)
	require.NotNil(t, res.Report)

	m, ok := res.Report.Fallback(StageExtractKeywords)
	require.True(t, ok)
	assert.True(t, m.Partial)
	assert.Equal(t, domain.StageStatusFailed, m.Status)
	assert.Equal(t, []string{"graph neural networks"}, res.Report.Keywords)
}

func TestRun_UnavailableSourcesDegradeRetrieval(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	f.retriever.fn = func(context.Context, retrieval.Request) (retrieval.Result, error) {
		return retrieval.Result{
			Status: retrieval.StatusNoResults,
			Attempts: []retrieval.SourceAttempt{
				{Source: domain.SourceTypeSemanticScholar, Outcome: retrieval.OutcomeRateLimited, Error: "rate limited"},
				{Source: domain.SourceTypeOpenAlex, Outcome: retrieval.OutcomeFailed, Error: "service unavailable"},
			},
		}, nil
	}
	o := newTestOrchestrator(t, f.deps(), DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{PDF: []byte("%PDF-1.4")})
	require.NoError(t, res.Err)
	assert.Equal(t, domain.ReviewStatusDegraded, res.Status)

	frames := c.frames(t)
	assert.Equal(t, StageOrder, stepsStarted(frames))
	warnings := ofKind(frames, domain.EventKindWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, StageRetrieveRelated, warnings[0].Stage)
	assert.Contains(t, warnings[0].Content, "empty list of related papers")

	rep := decodeReport(t, frames)
	assert.Equal(t, domain.ReviewStatusDegraded, rep.Status)
	m, ok := rep.Fallback(StageRetrieveRelated)
	require.True(t, ok)
	assert.Equal(t, domain.StageStatusCompleted, m.Status)
	assert.False(t, m.Partial)
	assert.Contains(t, m.Reason, "no paper source could be searched")
	assert.Empty(t, rep.Candidates)
	require.Len(t, rep.SourceAttempts, 2, "attempts are reported even without records")
	assert.Equal(t, retrieval.OutcomeRateLimited, rep.SourceAttempts[0].Outcome)
	for _, timing := range rep.Timings {
		if timing.Stage == StageRetrieveRelated {
			assert.Equal(t, domain.StageStatusCompleted, timing.Status)
		}
	}
}

func TestRun_SourcesWithNothingToReturnAreNotAFallback(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	f.retriever.fn = func(context.Context, retrieval.Request) (retrieval.Result, error) {
		return retrieval.Result{
			Status: retrieval.StatusNoResults,
			Attempts: []retrieval.SourceAttempt{
				{Source: domain.SourceTypeSemanticScholar, Outcome: retrieval.OutcomeEmpty},
				{Source: domain.SourceTypeOpenAlex, Outcome: retrieval.OutcomeEmpty},
			},
		}, nil
	}
	o := newTestOrchestrator(t, f.deps(), DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{PDF: []byte("%PDF-1.4")})
	require.NoError(t, res.Err)
	assert.Equal(t, domain.ReviewStatusCompleted, res.Status)

	frames := c.frames(t)
	assert.Empty(t, ofKind(frames, domain.EventKindWarning))
	rep := decodeReport(t, frames)
	assert.Empty(t, rep.Fallbacks)
	assert.Empty(t, rep.Candidates)
}

func TestRun_HeuristicFieldsAndKeywordsDegrade(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	f.fields.fn = func(context.Context, string) (domain.PaperFields, error) {
		return domain.PaperFields{
			Title:      "Graph Attention Networks",
			Abstract:   "We present graph attention networks.",
			BestEffort: true,
		}, fmt.Errorf("%w: field extraction response was not JSON", domain.ErrFallback)
	}
	f.analyst.keywords = func(context.Context) ([]string, error) {
		return []string{"graph", "attention"}, fmt.Errorf("%w: model returned no keywords", domain.ErrFallback)
	}
	o := newTestOrchestrator(t, f.deps(), DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{PDF: []byte("%PDF-1.4")})
	require.NoError(t, res.Err)
	assert.Equal(t, domain.ReviewStatusDegraded, res.Status)

	frames := c.frames(t)
	assert.Equal(t, StageOrder, stepsStarted(frames))
	assert.Empty(t, ofKind(frames, domain.EventKindError))
	warnings := ofKind(frames, domain.EventKindWarning)
	require.Len(t, warnings, 2)
	assert.Equal(t, StageExtractFields, warnings[0].Stage)
	assert.Equal(t, StageExtractKeywords, warnings[1].Stage)
	for _, w := range warnings {
		assert.Contains(t, w.Content, "fell back")
	}

	rep := decodeReport(t, frames)
	assert.True(t, rep.FieldsBestEffort)
	assert.Equal(t, "Graph Attention Networks", rep.Fields.Title)
	assert.Equal(t, []string{"graph", "attention"}, rep.Keywords)
	for _, stage := range []string{StageExtractFields, StageExtractKeywords} {
		m, ok := rep.Fallback(stage)
		require.True(t, ok, "missing fallback marker for %s", stage)
		assert.Equal(t, domain.StageStatusCompleted, m.Status, stage)
		assert.True(t, m.Partial, stage)
	}
}

func TestRun_EmptyTextIsContextIncomplete(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	f.extractor.fn = func(context.Context, []byte) (string, error) { return "", nil }
	o := newTestOrchestrator(t, f.deps(), DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{PDF: []byte("%PDF-1.4")})

	assert.Equal(t, domain.ReviewStatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, domain.ErrContextIncomplete)

	frames := c.frames(t)
	errs := ofKind(frames, domain.EventKindError)
	require.Len(t, errs, 1)
	assert.Equal(t, StageExtractFields, errs[0].Stage)
	assert.Zero(t, f.fields.calls.Load(), "a stage without its input never runs")
}

func TestRun_EmptyPayloadIsContextIncomplete(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	o := newTestOrchestrator(t, f.deps(), DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{})

	assert.ErrorIs(t, res.Err, domain.ErrContextIncomplete)
	assert.Zero(t, f.extractor.calls.Load())
	frames := c.frames(t)
	assert.Len(t, ofKind(frames, domain.EventKindError), 1)
}

func TestRun_ClientDisconnectStopsImmediately(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	ctx, cancel := context.WithCancel(testContext(t))
	f.extractor.fn = func(stageCtx context.Context, _ []byte) (string, error) {
		cancel()
		<-stageCtx.Done()
		return "", stageCtx.Err()
	}
	o := newTestOrchestrator(t, f.deps(), DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(ctx, c.stream, Request{PDF: []byte("%PDF-1.4")})

	assert.Equal(t, domain.ReviewStatusFailed, res.Status)
	assert.True(t, res.Disconnected)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, f.fields.calls.Load())
	assert.Zero(t, f.analyst.calls.Load())

	frames := c.frames(t)
	assert.Empty(t, ofKind(frames, domain.EventKindError), "nobody is listening for an error event")
	assert.Empty(t, ofKind(frames, domain.EventKindFinal))
}

func TestRun_OverallDeadlineFailsWithTimeout(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	f.extractor.fn = func(ctx context.Context, _ []byte) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	cfg := DefaultConfig()
	cfg.ReviewTimeout = 50 * time.Millisecond
	o := newTestOrchestrator(t, f.deps(), cfg, fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{PDF: []byte("%PDF-1.4")})

	assert.Equal(t, domain.ReviewStatusFailed, res.Status)
	assert.False(t, res.Disconnected)
	assert.ErrorIs(t, res.Err, domain.ErrTimeout)

	frames := c.frames(t)
	errs := ofKind(frames, domain.EventKindError)
	require.Len(t, errs, 1)
	var payload errorPayload
	require.NoError(t, json.Unmarshal(errs[0].Data, &payload))
	assert.Equal(t, "timeout", payload.Category)
}

func TestRun_ScoresUnrankedCandidates(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	f.retriever.fn = func(context.Context, retrieval.Request) (retrieval.Result, error) {
		return retrieval.Result{
			Status: retrieval.StatusOK,
			Source: domain.SourceTypeArXiv,
			Records: []domain.PaperRecord{
				{ID: "a", Title: "Less related", Source: domain.SourceTypeArXiv},
				{ID: "b", Title: "More related", Source: domain.SourceTypeArXiv},
			},
		}, nil
	}
	deps := f.deps()
	deps.Scorer = scorerFunc(func(_ context.Context, _ string, records []domain.PaperRecord) ([]float64, error) {
		if len(records) != 2 {
			return nil, errors.New("unexpected candidate count")
		}
		return []float64{0.1, 0.9}, nil
	})
	o := newTestOrchestrator(t, deps, DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{PDF: []byte("%PDF-1.4")})
	require.NoError(t, res.Err)

	cands := res.Report.Candidates
	require.Len(t, cands, 2)
	assert.Equal(t, "More related", cands[0].Title)
	require.NotNil(t, cands[0].Score)
	assert.InDelta(t, 0.9, *cands[0].Score, 1e-9)
}

func TestRun_ScorerFailureOmitsScores(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	deps := f.deps()
	deps.Scorer = scorerFunc(func(context.Context, string, []domain.PaperRecord) ([]float64, error) {
		return nil, domain.NewServiceError("embeddings", 500, "down", nil)
	})
	o := newTestOrchestrator(t, deps, DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{PDF: []byte("%PDF-1.4")})

	require.NoError(t, res.Err)
	assert.Equal(t, domain.ReviewStatusDegraded, res.Status)
	_, ok := res.Report.Fallback(StageScoreSimilarity)
	assert.True(t, ok)
	require.Len(t, res.Report.Candidates, 1)
	assert.Nil(t, res.Report.Candidates[0].Score)
}

func TestRun_ChineseQueryNarratesInChinese(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := healthyFakes()
	f.fields.fn = func(context.Context, string) (domain.PaperFields, error) {
		return domain.PaperFields{Title: "图注意力网络", Abstract: "我们提出图注意力网络。"}, nil
	}
	o := newTestOrchestrator(t, f.deps(), DefaultConfig(), fc)
	c := newCapture(fc)

	res := o.Run(testContext(t), c.stream, Request{Query: "请评审这篇论文", PDF: []byte("%PDF-1.4")})
	require.NoError(t, res.Err)
	assert.Equal(t, review.LanguageChinese, res.Report.Language)

	frames := c.frames(t)
	steps := ofKind(frames, domain.EventKindStep)
	require.NotEmpty(t, steps)
	assert.Equal(t, "正在解析PDF文本", steps[0].Content)
}

func TestNew_Validation(t *testing.T) {
	f := healthyFakes()

	deps := f.deps()
	deps.Analyst = nil
	_, err := New(deps, DefaultConfig(), Options{})
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.Stages[StageEvaluate] = StageConfig{Deadline: time.Second, Heartbeat: time.Second}
	_, err = New(f.deps(), cfg, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	cfg = DefaultConfig()
	delete(cfg.Stages, StageGenerateReport)
	_, err = New(f.deps(), cfg, Options{})
	require.Error(t, err)

	_, err = New(f.deps(), DefaultConfig(), Options{})
	require.NoError(t, err)
}

func TestPolicyFor(t *testing.T) {
	assert.Equal(t, domain.StagePolicyFatal, PolicyFor(StageExtractText))
	assert.Equal(t, domain.StagePolicyFatal, PolicyFor(StageGenerateReport))
	assert.Equal(t, domain.StagePolicyFatal, PolicyFor("unknown"))
	for _, s := range StageOrder[1 : len(StageOrder)-1] {
		assert.Equal(t, domain.StagePolicyDegrade, PolicyFor(s), s)
	}
}

type stubSource struct {
	typ domain.SourceType
	fn  func(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error)
}

func (s *stubSource) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	return s.fn(ctx, params)
}

func (s *stubSource) SourceType() domain.SourceType { return s.typ }
func (s *stubSource) Name() string                  { return string(s.typ) }
func (s *stubSource) IsEnabled() bool               { return true }

type emitterFunc func(ctx context.Context, ev domain.Event) error

func (f emitterFunc) Emit(ctx context.Context, ev domain.Event) error { return f(ctx, ev) }

func TestNarrate_LogsDeliveryFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	narrate(context.Background(), emitterFunc(func(context.Context, domain.Event) error {
		return supervisor.ErrStageFinished
	}), logger, StageRetrieveRelated, "late")
	assert.Empty(t, buf.String(), "events from a finished stage are already accounted for")

	narrate(context.Background(), emitterFunc(func(context.Context, domain.Event) error {
		return &events.TransportError{Err: errors.New("broken pipe")}
	}), logger, StageRetrieveRelated, "querying")
	assert.Contains(t, buf.String(), "could not deliver stage narration")
	assert.Contains(t, buf.String(), `"stage":"retrieve_related"`)
	assert.Contains(t, buf.String(), "broken pipe")
}
