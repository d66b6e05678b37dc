// Package pipeline runs one paper review as a fixed sequence of supervised
// stages and streams its progress to the client.
//
// Every stage runs under the heartbeat supervisor with its own deadline.
// Stages with the degrade policy substitute a fallback value when they time
// out or fail and the run continues in the degraded state; fatal stages end
// the run with a single error event. The whole run is additionally bounded
// by a wall-clock deadline, and a client that goes away stops the run before
// the next stage starts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/events"
	"github.com/helixir/paper-review-service/internal/observability"
	"github.com/helixir/paper-review-service/internal/retrieval"
	"github.com/helixir/paper-review-service/internal/review"
	"github.com/helixir/paper-review-service/internal/supervisor"
)

// closeTimeout bounds the wait for the stream writer to drain.
const closeTimeout = 10 * time.Second

// TextExtractor turns the submitted document into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, payload []byte) (string, error)
}

// FieldExtractor pulls the structured fields out of paper text.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, text string, lang review.Language) (domain.PaperFields, error)
}

// Analyst runs the language-model stages.
type Analyst interface {
	ExtractKeywords(ctx context.Context, fields domain.PaperFields, text string) ([]string, error)
	AnalyzeInnovation(ctx context.Context, fields domain.PaperFields, text string, related []domain.PaperRecord, lang review.Language) (string, error)
	Evaluate(ctx context.Context, fields domain.PaperFields, text, innovation string, related []domain.PaperRecord, lang review.Language) (string, error)
	GenerateReport(ctx context.Context, fields domain.PaperFields, text, innovation, evaluation string, lang review.Language) (string, error)
}

// Retriever finds related work.
type Retriever interface {
	Search(ctx context.Context, req retrieval.Request) (retrieval.Result, error)
}

// Sink is the client stream of one run.
type Sink interface {
	events.Emitter
	Close(ctx context.Context, final *domain.Event) error
}

// Dependencies are the stage implementations.
type Dependencies struct {
	Extractor TextExtractor
	Fields    FieldExtractor
	Analyst   Analyst
	Retriever Retriever

	// Scorer ranks related papers the retriever returned unscored. Optional.
	Scorer retrieval.Scorer
}

// Options configures an Orchestrator.
type Options struct {
	Clock   clockwork.Clock
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Request is one review submission.
type Request struct {
	// ReviewID identifies the run; generated when empty.
	ReviewID string
	// Query is the user's free-text instruction.
	Query string
	// PDF is the raw or base64-encoded document.
	PDF []byte
}

// Result summarizes a finished run.
type Result struct {
	ReviewID string
	Status   domain.ReviewStatus
	// Report is set for completed and degraded runs.
	Report *Report
	// Err is the cause of a failed run.
	Err error
	// Disconnected is set when the run stopped because the client went away.
	Disconnected bool
}

// Orchestrator executes review runs. It is safe for concurrent use; each
// Run has its own PipelineContext and supervisor.
type Orchestrator struct {
	deps    Dependencies
	cfg     Config
	clock   clockwork.Clock
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates an Orchestrator.
func New(deps Dependencies, cfg Config, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: text extractor is required")
	case deps.Fields == nil:
		return nil, errors.New("pipeline: field extractor is required")
	case deps.Analyst == nil:
		return nil, errors.New("pipeline: analyst is required")
	case deps.Retriever == nil:
		return nil, errors.New("pipeline: retriever is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		clock:   opts.Clock,
		logger:  opts.Logger.With().Str("component", "pipeline").Logger(),
		metrics: opts.Metrics,
	}, nil
}

// Run executes every stage for req, streaming progress to sink, and always
// closes sink with the terminal marker before returning.
func (o *Orchestrator) Run(ctx context.Context, sink Sink, req Request) Result {
	reviewID := req.ReviewID
	if reviewID == "" {
		reviewID = uuid.NewString()
	}
	ctx = observability.WithReviewID(ctx, reviewID)
	logger := observability.FromContext(ctx, o.logger)

	start := o.clock.Now()
	o.metrics.RecordReviewStarted()
	logger.Info().Int("pdf_bytes", len(req.PDF)).Msg("review started")

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.ReviewTimeout)
	defer cancel()

	r := &run{
		o:       o,
		sink:    sink,
		sup:     supervisor.New(sink, supervisor.Options{Clock: o.clock, Logger: logger, Metrics: o.metrics}),
		logger:  logger,
		payload: req.PDF,
		pc: PipelineContext{
			Query:    req.Query,
			Language: review.DetectLanguage(req.Query),
		},
	}

	err := r.execute(runCtx, ctx, reviewID)
	elapsed := o.clock.Since(start)

	res := Result{ReviewID: reviewID, Err: err, Disconnected: r.disconnected}
	var final *domain.Event
	switch {
	case err != nil:
		res.Status = domain.ReviewStatusFailed
	case r.pc.Degraded():
		res.Status = domain.ReviewStatusDegraded
	default:
		res.Status = domain.ReviewStatusCompleted
	}
	if err == nil {
		res.Report = buildReport(reviewID, res.Status, &r.pc, r.timings, elapsed)
		ev := domain.NewDataEvent(domain.EventKindFinal, "", res.Report)
		final = &ev
	}

	closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer closeCancel()
	if cerr := sink.Close(closeCtx, final); cerr != nil && !r.disconnected {
		logger.Warn().Err(cerr).Msg("closing review stream failed")
	}

	o.metrics.RecordReviewFinished(string(res.Status), elapsed.Seconds())
	event := logger.Info()
	if err != nil {
		event = logger.Warn().Err(err)
	}
	event.
		Str("status", string(res.Status)).
		Int("fallbacks", len(r.pc.Fallbacks)).
		Dur("elapsed", elapsed).
		Bool("disconnected", r.disconnected).
		Msg("review finished")
	return res
}

// run is the state of a single review.
type run struct {
	o       *Orchestrator
	sink    Sink
	sup     *supervisor.Supervisor
	logger  zerolog.Logger
	payload []byte

	pc           PipelineContext
	timings      []StageTiming
	disconnected bool
}

type startPayload struct {
	ReviewID string          `json:"review_id"`
	Language review.Language `json:"language"`
	Stages   []string        `json:"stages"`
}

type errorPayload struct {
	Stage    string `json:"stage,omitempty"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// execute runs the stages in order. runCtx carries the overall deadline;
// reqCtx is the request context, used for events that must still be
// delivered after the deadline.
func (r *run) execute(runCtx, reqCtx context.Context, reviewID string) error {
	start := domain.NewDataEvent(domain.EventKindStart, "", startPayload{
		ReviewID: reviewID,
		Language: r.pc.Language,
		Stages:   StageOrder,
	})
	if err := r.emit(reqCtx, start); err != nil {
		return r.interrupted(reqCtx, "", err)
	}

	for _, name := range StageOrder {
		if err := r.runStage(runCtx, reqCtx, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) runStage(runCtx, reqCtx context.Context, name string) error {
	if err := runCtx.Err(); err != nil {
		return r.interrupted(reqCtx, name, err)
	}

	policy := PolicyFor(name)
	logger := observability.WithStageContext(r.logger, name, string(policy))

	n := stepNarration[name]
	if err := r.emit(reqCtx, domain.NewTextEvent(domain.EventKindStep, name, r.pc.Language.Pick(n[0], n[1]))); err != nil {
		return r.interrupted(reqCtx, name, err)
	}

	if err := r.require(name); err != nil {
		r.record(name, policy, domain.StageStatusFailed, 0, 0)
		r.o.metrics.RecordStage(name, string(domain.StageStatusFailed), 0)
		return r.fail(reqCtx, name, err)
	}

	sc := r.o.cfg.Stages[name]
	out := r.sup.Supervise(runCtx, supervisor.Task{
		Name:              name,
		Deadline:          sc.Deadline,
		HeartbeatInterval: sc.Heartbeat,
		Body:              r.body(name, r.pc),
	})
	status := domain.StageStatus(out.Status.String())
	// A body that substituted its own fallback value finished its work; it
	// is recorded as completed and degrades the run below.
	selfFallback := out.Status == supervisor.StatusFailed && errors.Is(out.Err, domain.ErrFallback)
	if selfFallback {
		status = domain.StageStatusCompleted
	}
	r.record(name, policy, status, out.Elapsed, out.Heartbeats)
	r.o.metrics.RecordStage(name, string(status), out.Elapsed.Seconds())

	switch {
	case out.Status == supervisor.StatusCompleted:
		r.apply(name, out.Value)
		r.afterStage(name)
		logger.Debug().Dur("elapsed", out.Elapsed).Int("heartbeats", out.Heartbeats).Msg("stage completed")
		if err := r.emit(reqCtx, domain.NewDataEvent(domain.EventKindStepResult, name, r.stepResult(name))); err != nil {
			return r.interrupted(reqCtx, name, err)
		}

	case out.Status == supervisor.StatusCancelled:
		return r.interrupted(reqCtx, name, out.Err)

	default:
		if policy == domain.StagePolicyFatal || errors.Is(out.Err, domain.ErrContextIncomplete) {
			return r.fail(reqCtx, name, out.Err)
		}
		warning := r.degrade(name, status, out)
		r.afterStage(name)
		logger.Warn().Err(out.Err).Str("status", string(status)).Bool("self_fallback", selfFallback).Msg("stage degraded")
		if err := r.emit(reqCtx, domain.NewTextEvent(domain.EventKindWarning, name, warning)); err != nil {
			return r.interrupted(reqCtx, name, err)
		}
	}

	if sec := r.section(name); sec != nil {
		if err := r.emit(reqCtx, domain.NewDataEvent(domain.EventKindSection, name, *sec)); err != nil {
			return r.interrupted(reqCtx, name, err)
		}
	}
	for _, text := range r.narration(name) {
		if err := r.emit(reqCtx, domain.NewTextEvent(domain.EventKindInfo, name, text)); err != nil {
			return r.interrupted(reqCtx, name, err)
		}
	}
	return nil
}

// degrade keeps any partial value of a failed stage, fills the remaining
// gaps with the stage's fallback and returns the warning text.
func (r *run) degrade(name string, status domain.StageStatus, out supervisor.Outcome) string {
	partial := hasValue(out.Value)
	r.apply(name, out.Value)
	desc := r.fallback(name)
	r.pc.addFallback(FallbackMarker{
		Stage:    name,
		Status:   status,
		Reason:   errString(out.Err),
		Partial:  partial,
		Fallback: desc,
	})
	r.o.metrics.RecordStageFallback(name)

	verb := r.pc.Language.Pick("failed", "失败")
	switch status {
	case domain.StageStatusTimedOut:
		verb = r.pc.Language.Pick("timed out", "超时")
	case domain.StageStatusCompleted:
		verb = r.pc.Language.Pick("fell back", "已降级")
	}
	return fmt.Sprintf(r.pc.Language.Pick("%s %s (%s); continuing with %s", "%s %s（%s），使用%s继续"),
		name, verb, errString(out.Err), desc)
}

// fail emits the run's only error event.
func (r *run) fail(reqCtx context.Context, stage string, err error) error {
	r.logger.Error().Err(err).Str("stage", stage).Msg("review failed")
	payload := errorPayload{
		Stage:    stage,
		Category: domain.Classify(err).String(),
		Message:  err.Error(),
	}
	if emitErr := r.sink.Emit(reqCtx, domain.NewDataEvent(domain.EventKindError, stage, payload)); emitErr != nil {
		r.logger.Warn().Err(emitErr).Msg("could not deliver error event")
	}
	if stage == "" {
		return err
	}
	return fmt.Errorf("stage %s: %w", stage, err)
}

// interrupted handles a run stopped from outside: the client went away or
// the overall deadline elapsed.
func (r *run) interrupted(reqCtx context.Context, stage string, cause error) error {
	var transportErr *events.TransportError
	if reqCtx.Err() != nil || errors.As(cause, &transportErr) || errors.Is(cause, events.ErrStreamClosed) {
		r.disconnected = true
		r.logger.Warn().Err(cause).Str("stage", stage).Msg("client disconnected, stopping review")
		return fmt.Errorf("client disconnected: %w", cause)
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return r.fail(reqCtx, stage, domain.NewTimeoutError("review", r.o.cfg.ReviewTimeout))
	}
	return r.fail(reqCtx, stage, cause)
}

// emit publishes an orchestrator event. A payload the stream refuses to
// frame is logged and skipped; transport failures are returned.
func (r *run) emit(ctx context.Context, ev domain.Event) error {
	err := r.sink.Emit(ctx, ev)
	if errors.Is(err, events.ErrPreFramed) {
		r.logger.Warn().Str("kind", string(ev.Kind)).Str("stage", ev.Stage).Msg("dropping pre-framed event payload")
		return nil
	}
	return err
}

func (r *run) record(name string, policy domain.StagePolicy, status domain.StageStatus, elapsed time.Duration, heartbeats int) {
	r.timings = append(r.timings, StageTiming{
		Stage:      name,
		Policy:     policy,
		Status:     status,
		DurationMS: elapsed.Milliseconds(),
		Heartbeats: heartbeats,
	})
}

// require checks that a stage's inputs were produced.
func (r *run) require(name string) error {
	switch name {
	case StageExtractText:
		if len(r.payload) == 0 {
			return domain.NewContextIncompleteError(name, "pdf_content")
		}
	case StageScoreSimilarity:
		// scores whatever retrieval produced, possibly nothing
	default:
		if r.pc.Text == "" {
			return domain.NewContextIncompleteError(name, "text")
		}
	}
	return nil
}

// body returns the work of a stage over a copy of the context.
func (r *run) body(name string, in PipelineContext) supervisor.Body {
	deps := r.o.deps
	logger := r.logger
	switch name {
	case StageExtractText:
		payload := r.payload
		return func(ctx context.Context, _ events.Emitter) (any, error) {
			return deps.Extractor.Extract(ctx, payload)
		}

	case StageExtractFields:
		return func(ctx context.Context, _ events.Emitter) (any, error) {
			return deps.Fields.ExtractFields(ctx, in.Text, in.Language)
		}

	case StageExtractKeywords:
		return func(ctx context.Context, _ events.Emitter) (any, error) {
			return deps.Analyst.ExtractKeywords(ctx, in.Fields, in.Text)
		}

	case StageRetrieveRelated:
		return func(ctx context.Context, emit events.Emitter) (any, error) {
			variants := review.QueryVariants(in.Keywords, in.Fields)
			if len(variants) == 0 {
				return retrieval.Result{Status: retrieval.StatusNoResults}, nil
			}
			narrate(ctx, emit, logger, name, fmt.Sprintf(
				in.Language.Pick("Querying %d search variants for: %s", "使用%d个检索变体查询：%s"),
				len(variants), variants[0].Query))
			res, err := deps.Retriever.Search(ctx, retrieval.Request{
				Variants:  variants,
				ScoreText: review.ScoreText(in.Fields, in.Text),
			})
			if err == nil && res.Status == retrieval.StatusNoResults && sourcesUnavailable(res.Attempts) {
				err = fmt.Errorf("%w: no paper source could be searched", domain.ErrFallback)
			}
			return res, err
		}

	case StageScoreSimilarity:
		return func(ctx context.Context, emit events.Emitter) (any, error) {
			if len(in.Related) == 0 || in.Scored {
				return nil, nil
			}
			if deps.Scorer == nil {
				narrate(ctx, emit, logger, name, in.Language.Pick("Similarity scoring is not configured", "未配置相似度计算"))
				return nil, nil
			}
			return deps.Scorer.Score(ctx, review.ScoreText(in.Fields, in.Text), in.Related)
		}

	case StageAnalyzeInnovation:
		return func(ctx context.Context, _ events.Emitter) (any, error) {
			return deps.Analyst.AnalyzeInnovation(ctx, in.Fields, in.Text, in.Related, in.Language)
		}

	case StageEvaluate:
		return func(ctx context.Context, _ events.Emitter) (any, error) {
			return deps.Analyst.Evaluate(ctx, in.Fields, in.Text, in.Innovation, in.Related, in.Language)
		}

	case StageGenerateReport:
		return func(ctx context.Context, _ events.Emitter) (any, error) {
			return deps.Analyst.GenerateReport(ctx, in.Fields, in.Text, in.Innovation, in.Evaluation, in.Language)
		}
	}
	return nil
}

// narrate emits an info event from inside a stage body. Delivery failures
// surface through the supervisor, so they are only logged here.
func narrate(ctx context.Context, emit events.Emitter, logger zerolog.Logger, stage, text string) {
	err := emit.Emit(ctx, domain.NewTextEvent(domain.EventKindInfo, "", text))
	if err != nil && !errors.Is(err, supervisor.ErrStageFinished) {
		logger.Debug().Err(err).Str("stage", stage).Msg("could not deliver stage narration")
	}
}

// sourcesUnavailable reports whether an empty search was caused by sources
// that failed, were rate limited or were still suspended, rather than by
// sources that answered with nothing.
func sourcesUnavailable(attempts []retrieval.SourceAttempt) bool {
	for _, a := range attempts {
		switch a.Outcome {
		case retrieval.OutcomeRateLimited, retrieval.OutcomeFailed, retrieval.OutcomeSkipped:
			return true
		}
	}
	return false
}

// apply merges a stage value into the context.
func (r *run) apply(name string, v any) {
	pc := &r.pc
	switch val := v.(type) {
	case string:
		switch name {
		case StageExtractText:
			pc.mergeText(val)
		case StageAnalyzeInnovation:
			mergeString(&pc.Innovation, val)
		case StageEvaluate:
			mergeString(&pc.Evaluation, val)
		case StageGenerateReport:
			mergeString(&pc.Report, val)
		}
	case domain.PaperFields:
		pc.mergeFields(val)
	case []string:
		pc.mergeKeywords(val)
	case retrieval.Result:
		pc.mergeRelated(val)
	case []float64:
		pc.mergeScores(val)
	}
}

// fallback fills the stage's gaps and describes what was substituted.
func (r *run) fallback(name string) string {
	pc := &r.pc
	lang := pc.Language
	switch name {
	case StageExtractFields:
		pc.mergeFields(review.HeuristicFields(pc.Text))
		return lang.Pick("heuristic fields marked best-effort", "启发式提取的字段（尽力而为）")
	case StageExtractKeywords:
		pc.mergeKeywords(review.HeuristicKeywords(pc.Fields))
		return lang.Pick("keywords taken from the title and paper", "从标题和论文中提取的关键词")
	case StageRetrieveRelated:
		return lang.Pick("an empty list of related papers", "空的相关论文列表")
	case StageScoreSimilarity:
		return lang.Pick("unscored related papers", "未评分的相关论文")
	case StageAnalyzeInnovation:
		mergeString(&pc.Innovation, review.FallbackInnovation(pc.Fields, lang))
		return lang.Pick("a basic summary from the paper itself", "基于论文本身的基础摘要")
	case StageEvaluate:
		mergeString(&pc.Evaluation, review.FallbackEvaluation(pc.Fields, lang))
		return lang.Pick("a basic evaluation", "基础评估")
	default:
		return ""
	}
}

// afterStage updates derived state once a stage has ended either way.
func (r *run) afterStage(name string) {
	if name == StageExtractFields {
		if r.pc.Query != "" || r.pc.Fields.Title != "" {
			r.pc.Language = review.DetectLanguage(r.pc.Query, r.pc.Fields.Title)
		} else {
			r.pc.Language = review.DetectLanguage(r.pc.Text)
		}
	}
}

type textResult struct {
	Characters int             `json:"characters"`
	Language   review.Language `json:"language"`
}

type keywordsResult struct {
	Keywords []string `json:"keywords"`
}

type relatedResult struct {
	Status   retrieval.Status          `json:"status"`
	Source   domain.SourceType         `json:"source,omitempty"`
	Count    int                       `json:"count"`
	Attempts []retrieval.SourceAttempt `json:"attempts,omitempty"`
}

type similarityResult struct {
	Scored bool                 `json:"scored"`
	Papers []domain.PaperRecord `json:"papers"`
}

type lengthResult struct {
	Characters int `json:"characters"`
}

// stepResult is the structured payload of a completed stage.
func (r *run) stepResult(name string) any {
	pc := &r.pc
	switch name {
	case StageExtractText:
		return textResult{Characters: len([]rune(pc.Text)), Language: pc.Language}
	case StageExtractFields:
		return pc.Fields
	case StageExtractKeywords:
		return keywordsResult{Keywords: pc.Keywords}
	case StageRetrieveRelated:
		status := retrieval.StatusNoResults
		if len(pc.Related) > 0 {
			status = retrieval.StatusOK
		}
		return relatedResult{Status: status, Source: pc.RelatedSource, Count: len(pc.Related), Attempts: pc.Attempts}
	case StageScoreSimilarity:
		papers := pc.Related
		if papers == nil {
			papers = []domain.PaperRecord{}
		}
		return similarityResult{Scored: pc.Scored, Papers: papers}
	case StageAnalyzeInnovation:
		return lengthResult{Characters: len([]rune(pc.Innovation))}
	case StageEvaluate:
		return lengthResult{Characters: len([]rune(pc.Evaluation))}
	case StageGenerateReport:
		return lengthResult{Characters: len([]rune(pc.Report))}
	}
	return nil
}

// section returns the review section a stage produced, if any.
func (r *run) section(name string) *domain.Section {
	lang := r.pc.Language
	var s domain.Section
	switch name {
	case StageAnalyzeInnovation:
		s = domain.Section{Heading: lang.Pick("Innovation Analysis", "创新点分析"), Body: r.pc.Innovation}
	case StageEvaluate:
		s = domain.Section{Heading: lang.Pick("Evaluation", "评估"), Body: r.pc.Evaluation}
	case StageGenerateReport:
		s = domain.Section{Heading: lang.Pick("Review", "评审报告"), Body: r.pc.Report}
	default:
		return nil
	}
	if s.Body == "" {
		return nil
	}
	return &s
}

// narration returns the info events that follow a stage.
func (r *run) narration(name string) []string {
	pc := &r.pc
	lang := pc.Language
	switch name {
	case StageExtractFields:
		if pc.Fields.Title != "" {
			return []string{fmt.Sprintf(lang.Pick("Title: %s", "标题：%s"), pc.Fields.Title)}
		}
	case StageRetrieveRelated:
		if len(pc.Related) == 0 {
			return []string{lang.Pick("No related papers found", "未找到相关论文")}
		}
		return []string{fmt.Sprintf(lang.Pick("Found %d related papers via %s", "通过%[2]s找到%[1]d篇相关论文"),
			len(pc.Related), pc.RelatedSource)}
	}
	return nil
}

// hasValue reports whether a stage value carries any output.
func hasValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case []string:
		return len(val) > 0
	case []float64:
		return len(val) > 0
	case domain.PaperFields:
		return !val.IsEmpty()
	case retrieval.Result:
		return len(val.Records) > 0
	default:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
