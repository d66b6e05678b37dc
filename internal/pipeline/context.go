package pipeline

import (
	"slices"
	"strings"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/retrieval"
	"github.com/helixir/paper-review-service/internal/review"
)

// FallbackMarker records that a stage's output in the PipelineContext is not
// the stage's own complete result.
type FallbackMarker struct {
	// Stage is the stage that degraded.
	Stage string `json:"stage"`
	// Status is how the stage ended: timed_out, failed, or completed when the
	// stage substituted a fallback value itself.
	Status domain.StageStatus `json:"status"`
	// Reason is the error that triggered the fallback.
	Reason string `json:"reason,omitempty"`
	// Partial is set when output written by the stage before it ended was kept.
	Partial bool `json:"partial,omitempty"`
	// Fallback describes the value substituted for the missing output.
	Fallback string `json:"fallback"`
}

// PipelineContext accumulates the outputs of one review run. Stage bodies
// receive a copy, so only the orchestrator goroutine ever writes to it.
//
// Merge rule: a populated field is never replaced with an empty or inferior
// value. Fallback writes only fill fields that are still empty.
type PipelineContext struct {
	Query    string
	Language review.Language

	Text     string
	Fields   domain.PaperFields
	Keywords []string

	Related       []domain.PaperRecord
	RelatedSource domain.SourceType
	Attempts      []retrieval.SourceAttempt
	Scored        bool

	Innovation string
	Evaluation string
	Report     string

	Fallbacks []FallbackMarker
}

// Degraded reports whether any stage fell back.
func (pc *PipelineContext) Degraded() bool {
	return len(pc.Fallbacks) > 0
}

func (pc *PipelineContext) mergeText(text string) {
	if pc.Text == "" {
		pc.Text = text
	}
}

// mergeFields merges extracted fields. Model-derived values replace
// best-effort ones; best-effort values only fill gaps.
func (pc *PipelineContext) mergeFields(next domain.PaperFields) {
	pc.Fields = mergeFields(pc.Fields, next)
}

func mergeFields(cur, next domain.PaperFields) domain.PaperFields {
	if next.IsEmpty() {
		return cur
	}
	if cur.IsEmpty() {
		return cloneFields(next)
	}

	upgrade := cur.BestEffort && !next.BestEffort
	out := cloneFields(cur)
	var fromCur, fromNext bool

	take := func(curEmpty, nextEmpty bool) bool {
		switch {
		case nextEmpty:
			fromCur = fromCur || !curEmpty
			return false
		case curEmpty || upgrade:
			fromNext = true
			return true
		default:
			fromCur = true
			return false
		}
	}

	if take(cur.Title == "", next.Title == "") {
		out.Title = next.Title
	}
	if take(cur.Abstract == "", next.Abstract == "") {
		out.Abstract = next.Abstract
	}
	if take(len(cur.Keywords) == 0, len(next.Keywords) == 0) {
		out.Keywords = slices.Clone(next.Keywords)
	}
	if take(len(cur.Sections) == 0, len(next.Sections) == 0) {
		out.Sections = slices.Clone(next.Sections)
	}

	out.BestEffort = (fromCur && cur.BestEffort) || (fromNext && next.BestEffort)
	return out
}

func cloneFields(f domain.PaperFields) domain.PaperFields {
	f.Keywords = slices.Clone(f.Keywords)
	f.Sections = slices.Clone(f.Sections)
	return f
}

func (pc *PipelineContext) mergeKeywords(keywords []string) {
	if len(pc.Keywords) > 0 {
		return
	}
	if kw := domain.DedupKeywords(keywords, review.MaxKeywords); len(kw) > 0 {
		pc.Keywords = kw
	}
}

func (pc *PipelineContext) mergeRelated(res retrieval.Result) {
	if len(res.Attempts) > 0 && len(pc.Attempts) == 0 {
		pc.Attempts = slices.Clone(res.Attempts)
	}
	if len(pc.Related) > 0 || len(res.Records) == 0 {
		return
	}
	pc.Related = slices.Clone(res.Records)
	pc.RelatedSource = res.Source
	pc.Scored = res.Scored
}

// mergeScores attaches similarity scores to the related papers and re-ranks
// them. Existing scores are kept.
func (pc *PipelineContext) mergeScores(scores []float64) {
	if pc.Scored || len(pc.Related) == 0 || len(scores) != len(pc.Related) {
		return
	}
	pc.Related = retrieval.RankByScore(pc.Related, scores)
	pc.Scored = true
}

func mergeString(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

func (pc *PipelineContext) addFallback(m FallbackMarker) {
	pc.Fallbacks = append(pc.Fallbacks, m)
}
