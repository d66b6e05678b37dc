package pipeline

import (
	"slices"
	"time"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/retrieval"
	"github.com/helixir/paper-review-service/internal/review"
)

// StageTiming records how one stage ended and how long it took.
type StageTiming struct {
	Stage      string             `json:"stage"`
	Policy     domain.StagePolicy `json:"policy"`
	Status     domain.StageStatus `json:"status"`
	DurationMS int64              `json:"duration_ms"`
	Heartbeats int                `json:"heartbeats"`
}

// Report is the payload of the final event of a completed or degraded run.
type Report struct {
	ReviewID string              `json:"review_id"`
	Status   domain.ReviewStatus `json:"status"`
	Language review.Language     `json:"language"`

	Fields           domain.PaperFields `json:"fields"`
	FieldsBestEffort bool               `json:"fields_best_effort"`
	Keywords         []string           `json:"keywords"`

	Sections []domain.Section `json:"sections"`

	Candidates      []domain.PaperRecord      `json:"candidates"`
	CandidateSource domain.SourceType         `json:"candidate_source,omitempty"`
	SourceAttempts  []retrieval.SourceAttempt `json:"source_attempts,omitempty"`

	Fallbacks  []FallbackMarker `json:"fallbacks"`
	Timings    []StageTiming    `json:"timings"`
	DurationMS int64            `json:"duration_ms"`
}

// Fallback returns the marker recorded for stage, if any.
func (r *Report) Fallback(stage string) (FallbackMarker, bool) {
	for _, m := range r.Fallbacks {
		if m.Stage == stage {
			return m, true
		}
	}
	return FallbackMarker{}, false
}

func buildReport(reviewID string, status domain.ReviewStatus, pc *PipelineContext, timings []StageTiming, elapsed time.Duration) *Report {
	lang := pc.Language
	r := &Report{
		ReviewID:        reviewID,
		Status:          status,
		Language:        lang,
		Fields:          cloneFields(pc.Fields),
		Keywords:        slices.Clone(pc.Keywords),
		Candidates:      slices.Clone(pc.Related),
		CandidateSource: pc.RelatedSource,
		SourceAttempts:  slices.Clone(pc.Attempts),
		Fallbacks:       slices.Clone(pc.Fallbacks),
		Timings:         slices.Clone(timings),
		DurationMS:      elapsed.Milliseconds(),
	}

	_, fieldsFellBack := r.Fallback(StageExtractFields)
	r.FieldsBestEffort = pc.Fields.BestEffort || fieldsFellBack

	for _, s := range []domain.Section{
		{Heading: lang.Pick("Innovation Analysis", "创新点分析"), Body: pc.Innovation},
		{Heading: lang.Pick("Evaluation", "评估"), Body: pc.Evaluation},
		{Heading: lang.Pick("Review", "评审报告"), Body: pc.Report},
	} {
		if s.Body != "" {
			r.Sections = append(r.Sections, s)
		}
	}

	if r.Keywords == nil {
		r.Keywords = []string{}
	}
	if r.Candidates == nil {
		r.Candidates = []domain.PaperRecord{}
	}
	if r.Fallbacks == nil {
		r.Fallbacks = []FallbackMarker{}
	}
	return r
}
