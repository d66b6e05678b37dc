package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/llm"
	"github.com/helixir/paper-review-service/internal/papersources"
	"github.com/helixir/paper-review-service/internal/retrieval"
)

const (
	// MaxKeywords caps the keywords kept for retrieval.
	MaxKeywords = 5

	// queryKeywords is how many keywords are joined into the OR-query.
	queryKeywords = 3

	maxTitleQuery = 100
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "for": {}, "and": {}, "in": {}, "on": {},
	"to": {}, "with": {}, "via": {}, "by": {}, "from": {}, "towards": {}, "using": {},
	"is": {}, "are": {}, "at": {}, "its": {}, "we": {}, "our": {},
}

// Analyst runs the language-model analysis steps of a review.
type Analyst struct {
	completer llm.Completer
	logger    zerolog.Logger
}

// NewAnalyst creates an analyst backed by completer.
func NewAnalyst(completer llm.Completer, logger zerolog.Logger) *Analyst {
	return &Analyst{
		completer: completer,
		logger:    logger.With().Str("component", "analyst").Logger(),
	}
}

// ExtractKeywords asks the model for at most MaxKeywords search keywords.
// An empty answer falls back to HeuristicKeywords with an error wrapping
// domain.ErrFallback; a failed call returns the heuristic keywords together
// with the error.
func (a *Analyst) ExtractKeywords(ctx context.Context, fields domain.PaperFields, text string) ([]string, error) {
	raw, err := a.completer.Complete(ctx, keywordsPrompt(fields, text))
	if err != nil {
		return HeuristicKeywords(fields), err
	}

	keywords := make([]string, 0, MaxKeywords)
	for _, kw := range splitKeywords(raw) {
		keywords = append(keywords, strings.ToLower(kw))
	}
	keywords = domain.DedupKeywords(keywords, MaxKeywords)
	if len(keywords) == 0 {
		a.logger.Warn().Msg("model returned no keywords, using heuristic keywords")
		return HeuristicKeywords(fields), fmt.Errorf("%w: model returned no keywords", domain.ErrFallback)
	}
	return keywords, nil
}

// HeuristicKeywords derives keywords from the paper's own keyword list and
// the significant words of its title.
func HeuristicKeywords(fields domain.PaperFields) []string {
	var candidates []string
	for i, kw := range fields.Keywords {
		if i == queryKeywords {
			break
		}
		candidates = append(candidates, strings.ToLower(kw))
	}

	words := 0
	for _, w := range strings.Fields(strings.ToLower(fields.Title)) {
		w = strings.Trim(w, ".,:;!?()[]{}\"'")
		if _, stop := stopwords[w]; stop || len(w) < 3 {
			continue
		}
		candidates = append(candidates, w)
		words++
		if words == queryKeywords {
			break
		}
	}
	return domain.DedupKeywords(candidates, MaxKeywords)
}

// splitKeywords splits a comma, semicolon or newline separated list and
// strips list markers and quotes from each entry.
func splitKeywords(s string) []string {
	s = llm.StripCodeFence(s)
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '，' || r == '；' || r == '、'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimLeft(p, "-*•0123456789. ")
		p = strings.Trim(p, "\"'`[] ")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BuildQuery joins up to three keywords as a quoted OR-query. A single
// keyword is returned as is; with no keywords the title is used.
func BuildQuery(keywords []string, title string) string {
	keywords = domain.DedupKeywords(keywords, queryKeywords)
	switch len(keywords) {
	case 0:
		return clip(domain.CollapseWhitespace(title), maxTitleQuery)
	case 1:
		return keywords[0]
	}
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = `"` + strings.ReplaceAll(kw, `"`, "") + `"`
	}
	return strings.Join(quoted, " | ")
}

// QueryVariants builds the concurrent search variants for a paper: the
// keyword query by relevance, by recency and by citations, plus the title
// as a relevance query when it differs.
func QueryVariants(keywords []string, fields domain.PaperFields) []retrieval.Variant {
	var variants []retrieval.Variant
	if q := BuildQuery(keywords, fields.Title); q != "" {
		variants = append(variants,
			retrieval.Variant{Query: q, Sort: papersources.SortRelevance},
			retrieval.Variant{Query: q, Sort: papersources.SortNewest},
			retrieval.Variant{Query: q, Sort: papersources.SortMostCited},
		)
	}
	if title := clip(domain.CollapseWhitespace(fields.Title), maxTitleQuery); title != "" && len(keywords) > 0 {
		variants = append(variants, retrieval.Variant{Query: title, Sort: papersources.SortRelevance})
	}
	return variants
}

// ScoreText is the text related papers are compared against.
func ScoreText(fields domain.PaperFields, text string) string {
	s := strings.TrimSpace(fields.Title + " " + fields.Abstract)
	if s == "" {
		s = clip(text, maxPromptPaperInfo)
	}
	return s
}

// AnalyzeInnovation returns the model's innovation analysis.
func (a *Analyst) AnalyzeInnovation(ctx context.Context, fields domain.PaperFields, text string, related []domain.PaperRecord, lang Language) (string, error) {
	return a.complete(ctx, innovationPrompt(fields, text, related, lang))
}

// Evaluate returns the model's multi-dimensional evaluation.
func (a *Analyst) Evaluate(ctx context.Context, fields domain.PaperFields, text, innovation string, related []domain.PaperRecord, lang Language) (string, error) {
	return a.complete(ctx, evaluationPrompt(fields, text, innovation, related, lang))
}

// GenerateReport returns the Markdown review.
func (a *Analyst) GenerateReport(ctx context.Context, fields domain.PaperFields, text, innovation, evaluation string, lang Language) (string, error) {
	return a.complete(ctx, reportPrompt(fields, text, innovation, evaluation, lang))
}

func (a *Analyst) complete(ctx context.Context, p llm.Prompt) (string, error) {
	out, err := a.completer.Complete(ctx, p)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", domain.NewServiceError(a.completer.Provider(), 0, fmt.Sprintf("empty %s response", p.Operation), nil)
	}
	return out, nil
}

// FallbackInnovation summarizes the paper from its own fields when the
// innovation analysis is unavailable.
func FallbackInnovation(fields domain.PaperFields, lang Language) string {
	var sb strings.Builder
	sb.WriteString(lang.Pick("## Core Innovations (basic summary)\n\n", "## 核心创新点（基础摘要）\n\n"))
	if fields.Title != "" {
		fmt.Fprintf(&sb, lang.Pick("This paper presents research on **%s**.\n\n", "本文研究了**%s**。\n\n"), fields.Title)
	}
	if fields.Abstract != "" {
		sb.WriteString(clip(fields.Abstract, 300))
		sb.WriteString("\n\n")
	}
	for _, s := range fields.Sections {
		if isContributionHeading(s.Heading) {
			fmt.Fprintf(&sb, "- %s\n", clip(s.Body, 300))
		}
	}
	sb.WriteString(lang.Pick(
		"\n*The innovation analysis could not be completed; this summary is based on the paper itself.*",
		"\n*创新点分析未能完成；以上摘要仅基于论文本身。*",
	))
	return strings.TrimSpace(sb.String())
}

// FallbackEvaluation is the basic evaluation used when the evaluation step
// is unavailable.
func FallbackEvaluation(fields domain.PaperFields, lang Language) string {
	var missing []string
	if !hasSection(fields, "method") {
		missing = append(missing, lang.Pick("methodology", "方法论"))
	}
	if !hasSection(fields, "result") && !hasSection(fields, "experiment") {
		missing = append(missing, lang.Pick("experimental results", "实验结果"))
	}

	var sb strings.Builder
	sb.WriteString(lang.Pick("## Evaluation (basic)\n\n", "## 评估（基础）\n\n"))
	sb.WriteString(lang.Pick(
		"- Technical Quality: Pending\n- Novelty: Pending\n- Clarity: Pending\n- Completeness: Pending\n",
		"- 技术质量：待评估\n- 新颖性：待评估\n- 清晰度：待评估\n- 完整性：待评估\n",
	))
	if len(missing) > 0 {
		fmt.Fprintf(&sb, lang.Pick("\nThe extracted text lacks detail on: %s.\n", "\n提取的文本缺少以下内容的细节：%s。\n"), strings.Join(missing, ", "))
	}
	sb.WriteString(lang.Pick(
		"\n*The detailed evaluation could not be completed.*",
		"\n*详细评估未能完成。*",
	))
	return strings.TrimSpace(sb.String())
}

func isContributionHeading(h string) bool {
	h = strings.ToLower(h)
	return strings.Contains(h, "contribution") || strings.Contains(h, "贡献")
}

func hasSection(fields domain.PaperFields, needle string) bool {
	for _, s := range fields.Sections {
		if strings.Contains(strings.ToLower(s.Heading), needle) {
			return true
		}
	}
	return false
}
