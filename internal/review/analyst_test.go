package review

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/papersources"
	"github.com/helixir/paper-review-service/internal/retrieval"
)

var sampleFields = domain.PaperFields{
	Title:    "Attention Is All You Need",
	Abstract: "We propose the Transformer.",
	Keywords: []string{"Attention", "Transformer", "Machine Translation", "Seq2Seq"},
	Sections: []domain.Section{{Heading: "Core Contributions", Body: "A model built on attention alone."}},
}

func TestAnalyst_ExtractKeywords(t *testing.T) {
	t.Run("parses and caps the model list", func(t *testing.T) {
		fc := newFakeCompleter()
		fc.responses["extract_keywords"] = "Self-Attention, transformer, transformer,\n- machine translation; \"encoder decoder\", positional encoding, beam search"

		kws, err := NewAnalyst(fc, zerolog.Nop()).ExtractKeywords(context.Background(), sampleFields, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"self-attention", "transformer", "machine translation", "encoder decoder", "positional encoding"}, kws)
	})

	t.Run("empty answer falls back to heuristic keywords", func(t *testing.T) {
		fc := newFakeCompleter()
		fc.responses["extract_keywords"] = "  "

		kws, err := NewAnalyst(fc, zerolog.Nop()).ExtractKeywords(context.Background(), sampleFields, "")
		assert.ErrorIs(t, err, domain.ErrFallback)
		assert.Equal(t, HeuristicKeywords(sampleFields), kws)
	})

	t.Run("failure returns heuristic keywords with the error", func(t *testing.T) {
		fc := newFakeCompleter()
		fc.errs["extract_keywords"] = errors.New("down")

		kws, err := NewAnalyst(fc, zerolog.Nop()).ExtractKeywords(context.Background(), sampleFields, "")
		assert.Error(t, err)
		assert.NotEmpty(t, kws)
	})
}

func TestHeuristicKeywords(t *testing.T) {
	kws := HeuristicKeywords(sampleFields)
	assert.Equal(t, []string{"attention", "transformer", "machine translation", "all", "you"}, kws)
	assert.LessOrEqual(t, len(kws), MaxKeywords)

	assert.Empty(t, HeuristicKeywords(domain.PaperFields{}))
	assert.Equal(t, []string{"graph", "networks"}, HeuristicKeywords(domain.PaperFields{Title: "On the Graph Networks"}))
}

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, `"graph neural networks" | "molecules" | "drug discovery"`,
		BuildQuery([]string{"graph neural networks", "molecules", "drug discovery", "chemistry"}, "ignored"))
	assert.Equal(t, "transformers", BuildQuery([]string{"transformers"}, "ignored"))
	assert.Equal(t, "A Title", BuildQuery(nil, "  A   Title "))
	assert.Equal(t, `"a" | "b"`, BuildQuery([]string{`"a"`, "b", "B"}, ""))
	assert.Empty(t, BuildQuery(nil, ""))
}

func TestQueryVariants(t *testing.T) {
	variants := QueryVariants([]string{"attention", "transformer"}, sampleFields)
	q := `"attention" | "transformer"`
	assert.Equal(t, []retrieval.Variant{
		{Query: q, Sort: papersources.SortRelevance},
		{Query: q, Sort: papersources.SortNewest},
		{Query: q, Sort: papersources.SortMostCited},
		{Query: "Attention Is All You Need", Sort: papersources.SortRelevance},
	}, variants)

	titleOnly := QueryVariants(nil, sampleFields)
	assert.Len(t, titleOnly, 3)
	assert.Equal(t, "Attention Is All You Need", titleOnly[0].Query)

	assert.Empty(t, QueryVariants(nil, domain.PaperFields{}))
}

func TestScoreText(t *testing.T) {
	assert.Equal(t, "Attention Is All You Need We propose the Transformer.", ScoreText(sampleFields, "raw"))
	assert.Equal(t, "raw", ScoreText(domain.PaperFields{}, "raw"))
}

func TestAnalyst_AnalysisSteps(t *testing.T) {
	related := []domain.PaperRecord{{Title: "Neural Machine Translation by Jointly Learning to Align", Year: 2014, Abstract: "Attention for NMT."}}

	fc := newFakeCompleter()
	fc.responses["analyze_innovation"] = " innovation text "
	fc.responses["evaluate"] = "evaluation text"
	fc.responses["generate_report"] = "# Summary\n..."
	a := NewAnalyst(fc, zerolog.Nop())
	ctx := context.Background()

	innovation, err := a.AnalyzeInnovation(ctx, sampleFields, "raw text", related, LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "innovation text", innovation)
	assert.Contains(t, fc.last().User, "Neural Machine Translation")
	assert.Contains(t, fc.last().User, "Year: 2014")

	evaluation, err := a.Evaluate(ctx, sampleFields, "raw text", innovation, related, LanguageChinese)
	require.NoError(t, err)
	assert.Equal(t, "evaluation text", evaluation)
	assert.Contains(t, fc.last().System, "中文")
	assert.Contains(t, fc.last().User, "innovation text")

	report, err := a.GenerateReport(ctx, sampleFields, "raw text", innovation, evaluation, LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "# Summary\n...", report)
	assert.Contains(t, fc.last().System, "# Questions for Authors")
}

func TestAnalyst_EmptyResponseIsAnError(t *testing.T) {
	fc := newFakeCompleter()
	_, err := NewAnalyst(fc, zerolog.Nop()).GenerateReport(context.Background(), sampleFields, "", "", "", LanguageEnglish)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.ErrorContains(t, err, "empty generate_report response")
}

func TestFallbacks(t *testing.T) {
	en := FallbackInnovation(sampleFields, LanguageEnglish)
	assert.Contains(t, en, "**Attention Is All You Need**")
	assert.Contains(t, en, "- A model built on attention alone.")

	zh := FallbackInnovation(sampleFields, LanguageChinese)
	assert.Contains(t, zh, "核心创新点")

	eval := FallbackEvaluation(sampleFields, LanguageEnglish)
	assert.Contains(t, eval, "Technical Quality: Pending")
	assert.Contains(t, eval, "methodology, experimental results")

	complete := domain.PaperFields{Sections: []domain.Section{{Heading: "Methodology"}, {Heading: "Results"}}}
	assert.NotContains(t, FallbackEvaluation(complete, LanguageEnglish), "lacks detail")
}

func TestFormatPaper(t *testing.T) {
	assert.Equal(t, "[Parser Warning] Structured sections unavailable.", formatPaper(domain.PaperFields{}, ""))

	out := formatPaper(sampleFields, "raw")
	assert.Contains(t, out, "Title:\nAttention Is All You Need")
	assert.Contains(t, out, "Keywords:\nAttention, Transformer")
	assert.Contains(t, out, "Raw PDF Excerpt:\nraw")
}
