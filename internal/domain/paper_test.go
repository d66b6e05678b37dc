package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKeyword(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase conversion", "Machine Learning", "machine learning"},
		{"trim both ends", "  protein folding  ", "protein folding"},
		{"collapse multiple spaces", "gene   expression   analysis", "gene expression analysis"},
		{"collapse tabs and newlines", "cancer\t\tresearch\nmethods", "cancer research methods"},
		{"empty string", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeKeyword(tt.input))
		})
	}
}

func TestDedupKeywords(t *testing.T) {
	t.Run("drops blanks and case-insensitive duplicates", func(t *testing.T) {
		got := DedupKeywords([]string{"Graph Neural Networks", "", "graph  neural networks", "Attention"}, 0)
		assert.Equal(t, []string{"Graph Neural Networks", "Attention"}, got)
	})

	t.Run("honours the limit", func(t *testing.T) {
		got := DedupKeywords([]string{"a", "b", "c", "d"}, 2)
		assert.Equal(t, []string{"a", "b"}, got)
	})
}

func TestPaperRecord_DedupKey(t *testing.T) {
	t.Run("title and identifier", func(t *testing.T) {
		p := PaperRecord{ID: "abc123", Title: "  Attention Is   All You Need ", Source: SourceTypeSemanticScholar}
		assert.Equal(t, "attention is all you need|semantic_scholar:abc123", p.DedupKey())
	})

	t.Run("title only when no identifier", func(t *testing.T) {
		p := PaperRecord{Title: "Deep Residual Learning", Source: SourceTypeArXiv}
		assert.Equal(t, "deep residual learning", p.DedupKey())
	})

	t.Run("case and spacing variants collide", func(t *testing.T) {
		a := PaperRecord{ID: "W1", Title: "BERT: Pre-training", Source: SourceTypeOpenAlex}
		b := PaperRecord{ID: "W1", Title: "bert:   pre-training", Source: SourceTypeOpenAlex}
		assert.Equal(t, a.DedupKey(), b.DedupKey())
	})
}

func TestPaperRecord_Snippet(t *testing.T) {
	p := PaperRecord{Abstract: "abcdefghij"}
	assert.Equal(t, "abcde...", p.Snippet(5))
	assert.Equal(t, "abcdefghij", p.Snippet(20))
	assert.Equal(t, "abcdefghij", p.Snippet(0))
}

func TestEventKind_IsValid(t *testing.T) {
	for _, k := range []EventKind{
		EventKindStart, EventKindStep, EventKindStepResult, EventKindSection,
		EventKindFinal, EventKindError, EventKindWarning, EventKindInfo, EventKindHeartbeat,
	} {
		assert.True(t, k.IsValid(), k)
	}
	assert.False(t, EventKind("progress").IsValid())
}

func TestReviewStatus_IsTerminal(t *testing.T) {
	assert.False(t, ReviewStatusPending.IsTerminal())
	assert.False(t, ReviewStatusRunning.IsTerminal())
	assert.True(t, ReviewStatusDegraded.IsTerminal())
	assert.True(t, ReviewStatusCompleted.IsTerminal())
	assert.True(t, ReviewStatusFailed.IsTerminal())
}

func TestPaperFields_IsEmpty(t *testing.T) {
	assert.True(t, PaperFields{BestEffort: true}.IsEmpty())
	assert.False(t, PaperFields{Title: "x"}.IsEmpty())
}
