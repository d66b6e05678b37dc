package retrieval

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/helixir/paper-review-service/internal/domain"
)

// Scorer assigns each record a similarity to text. It returns one score per
// record in input order.
type Scorer interface {
	Score(ctx context.Context, text string, records []domain.PaperRecord) ([]float64, error)
}

// Embedder turns texts into vectors. It is satisfied by the llm package's
// embedding client.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingScorer scores records by cosine similarity between the embedding
// of the query text and the embedding of each record's title and abstract.
type EmbeddingScorer struct {
	embedder Embedder
}

// NewEmbeddingScorer creates a scorer backed by embedder.
func NewEmbeddingScorer(embedder Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{embedder: embedder}
}

// Score implements Scorer.
func (s *EmbeddingScorer) Score(ctx context.Context, text string, records []domain.PaperRecord) ([]float64, error) {
	if len(records) == 0 {
		return nil, nil
	}

	texts := make([]string, 0, len(records)+1)
	texts = append(texts, text)
	for _, r := range records {
		t := strings.TrimSpace(r.Title + " " + r.Abstract)
		if t == "" {
			t = " "
		}
		texts = append(texts, t)
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding records: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding records: got %d vectors for %d texts", len(vectors), len(texts))
	}

	scores := make([]float64, len(records))
	for i := range records {
		scores[i] = cosine(vectors[0], vectors[i+1])
	}
	return scores, nil
}

// cosine returns the cosine similarity of a and b, 0 when either is zero
// or their lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
