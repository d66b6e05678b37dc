// Package papersources provides interfaces and types for academic paper source clients.
//
// Each upstream index (Semantic Scholar, OpenAlex, arXiv) implements the
// PaperSource interface. Clients normalize responses into domain.PaperRecord
// and report throttling as domain.RateLimitError and upstream faults as
// domain.ServiceError. Clients never retry; the retrieval engine owns retry
// and fallback.
//
// Example usage:
//
//	source := semanticscholar.NewClient(cfg, nil)
//	result, err := source.Search(ctx, papersources.SearchParams{
//		Query:      "graph neural networks",
//		MaxResults: 5,
//	})
package papersources

import (
	"context"
	"time"

	"github.com/helixir/paper-review-service/internal/domain"
)

// SearchParams defines the parameters for one search request.
type SearchParams struct {
	// Query is the search query string (required).
	Query string

	// MaxResults limits the number of records returned.
	// A value of 0 uses the source's default limit.
	MaxResults int

	// Sort selects the ordering requested from the upstream.
	// The zero value is SortRelevance.
	Sort SortOrder
}

// SortOrder selects how a source orders its matches.
type SortOrder string

const (
	SortRelevance SortOrder = ""
	SortNewest    SortOrder = "newest"
	SortMostCited SortOrder = "most_cited"
)

// SearchResult contains the records returned by one search request.
type SearchResult struct {
	// Papers may be empty if nothing matched.
	Papers []domain.PaperRecord

	// TotalResults is the upstream's estimate of all matches.
	TotalResults int

	// Source identifies which paper source provided these results.
	Source domain.SourceType

	// SearchDuration includes network latency and response parsing.
	SearchDuration time.Duration
}

// PaperSource defines the interface that all paper source clients must implement.
type PaperSource interface {
	// Search queries the source for records matching params.
	//
	// Implementations should:
	//   - Respect context cancellation
	//   - Apply rate limiting before every request
	//   - Tag every returned record with SourceType()
	//   - Return domain.RateLimitError on an explicit throttle signal
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// SourceType returns the type identifier for this paper source.
	SourceType() domain.SourceType

	// Name returns a human-readable name for logging and display.
	Name() string

	// IsEnabled returns whether this source is configured for use.
	IsEnabled() bool
}
