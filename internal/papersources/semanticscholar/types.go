// Package semanticscholar provides a client for the Semantic Scholar Graph API.
//
// Semantic Scholar is the primary related-work index. Relevance queries use
// /paper/search; newest and most-cited orderings use /paper/search/bulk,
// which is the only endpoint that accepts a sort parameter.
//
// API Documentation: https://api.semanticscholar.org/api-docs/
package semanticscholar

// SearchResponse represents the response from both search endpoints.
type SearchResponse struct {
	// Total is the total number of papers matching the query.
	Total int `json:"total"`

	// Data contains the list of papers returned by the search.
	Data []PaperResult `json:"data"`
}

// PaperResult represents a single paper in the API response.
type PaperResult struct {
	PaperID       string       `json:"paperId"`
	Title         string       `json:"title"`
	Abstract      string       `json:"abstract"`
	Year          int          `json:"year"`
	Venue         string       `json:"venue"`
	Authors       []Author     `json:"authors"`
	CitationCount int          `json:"citationCount"`
	URL           string       `json:"url"`
	ExternalIDs   *ExternalIDs `json:"externalIds,omitempty"`
}

// ExternalIDs contains external identifiers for a paper.
type ExternalIDs struct {
	DOI   string `json:"DOI,omitempty"`
	ArXiv string `json:"ArXiv,omitempty"`
}

// Author represents a paper author.
type Author struct {
	AuthorID string `json:"authorId,omitempty"`
	Name     string `json:"name"`
}

// ErrorResponse represents an error response from the API.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
