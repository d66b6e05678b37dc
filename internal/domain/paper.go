package domain

import "strings"

// SourceType identifies an upstream retrieval provider.
type SourceType string

const (
	SourceTypeSemanticScholar SourceType = "semantic_scholar"
	SourceTypeOpenAlex        SourceType = "openalex"
	SourceTypeArXiv           SourceType = "arxiv"
)

// PaperRecord is the normalized form of one retrieved related work.
type PaperRecord struct {
	// ID is the identifier assigned by the source (paperId, work ID, arXiv ID).
	ID            string     `json:"id,omitempty"`
	DOI           string     `json:"doi,omitempty"`
	Title         string     `json:"title"`
	Abstract      string     `json:"abstract,omitempty"`
	Authors       []string   `json:"authors,omitempty"`
	Year          int        `json:"year,omitempty"`
	Venue         string     `json:"venue,omitempty"`
	URL           string     `json:"url,omitempty"`
	CitationCount int        `json:"citation_count,omitempty"`
	Source        SourceType `json:"source"`

	// Score is the similarity to the submitted paper, nil when unscored.
	Score *float64 `json:"score,omitempty"`
}

// NormalizeTitle lower-cases a title and collapses its whitespace.
func NormalizeTitle(title string) string {
	return NormalizeKeyword(title)
}

// DedupKey returns the key used to detect duplicate records: the normalized
// title joined with the source identifier when one is present. An empty key
// means the record carries neither and cannot be deduplicated.
func (p PaperRecord) DedupKey() string {
	title := NormalizeTitle(p.Title)
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return title
	}
	return title + "|" + string(p.Source) + ":" + id
}

// Snippet returns the abstract truncated to at most n runes.
func (p PaperRecord) Snippet(n int) string {
	r := []rune(p.Abstract)
	if n <= 0 || len(r) <= n {
		return p.Abstract
	}
	return string(r[:n]) + "..."
}
