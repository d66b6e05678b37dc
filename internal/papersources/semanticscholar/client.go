package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/observability"
	"github.com/helixir/paper-review-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default base URL for the Semantic Scholar Graph API.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit matches the shared unauthenticated pool (about one request per second).
	DefaultRateLimit = 1.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 1

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum number of results per request.
	DefaultMaxResults = 5

	// apiKeyHeader is the header name for the Semantic Scholar API key.
	apiKeyHeader = "x-api-key"

	// paperFields is the list of fields to request from the API.
	paperFields = "paperId,externalIds,title,abstract,year,venue,authors,citationCount,url"

	// sourceName is the human-readable name for this source.
	sourceName = "Semantic Scholar"
)

// Config contains configuration options for the Semantic Scholar client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is optional; authenticated requests have higher rate limits.
	APIKey string

	// Timeout defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit defaults to DefaultRateLimit if zero.
	RateLimit float64

	// BurstSize defaults to DefaultBurstSize if zero.
	BurstSize int

	// MaxResults defaults to DefaultMaxResults if zero.
	MaxResults int

	// Enabled indicates whether this source is enabled.
	Enabled bool

	// Metrics is passed to the shared HTTP client when one is created.
	Metrics *observability.Metrics
}

// Client implements the papersources.PaperSource interface for Semantic Scholar.
type Client struct {
	httpClient *papersources.HTTPClient
	config     Config
}

// Compile-time check that Client implements papersources.PaperSource.
var _ papersources.PaperSource = (*Client)(nil)

// NewClient creates a new Semantic Scholar client with the given configuration.
// If httpClient is nil, a new one will be created with the configuration settings.
func NewClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = DefaultMaxResults
	}

	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:       string(domain.SourceTypeSemanticScholar),
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			BurstSize:    cfg.BurstSize,
			APIKey:       cfg.APIKey,
			APIKeyHeader: apiKeyHeader,
			Metrics:      cfg.Metrics,
		})
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
	}
}

// Search queries Semantic Scholar for papers matching the given parameters.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()

	searchURL, limit, err := c.buildSearchURL(params)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.handleErrorResponse(resp); err != nil {
		return nil, err
	}

	// Limit body to 10MB to prevent resource exhaustion.
	var searchResp SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&searchResp); err != nil {
		return nil, domain.NewServiceError(sourceName, resp.StatusCode, "malformed response", err)
	}

	data := searchResp.Data
	// The bulk endpoint ignores limit and returns up to 1000 rows.
	if len(data) > limit {
		data = data[:limit]
	}

	return &papersources.SearchResult{
		Papers:         convertToRecords(data),
		TotalResults:   searchResp.Total,
		Source:         domain.SourceTypeSemanticScholar,
		SearchDuration: time.Since(start),
	}, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeSemanticScholar
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is currently enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// buildSearchURL constructs the search API URL and returns the effective limit.
func (c *Client) buildSearchURL(params papersources.SearchParams) (string, int, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", 0, fmt.Errorf("parsing base URL: %w", err)
	}

	limit := params.MaxResults
	if limit <= 0 || limit > c.config.MaxResults {
		limit = c.config.MaxResults
	}

	var searchURL *url.URL
	q := url.Values{}
	q.Set("query", params.Query)
	q.Set("fields", paperFields)

	switch params.Sort {
	case papersources.SortNewest:
		searchURL = baseURL.JoinPath("paper", "search", "bulk")
		q.Set("sort", "publicationDate:desc")
	case papersources.SortMostCited:
		searchURL = baseURL.JoinPath("paper", "search", "bulk")
		q.Set("sort", "citationCount:desc")
	default:
		searchURL = baseURL.JoinPath("paper", "search")
		q.Set("limit", strconv.Itoa(limit))
	}

	searchURL.RawQuery = q.Encode()
	return searchURL.String(), limit, nil
}

// handleErrorResponse converts a non-2xx response into a domain.ServiceError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewServiceError(sourceName, resp.StatusCode, "failed to read error response", err)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		message := errResp.Error
		if message == "" {
			message = errResp.Message
		}
		if message != "" {
			return domain.NewServiceError(sourceName, resp.StatusCode, message, nil)
		}
	}
	return domain.NewServiceError(sourceName, resp.StatusCode, strings.TrimSpace(string(body)), nil)
}

// convertToRecords converts API results to domain records, dropping untitled rows.
func convertToRecords(results []PaperResult) []domain.PaperRecord {
	records := make([]domain.PaperRecord, 0, len(results))
	for _, result := range results {
		if strings.TrimSpace(result.Title) == "" {
			continue
		}
		records = append(records, convertToRecord(result))
	}
	return records
}

func convertToRecord(result PaperResult) domain.PaperRecord {
	record := domain.PaperRecord{
		ID:            result.PaperID,
		Title:         domain.CollapseWhitespace(result.Title),
		Abstract:      strings.TrimSpace(result.Abstract),
		Year:          result.Year,
		Venue:         result.Venue,
		URL:           result.URL,
		CitationCount: result.CitationCount,
		Source:        domain.SourceTypeSemanticScholar,
	}
	if result.ExternalIDs != nil {
		record.DOI = result.ExternalIDs.DOI
	}
	for _, a := range result.Authors {
		if a.Name != "" {
			record.Authors = append(record.Authors, a.Name)
		}
	}
	return record
}

// BuildSearchQuery joins terms into one query. Multi-word terms are quoted.
// Semantic Scholar treats "|" as OR and "+" as AND.
func BuildSearchQuery(terms []string, operator string) string {
	cleaned := make([]string, 0, len(terms))
	for _, t := range terms {
		t = domain.CollapseWhitespace(strings.ReplaceAll(t, `"`, ""))
		if t == "" {
			continue
		}
		if strings.Contains(t, " ") {
			t = `"` + t + `"`
		}
		cleaned = append(cleaned, t)
	}
	if len(cleaned) == 0 {
		return ""
	}
	if len(cleaned) == 1 {
		return strings.Trim(cleaned[0], `"`)
	}

	sep := " | "
	if strings.EqualFold(operator, "AND") {
		sep = " + "
	}
	return strings.Join(cleaned, sep)
}
