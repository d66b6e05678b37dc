package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/observability"
)

// maxErrorBody bounds how much of an error response is kept for the message.
const maxErrorBody = 4 << 10

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Source names the upstream in errors and metrics.
	Source string

	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "x-api-key").
	APIKeyHeader string

	// Metrics records per-request counters; nil disables them.
	Metrics *observability.Metrics
}

// HTTPClient wraps http.Client with rate limiting and response classification.
// It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

// NewHTTPClient creates a new HTTP client with rate limiting.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Helixir-PaperReview/1.0"
	}
	if cfg.Source == "" {
		cfg.Source = "paper source"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}
}

// Do executes one HTTP request after waiting for the rate limiter.
//
// A 429 response becomes a *domain.RateLimitError carrying the parsed
// Retry-After. A 5xx response or a transport failure becomes a
// *domain.ServiceError. Context errors are returned wrapped so callers can
// tell cancellation from upstream faults. Any other status is returned to
// the caller with its body unread.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	if err := c.rateLimiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	endpoint := req.URL.Path
	start := time.Now()
	resp, err := c.client.Do(req)
	c.config.Metrics.RecordSourceRequest(c.config.Source, endpoint, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.config.Metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "context")
			return nil, fmt.Errorf("%s request: %w", c.config.Source, err)
		}
		c.config.Metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "transport")
		return nil, domain.NewServiceError(c.config.Source, 0, "request failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		drain(resp)
		c.rateLimiter.Throttle()
		c.config.Metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "rate_limited")
		return nil, domain.NewRateLimitError(c.config.Source, retryAfter)
	case resp.StatusCode >= 500:
		msg := readErrorBody(resp)
		c.config.Metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "server_error")
		return nil, domain.NewServiceError(c.config.Source, resp.StatusCode, msg, nil)
	case resp.StatusCode < 300:
		c.rateLimiter.Recover()
	}
	return resp, nil
}

// Rate returns the current request rate, which drops after 429 responses.
func (c *HTTPClient) Rate() float64 {
	return c.rateLimiter.Rate()
}

// CheckStatus converts a non-2xx response into a *domain.ServiceError and
// consumes its body. It returns nil for success statuses.
func (c *HTTPClient) CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	endpoint := ""
	if resp.Request != nil {
		endpoint = resp.Request.URL.Path
	}
	c.config.Metrics.RecordSourceRequestFailed(c.config.Source, endpoint, "client_error")
	return domain.NewServiceError(c.config.Source, resp.StatusCode, readErrorBody(resp), nil)
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
// It returns zero when the header is absent or unparseable.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}
	if t, err := http.ParseTime(value); err == nil {
		if delay := t.Sub(now); delay > 0 {
			return delay
		}
	}
	return 0
}

func readErrorBody(resp *http.Response) string {
	defer drain(resp)
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return http.StatusText(resp.StatusCode)
	}
	return strings.TrimSpace(string(body))
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
}
