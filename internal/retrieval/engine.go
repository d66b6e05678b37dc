// Package retrieval implements the related-work fallback engine.
//
// The engine walks an ordered list of paper sources. For each source it runs
// every query variant concurrently, retrying each with exponential backoff.
// A rate-limit signal suspends the source for a cooldown window, discards
// whatever its other variants returned and moves on to the next source. The first source that yields at least one record wins;
// its records are deduplicated, optionally ranked by a Scorer, and capped.
// When every source fails the engine returns an empty result with
// StatusNoResults rather than an error.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/observability"
	"github.com/helixir/paper-review-service/internal/papersources"
)

// Status summarizes a search.
type Status string

const (
	StatusOK        Status = "ok"
	StatusNoResults Status = "no_results"
)

// Outcome describes what happened when the engine visited one source.
type Outcome string

const (
	OutcomeRecords     Outcome = "records"
	OutcomeEmpty       Outcome = "empty"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeCancelled   Outcome = "cancelled"
)

// Variant is one phrasing of the search, issued concurrently with its siblings.
type Variant struct {
	Query string
	Sort  papersources.SortOrder
}

// Request is one related-work search.
type Request struct {
	Variants []Variant

	// ScoreText is compared against each record when a Scorer is configured.
	ScoreText string
}

// SourceAttempt records the engine's visit to one source.
type SourceAttempt struct {
	Source  domain.SourceType `json:"source"`
	Outcome Outcome           `json:"outcome"`
	Records int               `json:"records"`
	Error   string            `json:"error,omitempty"`
}

// Result is the outcome of a search.
type Result struct {
	Records  []domain.PaperRecord
	Status   Status
	Source   domain.SourceType
	Attempts []SourceAttempt

	// Scored is true when Records carry scores and are ordered by them.
	Scored bool

	// Cached is true when the result was served from the result cache.
	Cached bool
}

// Config holds engine settings.
type Config struct {
	// Priority lists sources in the order they are tried.
	Priority []domain.SourceType

	// MaxTries bounds the attempts per variant, first try included.
	MaxTries uint

	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Cooldown is the minimum suspension after a rate-limit signal. A longer
	// Retry-After from the source wins.
	Cooldown time.Duration

	// MaxResults caps the records returned.
	MaxResults int

	// MaxPerQuery is the per-variant request size.
	MaxPerQuery int

	// CacheTTL enables the result cache when positive.
	CacheTTL      time.Duration
	CacheCapacity uint64

	// Deadline bounds one whole search when positive.
	Deadline time.Duration
}

// Engine is the retrieval fallback engine. It is safe for concurrent use;
// the only state shared between searches is the StateBook and the cache.
type Engine struct {
	registry *papersources.Registry
	cfg      Config
	states   *StateBook
	scorer   Scorer
	cache    *ttlcache.Cache[string, Result]
	clock    clockwork.Clock
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithScorer enables ranking by similarity.
func WithScorer(s Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithClock replaces the wall clock used for suspension windows.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l.With().Str("component", "retrieval").Logger() }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over the sources in registry.
func NewEngine(registry *papersources.Registry, cfg Config, opts ...Option) *Engine {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}

	e := &Engine{
		registry: registry,
		cfg:      cfg,
		states:   NewStateBook(cfg.Priority...),
		clock:    clockwork.NewRealClock(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.CacheTTL > 0 {
		cacheOpts := []ttlcache.Option[string, Result]{
			ttlcache.WithTTL[string, Result](cfg.CacheTTL),
			ttlcache.WithDisableTouchOnHit[string, Result](),
		}
		if cfg.CacheCapacity > 0 {
			cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, Result](cfg.CacheCapacity))
		}
		e.cache = ttlcache.New(cacheOpts...)
	}
	return e
}

// States exposes the per-source fallback state.
func (e *Engine) States() *StateBook {
	return e.states
}

// Search runs req against the configured sources.
//
// The returned error is non-nil only when ctx itself ended; every upstream
// failure is absorbed into Result.Attempts.
func (e *Engine) Search(ctx context.Context, req Request) (Result, error) {
	variants := cleanVariants(req.Variants)
	if len(variants) == 0 {
		return Result{Status: StatusNoResults}, nil
	}

	key := cacheKey(e.cfg.Priority, variants, req.ScoreText)
	if e.cache != nil {
		if item := e.cache.Get(key); item != nil {
			res := item.Value()
			res.Records = slices.Clone(res.Records)
			res.Attempts = slices.Clone(res.Attempts)
			res.Cached = true
			e.metrics.RecordRetrievalCacheHit()
			return res, nil
		}
	}

	searchCtx := ctx
	if e.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, e.cfg.Deadline)
		defer cancel()
	}

	res := Result{Status: StatusNoResults}
	for _, src := range e.registry.Ordered(e.cfg.Priority) {
		if searchCtx.Err() != nil {
			break
		}
		records, attempt := e.searchSource(searchCtx, src, variants)
		res.Attempts = append(res.Attempts, attempt)
		if len(records) > 0 {
			res.Records = records
			res.Source = src.SourceType()
			res.Status = StatusOK
			break
		}
	}

	if res.Status == StatusNoResults {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		e.logger.Warn().Int("sources", len(res.Attempts)).Msg("no related work found in any source")
		return res, nil
	}

	res.Records, res.Scored = e.rank(searchCtx, req.ScoreText, res.Records)
	res.Records = capRecords(res.Records, e.cfg.MaxResults)

	if e.cache != nil {
		e.cache.DeleteExpired()
		e.cache.Set(key, res, ttlcache.DefaultTTL)
	}
	return res, nil
}

// searchSource runs every variant against src and merges what they return.
func (e *Engine) searchSource(ctx context.Context, src papersources.PaperSource, variants []Variant) ([]domain.PaperRecord, SourceAttempt) {
	source := src.SourceType()
	attempt := SourceAttempt{Source: source}
	logger := observability.WithSourceContext(e.logger, string(source), len(variants))

	if st := e.states.Snapshot(source); st.Suspended(e.clock.Now()) {
		e.metrics.RecordSourceSkipped(string(source))
		logger.Debug().Time("suspended_until", st.SuspendedUntil).Msg("source suspended, skipping")
		attempt.Outcome = OutcomeSkipped
		return nil, attempt
	}

	e.metrics.RecordSearchStarted(string(source))
	start := time.Now()

	// A rate-limit signal on one variant stops its siblings.
	vctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lists := make([][]domain.PaperRecord, len(variants))
	errs := make([]error, len(variants))
	delays := make([]time.Duration, len(variants))

	var wg sync.WaitGroup
	for i, v := range variants {
		wg.Add(1)
		go func(i int, v Variant) {
			defer wg.Done()
			lists[i], delays[i], errs[i] = e.queryWithRetry(vctx, src, v)
			if errors.Is(errs[i], domain.ErrRateLimited) {
				cancel()
			}
		}(i, v)
	}
	wg.Wait()

	records := Dedup(lists...)
	attempt.Records = len(records)

	var rateLimit *domain.RateLimitError
	var firstErr error
	var lastDelay time.Duration
	for i, err := range errs {
		if delays[i] > lastDelay {
			lastDelay = delays[i]
		}
		if err == nil {
			continue
		}
		if rateLimit == nil {
			errors.As(err, &rateLimit)
		}
		if firstErr == nil && !errors.Is(err, context.Canceled) {
			firstErr = err
		}
	}

	switch {
	case rateLimit != nil:
		cooldown := e.cfg.Cooldown
		if rateLimit.RetryAfter > cooldown {
			cooldown = rateLimit.RetryAfter
		}
		st := e.states.Suspend(source, e.clock.Now().Add(cooldown))
		e.metrics.RecordSourceRateLimited(string(source))
		logger.Warn().Dur("cooldown", cooldown).Time("suspended_until", st.SuspendedUntil).
			Int("discarded_records", len(records)).Msg("source rate limited")
		// Sibling variants may have finished before the cancel; their records
		// are dropped so the search always moves on to the next source.
		records = nil
		attempt.Records = 0
		attempt.Outcome = OutcomeRateLimited
		attempt.Error = rateLimit.Error()
	case len(records) > 0:
		e.states.RecordSuccess(source)
		attempt.Outcome = OutcomeRecords
	case ctx.Err() != nil:
		attempt.Outcome = OutcomeCancelled
		attempt.Error = ctx.Err().Error()
	case firstErr != nil:
		e.states.RecordFailure(source, lastDelay)
		logger.Warn().Err(firstErr).Msg("source search failed")
		attempt.Outcome = OutcomeFailed
		attempt.Error = firstErr.Error()
	default:
		attempt.Outcome = OutcomeEmpty
	}

	elapsed := time.Since(start).Seconds()
	if len(records) > 0 {
		e.metrics.RecordSearchCompleted(string(source), len(records), elapsed)
	} else {
		e.metrics.RecordSearchFailed(string(source), elapsed)
	}
	return records, attempt
}

// queryWithRetry issues one variant with bounded exponential backoff. Rate
// limiting, invalid input and cancellation stop the retries immediately.
// It returns the last backoff delay waited.
func (e *Engine) queryWithRetry(ctx context.Context, src papersources.PaperSource, v Variant) ([]domain.PaperRecord, time.Duration, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialInterval
	b.MaxInterval = e.cfg.MaxInterval

	var lastDelay time.Duration
	params := papersources.SearchParams{Query: v.Query, MaxResults: e.cfg.MaxPerQuery, Sort: v.Sort}

	records, err := backoff.Retry(ctx, func() ([]domain.PaperRecord, error) {
		res, err := src.Search(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			switch domain.Classify(err) {
			case domain.CategoryRateLimited, domain.CategoryFatal, domain.CategoryCancelled:
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return res.Papers, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.cfg.MaxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			lastDelay = d
			e.logger.Debug().Err(err).Str("source", string(src.SourceType())).Dur("retry_in", d).Msg("retrying source query")
		}),
	)
	return records, lastDelay, err
}

// rank orders records by score when a scorer is configured. A scorer
// failure keeps insertion order.
func (e *Engine) rank(ctx context.Context, text string, records []domain.PaperRecord) ([]domain.PaperRecord, bool) {
	if e.scorer == nil || strings.TrimSpace(text) == "" || len(records) == 0 {
		return records, false
	}
	scores, err := e.scorer.Score(ctx, text, records)
	if err != nil || len(scores) != len(records) {
		e.logger.Warn().Err(err).Msg("similarity ranking failed, keeping source order")
		return records, false
	}
	return RankByScore(records, scores), true
}

func cleanVariants(in []Variant) []Variant {
	out := make([]Variant, 0, len(in))
	seen := make(map[Variant]struct{}, len(in))
	for _, v := range in {
		v.Query = strings.TrimSpace(v.Query)
		if v.Query == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func cacheKey(priority []domain.SourceType, variants []Variant, scoreText string) string {
	h := sha256.New()
	for _, p := range priority {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	h.Write([]byte{1})
	for _, v := range variants {
		h.Write([]byte(v.Query))
		h.Write([]byte{0})
		h.Write([]byte(v.Sort))
		h.Write([]byte{0})
	}
	h.Write([]byte{1})
	h.Write([]byte(scoreText))
	return hex.EncodeToString(h.Sum(nil))
}
