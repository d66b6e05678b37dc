package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper review service,
// organized by subsystem: reviews, stages, streaming, retrieval, sources and
// LLM operations.
type Metrics struct {
	// ReviewsStarted counts review runs started.
	ReviewsStarted prometheus.Counter

	// ReviewsFinished counts review runs by terminal status (completed, degraded, failed).
	ReviewsFinished *prometheus.CounterVec

	// ReviewDuration observes the end-to-end duration of review runs in seconds.
	ReviewDuration prometheus.Histogram

	// ReviewsInFlight tracks review runs currently streaming.
	ReviewsInFlight prometheus.Gauge

	// ReviewsRejected counts requests turned away by the concurrency limit.
	ReviewsRejected prometheus.Counter

	// StageOutcomes counts stage executions by stage and outcome.
	StageOutcomes *prometheus.CounterVec

	// StageDuration observes stage duration in seconds by stage.
	StageDuration *prometheus.HistogramVec

	// StageFallbacks counts fallback substitutions by stage.
	StageFallbacks *prometheus.CounterVec

	// HeartbeatsEmitted counts keep-alive events by stage.
	HeartbeatsEmitted *prometheus.CounterVec

	// LateEventsDropped counts events a body tried to emit after its outcome was decided.
	LateEventsDropped *prometheus.CounterVec

	// EventsEmitted counts events written to client streams by kind.
	EventsEmitted *prometheus.CounterVec

	// StreamWriteErrors counts transport failures on client streams.
	StreamWriteErrors prometheus.Counter

	// SearchesStarted counts per-source searches started.
	SearchesStarted *prometheus.CounterVec

	// SearchesFailed counts per-source searches that yielded nothing usable.
	SearchesFailed *prometheus.CounterVec

	// SearchDuration observes per-source search duration in seconds.
	SearchDuration *prometheus.HistogramVec

	// PapersPerSearch observes the number of records returned per source search.
	PapersPerSearch *prometheus.HistogramVec

	// SourceRateLimited counts rate-limit signals by source.
	SourceRateLimited *prometheus.CounterVec

	// SourceSkipped counts sources skipped because they were suspended.
	SourceSkipped *prometheus.CounterVec

	// RetrievalCacheHits counts searches answered from the result cache.
	RetrievalCacheHits prometheus.Counter

	// SourceRequestsTotal counts HTTP requests to paper source APIs by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests by source, endpoint and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to paper source APIs in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// LLMRequestsTotal counts LLM API requests by provider and operation.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed LLM API requests by provider, operation and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes LLM API request duration in seconds.
	LLMRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance registered with the default Prometheus
// registry. The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith creates a Metrics instance registered with reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		// Reviews
		ReviewsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_started_total",
			Help:      "Total number of paper reviews started",
		}),
		ReviewsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_finished_total",
			Help:      "Total number of paper reviews finished by terminal status",
		}, []string{"status"}),
		ReviewDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "review_duration_seconds",
			Help:      "Duration of paper reviews in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		ReviewsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reviews_in_flight",
			Help:      "Number of paper reviews currently streaming",
		}),
		ReviewsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_rejected_total",
			Help:      "Total number of review requests rejected by the concurrency limit",
		}),

		// Stages
		StageOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_outcomes_total",
			Help:      "Total number of stage executions by outcome",
		}, []string{"stage", "outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 240, 480},
		}, []string{"stage"}),
		StageFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_fallbacks_total",
			Help:      "Total number of fallback values substituted by stage",
		}, []string{"stage"}),
		HeartbeatsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_emitted_total",
			Help:      "Total number of heartbeat events emitted by stage",
		}, []string{"stage"}),
		LateEventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_events_dropped_total",
			Help:      "Total number of events dropped because the stage outcome was already decided",
		}, []string{"stage"}),

		// Streaming
		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Total number of events written to client streams by kind",
		}, []string{"kind"}),
		StreamWriteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_write_errors_total",
			Help:      "Total number of client stream transport failures",
		}),

		// Retrieval
		SearchesStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_started_total",
			Help:      "Total number of related-work searches started by source",
		}, []string{"source"}),
		SearchesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of related-work searches that failed by source",
		}, []string{"source"}),
		SearchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of related-work searches in seconds by source",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source"}),
		PapersPerSearch: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "papers_per_search",
			Help:      "Number of records returned per search by source",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}, []string{"source"}),
		SourceRateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit signals from paper sources",
		}, []string{"source"}),
		SourceSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_skipped_total",
			Help:      "Total number of searches that skipped a suspended source",
		}, []string{"source"}),
		RetrievalCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_cache_hits_total",
			Help:      "Total number of searches answered from the result cache",
		}),

		// Sources
		SourceRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to paper sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to paper sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to paper sources in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "endpoint"}),

		// LLM
		LLMRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests by provider and operation",
		}, []string{"provider", "operation"}),
		LLMRequestsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed LLM requests by provider and operation",
		}, []string{"provider", "operation", "error_type"}),
		LLMRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "operation"}),
	}
}

// RecordReviewStarted records that a review has started.
func (m *Metrics) RecordReviewStarted() {
	if m == nil {
		return
	}
	m.ReviewsStarted.Inc()
	m.ReviewsInFlight.Inc()
}

// RecordReviewFinished records the terminal status and duration of a review.
func (m *Metrics) RecordReviewFinished(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ReviewsFinished.WithLabelValues(status).Inc()
	m.ReviewDuration.Observe(durationSeconds)
	m.ReviewsInFlight.Dec()
}

// RecordReviewRejected records a request rejected by the concurrency limit.
func (m *Metrics) RecordReviewRejected() {
	if m == nil {
		return
	}
	m.ReviewsRejected.Inc()
}

// RecordStage records the outcome and duration of one stage execution.
func (m *Metrics) RecordStage(stage, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StageOutcomes.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordStageFallback records a fallback substitution.
func (m *Metrics) RecordStageFallback(stage string) {
	if m == nil {
		return
	}
	m.StageFallbacks.WithLabelValues(stage).Inc()
}

// RecordHeartbeat records a heartbeat emitted while stage was in flight.
func (m *Metrics) RecordHeartbeat(stage string) {
	if m == nil {
		return
	}
	m.HeartbeatsEmitted.WithLabelValues(stage).Inc()
}

// RecordLateEventDropped records an event discarded after its stage outcome was decided.
func (m *Metrics) RecordLateEventDropped(stage string) {
	if m == nil {
		return
	}
	m.LateEventsDropped.WithLabelValues(stage).Inc()
}

// RecordEventEmitted records an event written to a client stream.
func (m *Metrics) RecordEventEmitted(kind string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(kind).Inc()
}

// RecordStreamWriteError records a client stream transport failure.
func (m *Metrics) RecordStreamWriteError() {
	if m == nil {
		return
	}
	m.StreamWriteErrors.Inc()
}

// RecordSearchStarted records that a search against source has started.
func (m *Metrics) RecordSearchStarted(source string) {
	if m == nil {
		return
	}
	m.SearchesStarted.WithLabelValues(source).Inc()
}

// RecordSearchCompleted records a search against source that returned records.
func (m *Metrics) RecordSearchCompleted(source string, paperCount int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SearchDuration.WithLabelValues(source).Observe(durationSeconds)
	m.PapersPerSearch.WithLabelValues(source).Observe(float64(paperCount))
}

// RecordSearchFailed records a search against source that yielded nothing usable.
func (m *Metrics) RecordSearchFailed(source string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SearchesFailed.WithLabelValues(source).Inc()
	m.SearchDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordSourceRateLimited records a rate limit signal from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	if m == nil {
		return
	}
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordSourceSkipped records a search that skipped a suspended source.
func (m *Metrics) RecordSourceSkipped(source string) {
	if m == nil {
		return
	}
	m.SourceSkipped.WithLabelValues(source).Inc()
}

// RecordRetrievalCacheHit records a search answered from the result cache.
func (m *Metrics) RecordRetrievalCacheHit() {
	if m == nil {
		return
	}
	m.RetrievalCacheHits.Inc()
}

// RecordSourceRequest records a request to a paper source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a paper source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordLLMRequest records an LLM request.
func (m *Metrics) RecordLLMRequest(provider, operation string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(provider, operation).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, operation).Observe(durationSeconds)
}

// RecordLLMRequestFailed records a failed LLM request.
func (m *Metrics) RecordLLMRequestFailed(provider, operation, errorType string) {
	if m == nil {
		return
	}
	m.LLMRequestsFailed.WithLabelValues(provider, operation, errorType).Inc()
}
