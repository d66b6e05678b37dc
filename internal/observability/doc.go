// Package observability provides logging, metrics, and context helpers for
// the paper review service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = observability.WithRequestContext(logger, requestID, reviewID)
//
// # Metrics
//
//	metrics := observability.NewMetrics("paper_review")
//	metrics.RecordStage("retrieve_related", "completed", 3.2)
//
// Tests register against a private registry with NewMetricsWith so that
// repeated construction does not collide on the default registry. All
// Record methods are no-ops on a nil *Metrics.
//
// # Standard Fields
//
//   - request_id: inbound HTTP request identifier
//   - review_id: review run identifier
//   - stage: pipeline stage name
//   - source: retrieval source (semantic_scholar, openalex, arxiv)
package observability
