package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	reviewIDKey  contextKey = "review_id"
	stageKey     contextKey = "stage"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithReviewID adds the review run ID to the context.
func WithReviewID(ctx context.Context, reviewID string) context.Context {
	return context.WithValue(ctx, reviewIDKey, reviewID)
}

// ReviewIDFromContext retrieves the review run ID from context.
func ReviewIDFromContext(ctx context.Context) string {
	return stringValue(ctx, reviewIDKey)
}

// WithStage adds the name of the running pipeline stage to the context.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext retrieves the running stage name from context.
func StageFromContext(ctx context.Context) string {
	return stringValue(ctx, stageKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ReviewContext contains the identifiers of one review run.
type ReviewContext struct {
	RequestID string
	ReviewID  string
	Stage     string
}

// ReviewContextFromContext extracts all review context from the context.
func ReviewContextFromContext(ctx context.Context) ReviewContext {
	return ReviewContext{
		RequestID: RequestIDFromContext(ctx),
		ReviewID:  ReviewIDFromContext(ctx),
		Stage:     StageFromContext(ctx),
	}
}
