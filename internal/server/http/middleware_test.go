package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/helixir/paper-review-service/internal/observability"
)

func TestCorrelationIDMiddleware_UsesHeader(t *testing.T) {
	var captured string

	r := chi.NewRouter()
	r.Use(correlationIDMiddleware)
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		captured = observability.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured != "abc-123" {
		t.Errorf("expected request id abc-123 in context, got %q", captured)
	}
	if got := rr.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("expected X-Correlation-ID abc-123, got %q", got)
	}
}

func TestCorrelationIDMiddleware_FallsBackToRequestID(t *testing.T) {
	var captured string

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(correlationIDMiddleware)
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		captured = observability.RequestIDFromContext(r.Context())
		if captured != middleware.GetReqID(r.Context()) {
			t.Errorf("expected chi request id %q, got %q", middleware.GetReqID(r.Context()), captured)
		}
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	if captured == "" {
		t.Fatal("expected a request id in context")
	}
	if rr.Header().Get("X-Correlation-ID") != captured {
		t.Errorf("expected response header to echo %q", captured)
	}
}

func TestCorrelationIDMiddleware_Generates(t *testing.T) {
	r := chi.NewRouter()
	r.Use(correlationIDMiddleware)
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	if got := rr.Header().Get("X-Correlation-ID"); len(got) != 16 {
		t.Errorf("expected 16 hex chars, got %q", got)
	}
}

func TestValidationMessage_Joins(t *testing.T) {
	v := newValidator()
	err := v.Struct(paperReviewRequest{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := validationMessage(err); got != "pdf_content is required" {
		t.Errorf("unexpected message %q", got)
	}
}
