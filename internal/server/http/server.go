// Package httpserver provides the HTTP API of the paper review service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-review-service/internal/events"
	"github.com/helixir/paper-review-service/internal/observability"
	"github.com/helixir/paper-review-service/internal/pipeline"
)

// Reviewer runs one paper review against a client stream.
type Reviewer interface {
	Run(ctx context.Context, sink pipeline.Sink, req pipeline.Request) pipeline.Result
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// MaxConcurrentReviews caps in-flight review streams.
	MaxConcurrentReviews int
	// MaxBodyBytes caps the request body of POST /paper_review.
	MaxBodyBytes int64

	// Framing selects the stream wire format (sse, chat_chunk).
	Framing string
	// Model is reported in chat_chunk frames.
	Model string
	// StreamBuffer is the number of events buffered ahead of the writer.
	StreamBuffer int

	// MetricsPath serves Prometheus metrics when non-empty.
	MetricsPath string
}

// Options holds optional collaborators of the server.
type Options struct {
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	// Gatherer backs the metrics endpoint; defaults to the global registry.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP API server.
type Server struct {
	cfg        Config
	router     chi.Router
	httpServer *http.Server
	reviewer   Reviewer
	framer     events.Framer
	validate   *validator.Validate
	slots      chan struct{}
	draining   atomic.Bool
	logger     zerolog.Logger
	metrics    *observability.Metrics
	gatherer   prometheus.Gatherer
}

// NewServer creates a new HTTP server.
func NewServer(cfg Config, reviewer Reviewer, opts Options) (*Server, error) {
	framer, err := events.NewFramer(cfg.Framing, cfg.Model)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentReviews <= 0 {
		return nil, fmt.Errorf("max concurrent reviews must be positive, got %d", cfg.MaxConcurrentReviews)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:      cfg,
		reviewer: reviewer,
		framer:   framer,
		validate: newValidator(),
		slots:    make(chan struct{}, cfg.MaxConcurrentReviews),
		logger:   opts.Logger.With().Str("component", "http-server").Logger(),
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

// newValidator returns a validator that reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	if s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/paper_review", s.paperReview)

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown marks the server not ready and gracefully shuts it down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)
	return s.httpServer.Shutdown(ctx)
}

// InFlight returns the number of reviews currently streaming.
func (s *Server) InFlight() int {
	return len(s.slots)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports whether the server accepts new reviews.
func (s *Server) readinessHandler(w http.ResponseWriter, _ *http.Request) {
	resp := readinessResponse{
		InFlight: s.InFlight(),
		Capacity: cap(s.slots),
	}
	switch {
	case s.draining.Load():
		resp.Status = "draining"
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case resp.InFlight >= resp.Capacity:
		resp.Status = "saturated"
		writeJSON(w, http.StatusServiceUnavailable, resp)
	default:
		resp.Status = "ready"
		writeJSON(w, http.StatusOK, resp)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}
