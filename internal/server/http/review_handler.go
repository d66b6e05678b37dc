package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/paper-review-service/internal/events"
	"github.com/helixir/paper-review-service/internal/observability"
	"github.com/helixir/paper-review-service/internal/pipeline"
)

const defaultMaxBodyBytes int64 = 64 << 20

// paperReview handles POST /paper_review. Request problems are answered with
// a JSON error before any stream byte is written; once the 200 header is sent
// every outcome is reported in-band by the review stream.
func (s *Server) paperReview(w http.ResponseWriter, r *http.Request) {
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	default:
		s.metrics.RecordReviewRejected()
		writeError(w, http.StatusServiceUnavailable, "server is at review capacity, retry later")
		return
	}

	var req paperReviewRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	reviewID := uuid.NewString()
	ctx := observability.WithReviewID(r.Context(), reviewID)
	logger := observability.FromContext(ctx, s.logger)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := events.NewStream(w, events.Options{
		Framer:     s.framer,
		BufferSize: s.cfg.StreamBuffer,
		Logger:     logger,
		Metrics:    s.metrics,
	})

	result := s.reviewer.Run(ctx, stream, pipeline.Request{
		ReviewID: reviewID,
		Query:    req.Query,
		PDF:      []byte(req.PDFContent),
	})

	// Run closes the stream. The writer may still be inside a Write after
	// Close gave up waiting, and w must not be touched once the handler
	// returns, so wait for it even when the client is gone.
	<-stream.Done()

	logger.Debug().
		Str("status", string(result.Status)).
		Bool("disconnected", result.Disconnected).
		Uint64("events", stream.Seq()).
		Msg("review stream finished")
}

// validationMessage renders validator errors as one client-facing sentence.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request: " + err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
