// Package events implements the ordered outbound event stream of a review run.
//
// A Stream accepts domain events from any goroutine, stamps each with a
// sequence number at acceptance, and hands them to a single writer goroutine
// that frames and flushes them in acceptance order. The stream owns wire
// framing exclusively: callers pass unframed payloads and payloads that look
// pre-framed are rejected.
package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/observability"
)

// DefaultBufferSize is the number of events queued ahead of the writer.
const DefaultBufferSize = 64

var (
	// ErrStreamClosed is returned by Emit after Close has been called.
	ErrStreamClosed = errors.New("event stream closed")

	// ErrPreFramed is returned for payloads that already carry wire framing.
	ErrPreFramed = errors.New("event payload is already framed")
)

// TransportError reports that the underlying connection failed. Once a
// transport error has occurred every later Emit returns it.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("event stream transport failed: %v", e.Err)
}

// Unwrap returns the write error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Emitter is the narrow interface stage code uses to publish events.
type Emitter interface {
	Emit(ctx context.Context, ev domain.Event) error
}

// Options configures a Stream.
type Options struct {
	// Framer encodes events; defaults to SSEFramer.
	Framer Framer
	// BufferSize bounds the queue in front of the writer; defaults to DefaultBufferSize.
	BufferSize int
	// Clock stamps accepted events; defaults to the real clock.
	Clock   clockwork.Clock
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

type queued struct {
	frame    Frame
	terminal bool
}

// Stream is an ordered, at-most-once event sink for one client connection.
type Stream struct {
	w       io.Writer
	flusher http.Flusher
	framer  Framer
	clock   clockwork.Clock
	logger  zerolog.Logger
	metrics *observability.Metrics

	// mu serializes acceptance so queue order equals sequence order.
	mu     sync.Mutex
	seq    uint64
	closed bool
	queue  chan queued

	errMu sync.Mutex
	err   error

	done chan struct{}
}

// NewStream starts a stream writing to w. When w implements http.Flusher it
// is flushed after every framed unit.
func NewStream(w io.Writer, opts Options) *Stream {
	if opts.Framer == nil {
		opts.Framer = SSEFramer{}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	s := &Stream{
		w:       w,
		framer:  opts.Framer,
		clock:   opts.Clock,
		logger:  opts.Logger.With().Str("component", "event_stream").Logger(),
		metrics: opts.Metrics,
		queue:   make(chan queued, opts.BufferSize),
		done:    make(chan struct{}),
	}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}

	go s.run()
	return s
}

// Emit accepts one event. It blocks only while the buffer is full and returns
// ctx.Err() if ctx ends first, ErrStreamClosed after Close, or the sticky
// transport error once the connection has failed.
func (s *Stream) Emit(ctx context.Context, ev domain.Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	if err := s.Err(); err != nil {
		return err
	}
	return s.enqueueLocked(ctx, ev)
}

// Close enqueues the optional final event followed by the terminal marker,
// then waits until the writer has drained. Close is idempotent; later calls
// only wait. The returned error is the transport error, if any.
func (s *Stream) Close(ctx context.Context, final *domain.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.wait(ctx)
	}
	s.closed = true

	var err error
	if final != nil {
		if err = validateEvent(*final); err == nil {
			err = s.enqueueLocked(ctx, *final)
		}
	}
	select {
	case s.queue <- queued{terminal: true}:
	case <-ctx.Done():
		err = ctx.Err()
	}
	close(s.queue)
	s.mu.Unlock()

	if werr := s.wait(ctx); werr != nil {
		return werr
	}
	return err
}

// Done is closed once the writer has finished.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the sticky transport error, if any.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Seq returns the sequence number of the last accepted event.
func (s *Stream) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Stream) enqueueLocked(ctx context.Context, ev domain.Event) error {
	next := queued{frame: Frame{Seq: s.seq + 1, Event: ev, Timestamp: s.clock.Now()}}
	select {
	case s.queue <- next:
		s.seq++
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// run is the single writer. After a transport failure it keeps draining the
// queue without writing so that emitters never block on a dead connection.
func (s *Stream) run() {
	defer close(s.done)

	for item := range s.queue {
		if s.Err() != nil {
			continue
		}

		var (
			payload []byte
			kind    = "terminal"
		)
		if item.terminal {
			payload = s.framer.Terminal()
		} else {
			kind = string(item.frame.Event.Kind)
			b, err := s.framer.Frame(item.frame)
			if err != nil {
				s.logger.Error().Err(err).
					Uint64("seq", item.frame.Seq).
					Str("kind", kind).
					Msg("dropping unencodable event")
				continue
			}
			payload = b
		}

		if _, err := s.w.Write(payload); err != nil {
			s.setErr(&TransportError{Err: err})
			s.metrics.RecordStreamWriteError()
			s.logger.Warn().Err(err).Str("kind", kind).Msg("client stream write failed")
			continue
		}
		if s.flusher != nil {
			s.flusher.Flush()
		}
		s.metrics.RecordEventEmitted(kind)
	}
}
