// Package supervisor runs one pipeline stage under a deadline while keeping
// the client stream alive with periodic heartbeats.
//
// The stage body runs in its own goroutine with a cancellable context. The
// supervisor races the body against the deadline on an injected clock and
// emits a content-free heartbeat at h, 2h, ... measured from stage start
// for as long as the body is in flight. Cancellation is cooperative: the body
// must return once its context is done.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/events"
	"github.com/helixir/paper-review-service/internal/observability"
)

// Status is the terminal classification of a supervised stage.
type Status int

const (
	// StatusCompleted means the body returned a value before the deadline.
	StatusCompleted Status = iota

	// StatusTimedOut means the deadline elapsed first, or the body itself
	// reported a timeout.
	StatusTimedOut

	// StatusFailed means the body returned an error or panicked.
	StatusFailed

	// StatusCancelled means the parent context ended or the client stream
	// went away before the stage finished.
	StatusCancelled
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusTimedOut:
		return "timed_out"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Body is the unit of work of a stage. Events published through emit are
// dropped once the stage outcome has been decided.
type Body func(ctx context.Context, emit events.Emitter) (any, error)

// Task describes one supervised stage execution.
type Task struct {
	Name              string
	Deadline          time.Duration
	HeartbeatInterval time.Duration
	Body              Body
}

// Validate checks the task timing invariants.
func (t Task) Validate() error {
	if t.Body == nil {
		return domain.NewValidationError("body", "must not be nil")
	}
	if t.Deadline <= 0 {
		return domain.NewValidationError("deadline", "must be positive")
	}
	if t.HeartbeatInterval <= 0 || t.HeartbeatInterval >= t.Deadline {
		return domain.NewValidationError("heartbeat_interval",
			fmt.Sprintf("must be positive and below the deadline (%s)", t.Deadline))
	}
	return nil
}

// Outcome is the result of a supervised stage.
type Outcome struct {
	Status     Status
	Value      any
	Err        error
	Heartbeats int
	Elapsed    time.Duration
}

// Options configures a Supervisor.
type Options struct {
	Clock   clockwork.Clock
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Supervisor executes stages against one event sink.
type Supervisor struct {
	sink    events.Emitter
	clock   clockwork.Clock
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates a Supervisor that publishes heartbeats to sink.
func New(sink events.Emitter, opts Options) *Supervisor {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Supervisor{
		sink:    sink,
		clock:   opts.Clock,
		logger:  opts.Logger.With().Str("component", "supervisor").Logger(),
		metrics: opts.Metrics,
	}
}

type bodyResult struct {
	value any
	err   error
}

// Supervise runs task.Body and reports how it ended. It never returns before
// the outcome is decided and the body's emitter is closed; it does not wait
// for a cancelled body goroutine to exit.
func (s *Supervisor) Supervise(ctx context.Context, task Task) Outcome {
	if err := task.Validate(); err != nil {
		return Outcome{Status: StatusFailed, Err: err}
	}

	logger := s.logger.With().Str("stage", task.Name).Logger()
	start := s.clock.Now()

	bodyCtx, cancel := context.WithCancel(observability.WithStage(ctx, task.Name))
	defer cancel()

	gate := newGate(s.sink, task.Name, s.logger, s.metrics)
	results := make(chan bodyResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- bodyResult{err: fmt.Errorf("stage %s panicked: %v", task.Name, r)}
			}
		}()
		v, err := task.Body(bodyCtx, gate)
		results <- bodyResult{value: v, err: err}
	}()

	deadline := s.clock.NewTimer(task.Deadline)
	defer deadline.Stop()
	heartbeat := s.clock.NewTimer(task.HeartbeatInterval)
	defer heartbeat.Stop()

	beats := 0
	next := task.HeartbeatInterval

	finish := func(o Outcome) Outcome {
		cancel()
		gate.close()
		o.Heartbeats = beats
		o.Elapsed = s.clock.Since(start)
		return o
	}

	// emitDue publishes every heartbeat scheduled at or before upTo that has
	// not been published yet.
	emitDue := func(upTo time.Duration) error {
		for next <= upTo && next <= task.Deadline {
			if err := s.sink.Emit(ctx, domain.HeartbeatEvent(task.Name)); err != nil {
				return err
			}
			beats++
			s.metrics.RecordHeartbeat(task.Name)
			next += task.HeartbeatInterval
		}
		return nil
	}

	for {
		select {
		case r := <-results:
			return finish(s.classify(ctx, task, r))

		case <-ctx.Done():
			logger.Debug().Err(ctx.Err()).Msg("stage cancelled by parent context")
			return finish(Outcome{Status: StatusCancelled, Err: ctx.Err()})

		case <-heartbeat.Chan():
			if r, ok := pollResult(results); ok {
				return finish(s.classify(ctx, task, r))
			}
			if err := emitDue(s.clock.Since(start)); err != nil {
				return finish(s.streamFailure(ctx, err))
			}
			if next <= task.Deadline {
				heartbeat.Reset(next - s.clock.Since(start))
			}

		case <-deadline.Chan():
			if r, ok := pollResult(results); ok {
				return finish(s.classify(ctx, task, r))
			}
			if err := emitDue(task.Deadline); err != nil {
				return finish(s.streamFailure(ctx, err))
			}
			logger.Warn().
				Dur("deadline", task.Deadline).
				Int("heartbeats", beats).
				Msg("stage deadline exceeded")
			return finish(Outcome{
				Status: StatusTimedOut,
				Err:    domain.NewTimeoutError(task.Name, task.Deadline),
			})
		}
	}
}

func pollResult(results <-chan bodyResult) (bodyResult, bool) {
	select {
	case r := <-results:
		return r, true
	default:
		return bodyResult{}, false
	}
}

func (s *Supervisor) classify(ctx context.Context, task Task, r bodyResult) Outcome {
	switch {
	case r.err == nil:
		return Outcome{Status: StatusCompleted, Value: r.value}
	case ctx.Err() != nil:
		return Outcome{Status: StatusCancelled, Value: r.value, Err: ctx.Err()}
	case errors.Is(r.err, domain.ErrTimeout), errors.Is(r.err, context.DeadlineExceeded):
		return Outcome{Status: StatusTimedOut, Value: r.value, Err: r.err}
	default:
		s.logger.Debug().Err(r.err).Str("stage", task.Name).Msg("stage body failed")
		return Outcome{Status: StatusFailed, Value: r.value, Err: r.err}
	}
}

func (s *Supervisor) streamFailure(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		return Outcome{Status: StatusCancelled, Err: ctx.Err()}
	}
	return Outcome{Status: StatusCancelled, Err: fmt.Errorf("heartbeat: %w", err)}
}
