package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/events"
	"github.com/helixir/paper-review-service/internal/observability"
)

// ErrStageFinished is returned to a body that emits after its outcome was decided.
var ErrStageFinished = errors.New("stage outcome already decided")

// gate forwards body events to the sink until closed.
type gate struct {
	sink    events.Emitter
	stage   string
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	closed bool
}

func newGate(sink events.Emitter, stage string, logger zerolog.Logger, metrics *observability.Metrics) *gate {
	return &gate{sink: sink, stage: stage, logger: logger, metrics: metrics}
}

// Emit implements events.Emitter. The lock is held across the forward so that
// close cannot return while an event is still on its way to the sink.
func (g *gate) Emit(ctx context.Context, ev domain.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		g.metrics.RecordLateEventDropped(g.stage)
		g.logger.Debug().
			Str("stage", g.stage).
			Str("kind", string(ev.Kind)).
			Msg("dropping event from finished stage")
		return ErrStageFinished
	}
	if ev.Stage == "" {
		ev.Stage = g.stage
	}
	return g.sink.Emit(ctx, ev)
}

func (g *gate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}
