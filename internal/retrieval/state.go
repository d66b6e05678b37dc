package retrieval

import (
	"sync"
	"time"

	"github.com/helixir/paper-review-service/internal/domain"
)

// FallbackState is the running health of one retrieval source.
type FallbackState struct {
	// ConsecutiveFailures counts searches that ended without records or a
	// rate-limit signal since the last success.
	ConsecutiveFailures int

	// BackoffDelay is the last delay the retry policy waited for this source.
	BackoffDelay time.Duration

	// SuspendedUntil is set when the source signals rate limiting. The
	// engine skips the source without a network attempt until then.
	SuspendedUntil time.Time
}

// Suspended reports whether the source must be skipped at now.
func (s FallbackState) Suspended(now time.Time) bool {
	return now.Before(s.SuspendedUntil)
}

type sourceState struct {
	mu    sync.Mutex
	state FallbackState
}

// StateBook owns the FallbackState of every source for the life of the
// process. Each source has its own lock so updates to one source are
// serialized without blocking the others. Callers only ever see copies.
type StateBook struct {
	mu     sync.RWMutex
	states map[domain.SourceType]*sourceState
}

// NewStateBook creates a book with a zero state for each given source.
func NewStateBook(sources ...domain.SourceType) *StateBook {
	b := &StateBook{states: make(map[domain.SourceType]*sourceState, len(sources))}
	for _, s := range sources {
		b.states[s] = &sourceState{}
	}
	return b
}

func (b *StateBook) entry(source domain.SourceType) *sourceState {
	b.mu.RLock()
	st, ok := b.states[source]
	b.mu.RUnlock()
	if ok {
		return st
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok = b.states[source]; !ok {
		st = &sourceState{}
		b.states[source] = st
	}
	return st
}

// Snapshot returns a copy of the current state of source.
func (b *StateBook) Snapshot(source domain.SourceType) FallbackState {
	st := b.entry(source)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Update applies fn to the state of source under its lock and returns the
// resulting copy.
func (b *StateBook) Update(source domain.SourceType, fn func(*FallbackState)) FallbackState {
	st := b.entry(source)
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.state)
	return st.state
}

// Suspend extends the suspension of source to until. An earlier deadline
// never shortens an existing suspension.
func (b *StateBook) Suspend(source domain.SourceType, until time.Time) FallbackState {
	return b.Update(source, func(s *FallbackState) {
		if until.After(s.SuspendedUntil) {
			s.SuspendedUntil = until
		}
	})
}

// RecordFailure counts one failed search and remembers the last delay.
func (b *StateBook) RecordFailure(source domain.SourceType, delay time.Duration) FallbackState {
	return b.Update(source, func(s *FallbackState) {
		s.ConsecutiveFailures++
		if delay > 0 {
			s.BackoffDelay = delay
		}
	})
}

// RecordSuccess resets the failure counters of source.
func (b *StateBook) RecordSuccess(source domain.SourceType) FallbackState {
	return b.Update(source, func(s *FallbackState) {
		s.ConsecutiveFailures = 0
		s.BackoffDelay = 0
	})
}
