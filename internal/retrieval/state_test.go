package retrieval

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/paper-review-service/internal/domain"
)

func TestStateBook_SuspendNeverShortens(t *testing.T) {
	book := NewStateBook(domain.SourceTypeSemanticScholar)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	book.Suspend(domain.SourceTypeSemanticScholar, now.Add(5*time.Minute))
	st := book.Suspend(domain.SourceTypeSemanticScholar, now.Add(time.Minute))

	assert.Equal(t, now.Add(5*time.Minute), st.SuspendedUntil)
	assert.True(t, st.Suspended(now.Add(4*time.Minute)))
	assert.False(t, st.Suspended(now.Add(5*time.Minute)))
}

func TestStateBook_FailureAndSuccess(t *testing.T) {
	book := NewStateBook()
	src := domain.SourceTypeOpenAlex

	book.RecordFailure(src, 2*time.Second)
	st := book.RecordFailure(src, 0)
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Equal(t, 2*time.Second, st.BackoffDelay)

	st = book.RecordSuccess(src)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Zero(t, st.BackoffDelay)
}

func TestStateBook_ConcurrentUpdatesAreSerialized(t *testing.T) {
	book := NewStateBook(domain.SourceTypeArXiv)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			book.RecordFailure(domain.SourceTypeArXiv, time.Millisecond)
			_ = book.Snapshot(domain.SourceTypeSemanticScholar)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, book.Snapshot(domain.SourceTypeArXiv).ConsecutiveFailures)
}

func TestStateBook_SnapshotIsACopy(t *testing.T) {
	book := NewStateBook(domain.SourceTypeArXiv)
	st := book.Snapshot(domain.SourceTypeArXiv)
	st.ConsecutiveFailures = 9

	assert.Zero(t, book.Snapshot(domain.SourceTypeArXiv).ConsecutiveFailures)
}
