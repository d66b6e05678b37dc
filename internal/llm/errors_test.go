package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-review-service/internal/domain"
)

func TestAPIError_Error(t *testing.T) {
	t.Parallel()

	t.Run("with type field", func(t *testing.T) {
		t.Parallel()
		err := &APIError{
			Provider:   "openai",
			StatusCode: 429,
			Message:    "rate limit exceeded",
			Type:       "rate_limit_error",
		}
		assert.Equal(t, "openai: API error (status 429, type rate_limit_error): rate limit exceeded", err.Error())
	})

	t.Run("without type field", func(t *testing.T) {
		t.Parallel()
		err := &APIError{
			Provider:   "anthropic",
			StatusCode: 500,
			Message:    "internal server error",
		}
		assert.Equal(t, "anthropic: API error (status 500): internal server error", err.Error())
	})
}

func TestAPIError_IsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   bool
	}{
		{0, true},
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			err := &APIError{Provider: "openai", StatusCode: tt.status}
			assert.Equal(t, tt.want, err.IsTransient())
			assert.Equal(t, tt.want, isTransientError(fmt.Errorf("wrapped: %w", err)))
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestToDomainError(t *testing.T) {
	t.Parallel()

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, toDomainError(context.Background(), "openai", "op", time.Second, nil))
	})

	t.Run("deadline becomes timeout", func(t *testing.T) {
		err := toDomainError(context.Background(), "openai", "evaluate", time.Minute, fmt.Errorf("post: %w", context.DeadlineExceeded))
		var te *domain.TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "openai evaluate", te.Operation)
		assert.Equal(t, domain.CategoryTimeout, domain.Classify(err))
	})

	t.Run("client timeout becomes timeout", func(t *testing.T) {
		err := toDomainError(context.Background(), "openai", "op", time.Second, timeoutErr{})
		assert.ErrorIs(t, err, domain.ErrTimeout)
	})

	t.Run("api error becomes service error", func(t *testing.T) {
		err := toDomainError(context.Background(), "anthropic", "op", time.Second, &APIError{Provider: "anthropic", StatusCode: 401, Message: "bad key"})
		var se *domain.ServiceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 401, se.StatusCode)
		assert.Equal(t, "bad key", se.Message)
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	})

	t.Run("unknown error becomes service error", func(t *testing.T) {
		err := toDomainError(context.Background(), "openai", "op", time.Second, errors.New("malformed"))
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	})

	t.Run("caller cancellation passes through", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := toDomainError(ctx, "openai", "op", time.Second, errors.New("whatever"))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, domain.CategoryCancelled, domain.Classify(err))
	})
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{in: `{"a":1}`, want: `{"a":1}`},
		{in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{in: "  ```\n{\"a\":1}```  ", want: `{"a":1}`},
		{in: "```", want: ""},
		{in: "plain text\nsecond line", want: "plain text\nsecond line"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripCodeFence(tt.in), tt.in)
	}
}
