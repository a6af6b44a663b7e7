package biz

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"EgressGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetryEngine(cfg RetryConfig) *RetryEngine {
	return NewRetryEngine(cfg, log.DefaultLogger)
}

func TestRetryExecuteSucceedsFirstTry(t *testing.T) {
	e := newTestRetryEngine(RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 2})

	calls := 0
	result := e.Execute(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		return "ok", nil
	}, nil)

	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Value)
	assert.Equal(t, 1, calls)
	assert.Empty(t, result.Attempts)
}

func TestRetryExecuteTransientThenSuccess(t *testing.T) {
	e := newTestRetryEngine(RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 2})

	calls := 0
	result := e.Execute(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		if calls <= 2 {
			return nil, syscall.ECONNRESET
		}
		return "recovered", nil
	}, nil)

	assert.True(t, result.Success)
	assert.Equal(t, "recovered", result.Value)
	assert.Equal(t, 3, calls)
	// only the two failures that triggered retries are recorded
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, 0, result.Attempts[0].Attempt)
	assert.Equal(t, 1, result.Attempts[1].Attempt)
}

func TestRetryExecuteTerminalStatusNoRetry(t *testing.T) {
	e := newTestRetryEngine(RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 2})

	calls := 0
	result := e.Execute(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		return nil, &HTTPStatusError{StatusCode: 404}
	}, nil)

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.Empty(t, result.Attempts)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, result.Err, &statusErr)
	assert.Equal(t, 404, statusErr.StatusCode)
}

func TestRetryExecuteExhaustsBudget(t *testing.T) {
	e := newTestRetryEngine(RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 2})

	calls := 0
	result := e.Execute(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		return nil, &HTTPStatusError{StatusCode: 503}
	}, nil)

	assert.False(t, result.Success)
	assert.Equal(t, 3, calls)
	assert.Len(t, result.Attempts, 2)
}

func TestRetryExecuteOverallTimeout(t *testing.T) {
	e := newTestRetryEngine(RetryConfig{
		MaxRetries:     10,
		InitialDelay:   50 * time.Millisecond,
		Multiplier:     2,
		OverallTimeout: 20 * time.Millisecond,
	})

	calls := 0
	result := e.Execute(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		return nil, syscall.ECONNRESET
	}, nil)

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, context.DeadlineExceeded)
	// the first backoff sleep outlives the overall timeout
	assert.Equal(t, 1, calls)
}

func TestRetryExecuteHonorsCancellation(t *testing.T) {
	e := newTestRetryEngine(RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	result := e.Execute(ctx, func(context.Context) (interface{}, error) {
		calls++
		return "never", nil
	}, nil)

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetryOnRetryCallback(t *testing.T) {
	e := newTestRetryEngine(RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 2})

	var observed []model.RetryAttempt
	e.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return nil, syscall.ECONNREFUSED
	}, func(a model.RetryAttempt) {
		observed = append(observed, a)
	})

	require.Len(t, observed, 2)
	assert.Equal(t, 0, observed[0].Attempt)
	assert.Equal(t, 1, observed[1].Attempt)
	assert.NotEmpty(t, observed[0].Error)
}

func TestRetryBackoffGrowthAndCap(t *testing.T) {
	e := newTestRetryEngine(RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2,
	})

	assert.Equal(t, 100*time.Millisecond, e.backoff(0))
	assert.Equal(t, 200*time.Millisecond, e.backoff(1))
	assert.Equal(t, 300*time.Millisecond, e.backoff(2))
	assert.Equal(t, 300*time.Millisecond, e.backoff(5))
}

func TestIsRetryableClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"status 500", &HTTPStatusError{StatusCode: 500}, true},
		{"status 503", &HTTPStatusError{StatusCode: 503}, true},
		{"status 429", &HTTPStatusError{StatusCode: 429}, true},
		{"status 404", &HTTPStatusError{StatusCode: 404}, false},
		{"status 400", &HTTPStatusError{StatusCode: 400}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"broken pipe", syscall.EPIPE, true},
		{"text signature", errors.New("read tcp: connection reset by peer"), true},
		{"text timeout", errors.New("dial tcp: i/o timeout"), true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
		})
	}
}
