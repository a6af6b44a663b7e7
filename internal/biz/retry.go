package biz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"syscall"
	"time"

	"EgressGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// RetryConfig tunes the backoff executor.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// OverallTimeout bounds total wall-clock time across all attempts,
	// independent of per-attempt timeouts. Zero disables the bound.
	OverallTimeout time.Duration
}

// RetryResult is the outcome of an Execute call. Attempts records every
// failure that triggered a retry, so audit sees the full history whether
// the operation ultimately succeeded or not.
type RetryResult struct {
	Success  bool
	Value    interface{}
	Err      error
	Attempts []model.RetryAttempt
}

// HTTPStatusError marks an operation failure caused by an HTTP status code,
// letting the engine distinguish retryable 5xx/429 from terminal 4xx.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
}

// RetryEngine executes operations with bounded exponential backoff.
type RetryEngine struct {
	cfg    RetryConfig
	logger *log.Helper
}

// NewRetryEngine creates an engine with the given tunables.
func NewRetryEngine(cfg RetryConfig, logger log.Logger) *RetryEngine {
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 2.0
	}
	return &RetryEngine{cfg: cfg, logger: log.NewHelper(logger)}
}

// Operation is a unit of retryable work. Implementations must honor ctx.
type Operation func(ctx context.Context) (interface{}, error)

// OnRetry observes each scheduled retry before its backoff sleep.
type OnRetry func(attempt model.RetryAttempt)

// Execute runs op immediately and retries transient failures up to
// MaxRetries times with exponential backoff. Non-retryable failures return
// immediately with no retries consumed. Cancellation of ctx (or expiry of
// the overall timeout) aborts between attempts and during backoff sleeps.
func (e *RetryEngine) Execute(ctx context.Context, op Operation, onRetry OnRetry) RetryResult {
	if e.cfg.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.OverallTimeout)
		defer cancel()
	}

	result := RetryResult{}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}

		value, err := op(ctx)
		if err == nil {
			result.Success = true
			result.Value = value
			return result
		}
		result.Err = err

		if !IsRetryable(err) || attempt >= e.cfg.MaxRetries {
			return result
		}

		delay := e.backoff(attempt)
		info := model.RetryAttempt{Attempt: attempt, Delay: delay, Error: err.Error()}
		result.Attempts = append(result.Attempts, info)
		if onRetry != nil {
			onRetry(info)
		}
		e.logger.Debugw("retrying operation",
			"attempt", attempt,
			"delay", delay,
			"error", err.Error())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Err = ctx.Err()
			return result
		case <-timer.C:
		}
	}
}

// backoff computes min(initial * multiplier^attempt, max).
func (e *RetryEngine) backoff(attempt int) time.Duration {
	delay := float64(e.cfg.InitialDelay) * math.Pow(e.cfg.Multiplier, float64(attempt))
	if max := float64(e.cfg.MaxDelay); e.cfg.MaxDelay > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// IsRetryable classifies err against the fixed transient-failure signature
// table: HTTP 5xx and 429, timeouts, and connection reset/refused/closed
// errors. Everything else, including other HTTP 4xx, is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == 429
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Wrapped transport errors often surface only as text
	msg := strings.ToLower(err.Error())
	for _, sig := range []string{
		"connection reset",
		"connection refused",
		"connection closed",
		"broken pipe",
		"timeout",
		"temporary failure",
	} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
