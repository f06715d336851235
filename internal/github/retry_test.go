package github

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient_NilError(t *testing.T) {
	assert.False(t, isTransient(nil))
}

func TestIsTransient_ServerError(t *testing.T) {
	err := &APIError{Status: 502, Message: "bad gateway"}
	assert.True(t, isTransient(err))
}

func TestIsTransient_TooManyRequests(t *testing.T) {
	err := &APIError{Status: http.StatusTooManyRequests, Message: "slow down"}
	assert.True(t, isTransient(err))
}

func TestIsTransient_ClientError(t *testing.T) {
	err := &APIError{Status: 409, Message: "sha mismatch"}
	assert.False(t, isTransient(err))
}

func TestIsTransient_ContextError(t *testing.T) {
	assert.False(t, isTransient(context.DeadlineExceeded))
}

func TestIsTransient_NetworkError(t *testing.T) {
	err := &http.MaxBytesError{Limit: 100}
	assert.True(t, isTransient(err))
}

func TestRetry_Backoff(t *testing.T) {
	rc := &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.0, // no jitter for deterministic test
	}

	assert.Equal(t, 100*time.Millisecond, rc.backoff(0))
	assert.Equal(t, 200*time.Millisecond, rc.backoff(1))
	assert.Equal(t, 400*time.Millisecond, rc.backoff(2))
}

func TestRetry_BackoffCapped(t *testing.T) {
	rc := &RetryConfig{
		MaxRetries:     10,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Second,
		JitterFraction: 0.0,
	}

	assert.Equal(t, 5*time.Second, rc.backoff(10))
}

func TestRetry_Success(t *testing.T) {
	rc := &RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond}

	attempts := 0
	err := rc.do(context.Background(), "test", func() error {
		attempts++
		if attempts < 3 {
			return &APIError{Status: 500, Message: "fail"}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_Exhausted(t *testing.T) {
	rc := &RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond}

	attempts := 0
	err := rc.do(context.Background(), "test", func() error {
		attempts++
		return &APIError{Status: 500, Message: "fail"}
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts) // initial + 2 retries
}

func TestRetry_NoRetryOn4xx(t *testing.T) {
	rc := &RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond}

	attempts := 0
	err := rc.do(context.Background(), "test", func() error {
		attempts++
		return &APIError{Status: 404, Message: "not found"}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	rc := &RetryConfig{MaxRetries: 5, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := rc.do(ctx, "test", func() error {
		return &APIError{Status: 500, Message: "fail"}
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
}

func TestRetry_NilConfigRunsOnce(t *testing.T) {
	var rc *RetryConfig

	attempts := 0
	err := rc.do(context.Background(), "test", func() error {
		attempts++
		return &APIError{Status: 500, Message: "fail"}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestSleep_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleep(ctx, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
