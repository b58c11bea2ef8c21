package embeddings

import (
	"context"
	"time"
)

// retryConfig controls the backoff loop around hosted provider calls.
type retryConfig struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

// defaultRetryConfig: up to 3 attempts total, exponential backoff.
func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxRetries:   2,
		initialDelay: time.Second,
		maxDelay:     8 * time.Second,
		multiplier:   2.0,
	}
}

// retryableError marks provider errors worth retrying (5xx, network).
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// withRetry executes fn with exponential backoff. Only errors wrapped by
// retryable are retried; everything else fails immediately.
func withRetry(ctx context.Context, cfg retryConfig, fn func() error) error {
	delay := cfg.initialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if _, retry := err.(*retryableError); !retry || attempt >= cfg.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.multiplier)
		if delay > cfg.maxDelay {
			delay = cfg.maxDelay
		}
	}

	return lastErr
}
