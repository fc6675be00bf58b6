package resilience

import (
	"context"
	"time"
)

// RetryConfig configures exponential backoff retry.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig mirrors the teacher's defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialInterval: 1 * time.Second, MaxInterval: 30 * time.Second, Multiplier: 2.0}
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff,
// stopping early on success or context cancellation.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	delay := cfg.InitialInterval

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxInterval {
			delay = cfg.MaxInterval
		}
	}
	return lastErr
}

// RetryOnce runs fn and, if it fails, retries it exactly once with no
// delay.
func RetryOnce(ctx context.Context, fn func() error) error {
	return Retry(ctx, RetryConfig{MaxAttempts: 2, InitialInterval: 0, MaxInterval: 0, Multiplier: 1}, fn)
}
