// Package retry runs an operation a bounded number of times with a delay
// between attempts.
package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Backoff returns the delay to wait before the given attempt.
// Attempts are zero-indexed, so Backoff is only consulted for attempt >= 1.
type Backoff func(attempt int) time.Duration

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config configures a retry loop.
type Config struct {
	MaxAttempts int
	Backoff     Backoff
	Sleep       SleepFunc

	// Retryable, when set, stops the loop early for errors it rejects.
	Retryable func(error) bool
}

// Linear returns a backoff of attempt * unit.
func Linear(unit time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * unit
	}
}

// Exponential returns a backoff starting at initial and multiplied by
// multiplier for every further attempt, capped at maxDelay.
func Exponential(initial, maxDelay time.Duration, multiplier float64) Backoff {
	return func(attempt int) time.Duration {
		delay := float64(initial)
		for i := 1; i < attempt; i++ {
			delay *= multiplier
			if time.Duration(delay) >= maxDelay {
				return maxDelay
			}
		}
		return time.Duration(delay)
	}
}

// Sleep waits for d, returning early with the context error if ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do calls fn until it succeeds or cfg.MaxAttempts attempts have been made.
// Errors from earlier attempts are discarded; when every attempt fails the
// error from the final attempt is returned unchanged. If ctx is cancelled
// while waiting between attempts, the context error is returned.
func Do(ctx context.Context, name string, cfg Config, fn func(ctx context.Context, attempt int) error, logger zerolog.Logger) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			var delay time.Duration
			if cfg.Backoff != nil {
				delay = cfg.Backoff(attempt)
			}

			logger.Warn().
				Err(lastErr).
				Str("operation", name).
				Int("attempt", attempt).
				Int("maxAttempts", attempts).
				Dur("nextRetryIn", delay).
				Msg("Attempt failed, will retry")

			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 0 {
				logger.Info().Str("operation", name).Int("attempt", attempt+1).Msg("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			logger.Debug().Err(err).Str("operation", name).Msg("Non-retryable error, not retrying")
			return err
		}
	}

	logger.Error().Err(lastErr).Str("operation", name).Int("attempts", attempts).
		Msg("Operation failed after all retries")
	return lastErr
}
