package errors

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultBaseDelay is the unit multiplied by the Fibonacci term
	DefaultBaseDelay = 10 * time.Second

	// DefaultWarnThreshold logs a warning once the backoff term exceeds it
	DefaultWarnThreshold = 30

	// DefaultGiveUpThreshold abandons the operation once the term exceeds it
	DefaultGiveUpThreshold = 100
)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryConfig holds configuration for the Fibonacci retry loop.
//
// There is no attempt cap: with the defaults the delays run
// 1,1,2,3,5,8,13,21,34,55,89 base units and the 12th failure gives up.
type RetryConfig struct {
	BaseDelay       time.Duration
	WarnThreshold   int
	GiveUpThreshold int
	Sleep           SleepFunc
}

// DefaultRetryConfig returns the download retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		BaseDelay:       DefaultBaseDelay,
		WarnThreshold:   DefaultWarnThreshold,
		GiveUpThreshold: DefaultGiveUpThreshold,
		Sleep:           SleepContext,
	}
}

func (c *RetryConfig) withDefaults() RetryConfig {
	out := *c
	if out.BaseDelay <= 0 {
		out.BaseDelay = DefaultBaseDelay
	}
	if out.WarnThreshold <= 0 {
		out.WarnThreshold = DefaultWarnThreshold
	}
	if out.GiveUpThreshold <= 0 {
		out.GiveUpThreshold = DefaultGiveUpThreshold
	}
	if out.Sleep == nil {
		out.Sleep = SleepContext
	}
	return out
}

// SleepContext blocks for d, returning early with ctx.Err() on cancellation
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// Retry executes fn with Fibonacci backoff until it succeeds or the backoff is exhausted
func Retry(ctx context.Context, cfg *RetryConfig, op string, log zerolog.Logger, fn RetryableFunc) error {
	_, err := RetryWithResult(ctx, cfg, op, log, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult executes a function that returns a value with Fibonacci backoff.
// op names the source of the call in log lines and in the exhaustion error.
func RetryWithResult[T any](ctx context.Context, cfg *RetryConfig, op string, log zerolog.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	c := cfg.withDefaults()

	var zero T
	a, b := 0, 1
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		attempt++
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if b > c.GiveUpThreshold {
			log.Error().Err(err).
				Str("op", op).
				Int("attempts", attempt).
				Msg("giving up after repeated failures")
			return zero, NewMediaError(KindTransient, op, "", fmt.Errorf("%w after %d attempts: %w", ErrBackoffExhausted, attempt, err))
		}

		delay := c.BaseDelay * time.Duration(b)
		log.Info().Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("operation failed, retrying")

		if err := c.Sleep(ctx, delay); err != nil {
			return zero, err
		}

		a, b = b, a+b
		if b > c.WarnThreshold {
			log.Warn().
				Str("op", op).
				Int("attempt", attempt).
				Int("backoff_term", b).
				Msg("operation keeps failing, backoff is getting long")
		}
	}
}
