// Package retry provides bounded exponential backoff for operations that can
// fail transiently, such as respawning a media worker or reaching Redis at
// boot.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config bounds the backoff schedule.
type Config struct {
	Attempts   int           // total attempts, including the first
	BaseDelay  time.Duration // delay before the second attempt
	MaxDelay   time.Duration // cap on the delay between attempts
	Multiplier float64       // growth factor per attempt
	Jitter     bool          // spread delays by up to 25% either way
}

func DefaultConfig() Config {
	return Config{
		Attempts:   3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Do runs fn until it succeeds or the attempt budget is spent. The last
// error is wrapped in the returned error. Context cancellation stops the
// loop between attempts.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
			case <-time.After(delayFor(cfg, attempt-1)):
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return zero, fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

func delayFor(cfg Config, step int) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(step))
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}

	delay := time.Duration(d)
	if cfg.Jitter && delay > 0 {
		quarter := delay / 4
		delay = delay - quarter + time.Duration(rand.Int63n(int64(2*quarter)+1))
	}
	return delay
}
