package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Executor is a retryable unit of work.
type Executor func(ctx context.Context) error

// RetryConfig controls the jittered exponential backoff envelope. Defaults
// match spec.md §9's "initial 20ms, cap 1s" Proposer retry envelope.
type RetryConfig struct {
	MaxAttempts         int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	RandomizationFactor float64
	Multiplier          float64
}

// DefaultRetryConfig returns the envelope spec.md §9 calls for.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:         0, // 0 means unbounded: retry until success or ctx is done
		InitialBackoff:      20 * time.Millisecond,
		MaxBackoff:          1 * time.Second,
		RandomizationFactor: 0.5,
		Multiplier:          2.0,
	}
}

// Retry runs fn, retrying on error with jittered exponential backoff until
// it succeeds, MaxAttempts is exhausted (if nonzero), or ctx is done. It
// returns the last error seen, or a context error if ctx expired first.
func Retry(ctx context.Context, cfg RetryConfig, fn Executor) error {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialBackoff,
		RandomizationFactor: cfg.RandomizationFactor,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxBackoff,
		MaxElapsedTime:      0, // bounded by ctx and MaxAttempts instead
		Clock:               backoff.SystemClock,
	}
	bo.Reset()

	var lastErr error
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		attempts++
		if cfg.MaxAttempts > 0 && attempts >= cfg.MaxAttempts {
			return lastErr
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return lastErr
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
