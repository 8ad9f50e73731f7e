package provider

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig holds retry configuration for provider invocations.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// Callbacks surface retry progress to observers. Any field may be nil.
type Callbacks struct {
	// OnRetry fires before each backoff sleep with the failed attempt
	// number, the attempt cap, the error, and attempts remaining.
	OnRetry func(attempt, maxAttempts int, err error, remaining int)

	// OnTimeout fires when an attempt hits its per-attempt deadline.
	OnTimeout func(attempt int)
}

// InvokeWithRetry wraps p.Invoke with bounded exponential retry.
// Only transient errors and per-attempt timeouts are retried; fatal errors
// (rejected prompt, authentication failure) and caller cancellation return
// immediately. The per-attempt timeout in opts applies to each attempt, so
// total elapsed time may exceed it.
func InvokeWithRetry(ctx context.Context, p Provider, prompt string, opts Options, cfg RetryConfig, cb Callbacks) (*Result, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		resp, err := p.Invoke(ctx, prompt, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Caller cancellation is never retried.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if IsTimeout(err) {
			if cb.OnTimeout != nil {
				cb.OnTimeout(attempt)
			}
		} else if IsFatal(err) {
			return nil, err
		}

		if attempt < cfg.MaxAttempts {
			if cb.OnRetry != nil {
				cb.OnRetry(attempt, cfg.MaxAttempts, err, cfg.MaxAttempts-attempt)
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(cfg, attempt)):
			}
		}
	}

	return nil, fmt.Errorf("provider %s failed after %d attempts: %w", p.Name(), cfg.MaxAttempts, lastErr)
}

// backoff computes base * 2^(attempt-1) with jitter in [0.5, 1.5].
// Jitter prevents thundering herd when multiple tasks retry simultaneously.
func backoff(cfg RetryConfig, attempt int) time.Duration {
	d := cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if cfg.MaxBackoff > 0 && d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}

	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(d) * jitter)
}
