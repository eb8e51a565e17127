package resilience

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"
)

// RetryConfig controls the exponential backoff schedule
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryConfig returns the schedule used for backend calls
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
	}
}

// Retry runs fn until it succeeds, returns a non-transient error, exhausts
// the attempt budget, or ctx is cancelled. A nil isTransient retries every
// error.
func Retry(ctx context.Context, cfg RetryConfig, isTransient func(error) bool, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if isTransient != nil && !isTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(backoffFor(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// backoffFor grows the delay exponentially, caps it, and adds up to 25%
// jitter so concurrent retries spread out
func backoffFor(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= cfg.Multiplier
	}
	if max := float64(cfg.MaxBackoff); backoff > max {
		backoff = max
	}
	return time.Duration(backoff * (1 + 0.25*rand.Float64()))
}

// IsTransient reports whether an error looks like a transient network or
// capacity failure worth retrying. An open circuit breaker is not
// transient; the breaker already decided to fail fast.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, fragment := range []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"no route to host",
		"network is unreachable",
		"unavailable",
		"i/o timeout",
		"too many connections",
		"rate limit",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
