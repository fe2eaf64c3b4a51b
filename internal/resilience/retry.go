// Package resilience classifies step failures and retries transient ones.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy bounds in-process retries. Retries across process boundaries, such
// as Temporal activity attempts, are configured separately.
type Policy struct {
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts int
	// Backoff is the delay before the first retry.
	Backoff time.Duration
	// MaxBackoff caps any single delay.
	MaxBackoff time.Duration
	// Multiplier grows the delay after each retry.
	Multiplier float64
	// Jitter spreads each delay by up to this fraction either way.
	Jitter float64
	// Retryable decides which errors are retried. Defaults to IsTransient.
	Retryable func(error) bool
	// OnRetry runs before each retry sleep.
	OnRetry func(attempt int, err error)
}

// DownloadPolicy is the policy for archive downloads.
func DownloadPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		Multiplier:  2,
		Jitter:      0.25,
	}
}

func (p Policy) withDefaults() Policy {
	d := DownloadPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = d.Backoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.Multiplier <= 0 {
		p.Multiplier = d.Multiplier
	}
	p.Jitter = math.Max(p.Jitter, 0)
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// delay returns the sleep before retry number n (0-based).
func (p Policy) delay(n int) time.Duration {
	d := math.Min(float64(p.Backoff)*math.Pow(p.Multiplier, float64(n)), float64(p.MaxBackoff))
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	return time.Duration(math.Max(d, 0))
}

// Call runs fn until it succeeds, returns an error p does not retry, or
// MaxAttempts is spent. Permanent errors and a done ctx end it at once. The
// last error is returned unchanged.
func Call[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil || IsPermanent(err) || !p.Retryable(err) || attempt >= p.MaxAttempts {
			return zero, err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		timer := time.NewTimer(p.delay(attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

// LogRetry returns an OnRetry callback that logs each retry.
func LogRetry(component, operation string) func(int, error) {
	log := zap.L().With(zap.String("component", component))
	return func(attempt int, err error) {
		log.Warn(component+": retrying "+operation,
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
