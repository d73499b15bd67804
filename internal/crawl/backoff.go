package crawl

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// ExponentialBackoff computes capped, monotonically non-decreasing retry
// delays. Delay is deterministic so successive retries never wait less
// than the previous one; Jitter perturbs a delay for callers that want to
// avoid synchronized retry bursts.
type ExponentialBackoff struct {
	base time.Duration
	max  time.Duration
}

const (
	defaultBackoffBase = 250 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second
)

// NewExponentialBackoff builds a backoff policy, applying defaults for
// non-positive values.
func NewExponentialBackoff(base, max time.Duration) *ExponentialBackoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if max <= 0 {
		max = defaultBackoffMax
	}
	if max < base {
		max = base
	}
	return &ExponentialBackoff{base: base, max: max}
}

// BackoffFromConfig builds a policy from a RetryConfig.
func BackoffFromConfig(cfg RetryConfig) *ExponentialBackoff {
	return NewExponentialBackoff(cfg.BaseDelay, cfg.MaxDelay)
}

// Delay returns the wait duration before retry number attempt (1-based).
// Delay(n+1) >= Delay(n) always holds, up to the configured cap.
func (b *ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.base) * math.Pow(2, float64(attempt-1))
	if delay > float64(b.max) {
		return b.max
	}
	return time.Duration(delay)
}

// Jitter adds up to 50% random extra wait on top of delay.
func Jitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	bound := big.NewInt(int64(delay / 2))
	if bound.Sign() <= 0 {
		return delay
	}
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return delay
	}
	return delay + time.Duration(n.Int64())
}
