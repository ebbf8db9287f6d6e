package fetcher

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy decides how rate limited (HTTP 429) responses are retried.
type RetryPolicy interface {
	// ShouldRetry reports whether another attempt may follow attempt (1-based).
	ShouldRetry(attempt int) bool
	// Backoff returns the wait before the attempt that follows attempt.
	Backoff(attempt int) time.Duration
}

// FixedRetryPolicy waits the same delay between a bounded number of retries.
type FixedRetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// ShouldRetry reports whether retries remain.
func (p FixedRetryPolicy) ShouldRetry(attempt int) bool {
	return attempt <= p.MaxRetries
}

// Backoff returns the fixed delay.
func (p FixedRetryPolicy) Backoff(int) time.Duration {
	return p.Delay
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewExponentialRetryPolicy builds a policy doubling from base up to max.
func NewExponentialRetryPolicy(maxRetries int, base, maxDelay time.Duration) *ExponentialRetryPolicy {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &ExponentialRetryPolicy{
		maxRetries: maxRetries,
		baseDelay:  base,
		maxDelay:   maxDelay,
	}
}

// ShouldRetry reports whether retries remain.
func (p *ExponentialRetryPolicy) ShouldRetry(attempt int) bool {
	return attempt <= p.maxRetries
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
