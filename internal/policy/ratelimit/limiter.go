// Package ratelimit enforces a minimum interval between requests on each
// logical fetch channel.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/metrics"
)

// Limiter manages one token bucket per channel. Each bucket has a burst of one,
// so consecutive acquisitions on a channel are spaced by at least its interval.
type Limiter struct {
	mu              sync.Mutex
	limiters        map[crawler.Channel]*rate.Limiter
	intervals       map[crawler.Channel]time.Duration
	defaultInterval time.Duration
}

// Config holds rate limiter configuration.
type Config struct {
	// Intervals sets the minimum spacing per channel. Zero disables limiting.
	Intervals map[crawler.Channel]time.Duration
	// DefaultInterval applies to channels missing from Intervals.
	DefaultInterval time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	intervals := make(map[crawler.Channel]time.Duration, len(cfg.Intervals))
	for ch, d := range cfg.Intervals {
		intervals[ch] = d
	}
	return &Limiter{
		limiters:        make(map[crawler.Channel]*rate.Limiter),
		intervals:       intervals,
		defaultInterval: cfg.DefaultInterval,
	}
}

// Interval returns the configured minimum spacing for ch.
func (l *Limiter) Interval(ch crawler.Channel) time.Duration {
	if d, ok := l.intervals[ch]; ok {
		return d
	}
	return l.defaultInterval
}

// Acquire blocks until the next request on ch may be issued. It only fails
// when ctx is done.
func (l *Limiter) Acquire(ctx context.Context, ch crawler.Channel) error {
	l.mu.Lock()
	limiter, exists := l.limiters[ch]
	if !exists {
		limiter = rate.NewLimiter(limitFor(l.Interval(ch)), 1)
		l.limiters[ch] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitWait(string(ch), waited)
	}
	return nil
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}
