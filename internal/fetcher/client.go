package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/metrics"
)

// Limiter gates requests per channel.
type Limiter interface {
	Acquire(ctx context.Context, ch crawler.Channel) error
}

// ChallengeDetector recognizes bot-check pages served with HTTP 200.
type ChallengeDetector interface {
	IsChallenge(body []byte) bool
}

// Config controls status handling.
type Config struct {
	// RetryPolicy governs HTTP 429 handling. Nil means five retries three
	// seconds apart.
	RetryPolicy RetryPolicy
	// Detector, when set, turns challenge pages into Blocked results.
	Detector ChallengeDetector
}

// Client implements crawler.Fetcher over one Transport per channel.
type Client struct {
	transports map[crawler.Channel]Transport
	limiter    Limiter
	retry      RetryPolicy
	detector   ChallengeDetector
	pauser     crawler.PauseController
	logger     *zap.Logger
}

// New builds a Client.
func New(cfg Config, limiter Limiter, transports map[crawler.Channel]Transport, logger *zap.Logger) (*Client, error) {
	if limiter == nil {
		return nil, fmt.Errorf("fetcher: limiter is required")
	}
	if len(transports) == 0 {
		return nil, fmt.Errorf("fetcher: at least one transport is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := cfg.RetryPolicy
	if retry == nil {
		retry = FixedRetryPolicy{MaxRetries: 5, Delay: 3 * time.Second}
	}
	routes := make(map[crawler.Channel]Transport, len(transports))
	for ch, t := range transports {
		routes[ch] = t
	}
	return &Client{
		transports: routes,
		limiter:    limiter,
		retry:      retry,
		detector:   cfg.Detector,
		pauser:     crawler.TimerPauseController{},
		logger:     logger,
	}, nil
}

// Fetch retrieves url on ch. 200 is Success unless the detector flags a
// challenge page, 403 is Blocked, 429 is retried per the retry policy and
// then surfaces as RateLimited, and everything else,
// network faults included, is Failed.
func (c *Client) Fetch(ctx context.Context, url string, ch crawler.Channel) crawler.FetchResult {
	res := crawler.FetchResult{URL: url, Channel: ch}
	transport, ok := c.transports[ch]
	if !ok {
		res.Outcome = crawler.OutcomeFailed
		res.Err = fmt.Errorf("no transport for channel %q", ch)
		return c.finish(res)
	}

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		if err := c.limiter.Acquire(ctx, ch); err != nil {
			res.Outcome = crawler.OutcomeFailed
			res.Err = err
			return c.finish(res)
		}
		resp, err := transport.Fetch(ctx, url)
		if err != nil {
			res.Outcome = crawler.OutcomeFailed
			res.Err = err
			return c.finish(res)
		}
		res.StatusCode = resp.StatusCode

		switch resp.StatusCode {
		case http.StatusOK:
			if c.detector != nil && c.detector.IsChallenge(resp.Body) {
				res.Outcome = crawler.OutcomeBlocked
				res.Err = fmt.Errorf("challenge page served with status 200")
				return c.finish(res)
			}
			res.Outcome = crawler.OutcomeSuccess
			res.Body = resp.Body
			return c.finish(res)
		case http.StatusForbidden:
			res.Outcome = crawler.OutcomeBlocked
			return c.finish(res)
		case http.StatusTooManyRequests:
			if !c.retry.ShouldRetry(attempt) {
				res.Outcome = crawler.OutcomeRateLimited
				return c.finish(res)
			}
			delay := c.retry.Backoff(attempt)
			c.logger.Debug("rate limited; backing off",
				zap.String("url", url),
				zap.String("channel", string(ch)),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			c.pauser.Pause(ctx, delay)
			if err := ctx.Err(); err != nil {
				res.Outcome = crawler.OutcomeFailed
				res.Err = err
				return c.finish(res)
			}
		default:
			res.Outcome = crawler.OutcomeFailed
			res.Err = fmt.Errorf("unexpected status %d", resp.StatusCode)
			return c.finish(res)
		}
	}
}

func (c *Client) finish(res crawler.FetchResult) crawler.FetchResult {
	metrics.ObserveFetch(string(res.Channel), string(res.Outcome), len(res.Body))
	if res.Outcome != crawler.OutcomeSuccess {
		c.logger.Debug("fetch did not succeed",
			zap.String("url", res.URL),
			zap.String("outcome", string(res.Outcome)),
			zap.Int("status", res.StatusCode),
			zap.Int("attempts", res.Attempts),
			zap.Error(res.Err),
		)
	}
	return res
}
