package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/himanalot/swimmer-elo/internal/crawler"
)

func TestLimiterSpacesBackToBackCalls(t *testing.T) {
	t.Parallel()

	const (
		calls    = 5
		interval = 40 * time.Millisecond
	)
	l := New(Config{Intervals: map[crawler.Channel]time.Duration{crawler.ChannelHTTP: interval}})

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < calls; i++ {
		require.NoError(t, l.Acquire(ctx, crawler.ChannelHTTP))
	}
	require.GreaterOrEqual(t, time.Since(start), time.Duration(calls-1)*interval)
}

func TestLimiterChannelsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{Intervals: map[crawler.Channel]time.Duration{
		crawler.ChannelBrowser: time.Second,
		crawler.ChannelHTTP:    0,
	}})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, crawler.ChannelBrowser))

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Acquire(ctx, crawler.ChannelHTTP))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond, "http channel blocked by browser channel")
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Acquire(ctx, crawler.ChannelBrowser))

	cancel()
	err := l.Acquire(ctx, crawler.ChannelBrowser)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLimiterInterval(t *testing.T) {
	t.Parallel()

	l := New(Config{
		Intervals:       map[crawler.Channel]time.Duration{crawler.ChannelBrowser: 2 * time.Second},
		DefaultInterval: 100 * time.Millisecond,
	})
	require.Equal(t, 2*time.Second, l.Interval(crawler.ChannelBrowser))
	require.Equal(t, 100*time.Millisecond, l.Interval(crawler.ChannelHTTP))
}
