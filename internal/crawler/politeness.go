package crawler

import (
	"context"
	"time"
)

// PauseController abstracts how the crawler waits during backoff and cooldown.
type PauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

// TimerPauseController sleeps on a timer, returning early when ctx is done.
type TimerPauseController struct{}

// Pause blocks for delay or until ctx is canceled.
func (TimerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
