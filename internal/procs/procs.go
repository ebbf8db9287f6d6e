// Package procs finds and terminates browser processes left behind by an
// interrupted headless crawl.
package procs

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// DefaultPatterns matches Chrome and chromedriver process names.
var DefaultPatterns = []string{"chrome", "chromium", "chromedriver"}

// Process is the subset of a gopsutil process the reaper needs.
type Process interface {
	NameWithContext(ctx context.Context) (string, error)
	KillWithContext(ctx context.Context) error
}

// Lister enumerates running processes.
type Lister func(ctx context.Context) ([]Process, error)

// Result counts what a sweep did.
type Result struct {
	Matched int
	Killed  int
	Failed  int
}

// Reaper kills processes whose name contains one of its patterns.
type Reaper struct {
	list     Lister
	patterns []string
	self     int32
	logger   *zap.Logger
}

// New returns a Reaper over the host's process table. Empty patterns fall
// back to DefaultPatterns.
func New(logger *zap.Logger, patterns ...string) *Reaper {
	return NewWithLister(systemProcesses, logger, patterns...)
}

// NewWithLister returns a Reaper over list.
func NewWithLister(list Lister, logger *zap.Logger, patterns ...string) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return &Reaper{list: list, patterns: lowered, self: int32(os.Getpid()), logger: logger}
}

// Sweep kills every matching process. Processes that vanish or refuse the
// signal are counted as failures and do not stop the sweep.
func (r *Reaper) Sweep(ctx context.Context) (Result, error) {
	procs, err := r.list(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list processes: %w", err)
	}
	var res Result
	for _, p := range procs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if pp, ok := p.(*process.Process); ok && pp.Pid == r.self {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || !r.matches(name) {
			continue
		}
		res.Matched++
		if err := p.KillWithContext(ctx); err != nil {
			res.Failed++
			r.logger.Debug("process kill failed", zap.String("name", name), zap.Error(err))
			continue
		}
		res.Killed++
	}
	r.logger.Info("browser processes cleaned up",
		zap.Int("matched", res.Matched),
		zap.Int("killed", res.Killed),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (r *Reaper) matches(name string) bool {
	name = strings.ToLower(name)
	for _, p := range r.patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

func systemProcesses(ctx context.Context) ([]Process, error) {
	all, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Process, len(all))
	for i, p := range all {
		out[i] = p
	}
	return out, nil
}
