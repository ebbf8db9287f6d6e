// Package sink composes the places a recorded swimmer is written to.
package sink

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/himanalot/swimmer-elo/internal/crawler"
)

// Fanout writes to a primary sink and then to best-effort secondaries.
// Only the primary decides whether a record succeeded, and only the primary
// is consulted for completion and reset.
type Fanout struct {
	primary     crawler.Sink
	secondaries []crawler.Sink
	logger      *zap.Logger
}

// NewFanout returns a sink that forwards to primary and secondaries.
func NewFanout(logger *zap.Logger, primary crawler.Sink, secondaries ...crawler.Sink) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{primary: primary, secondaries: secondaries, logger: logger}
}

// Record writes entities to the primary, then to each secondary. Secondary
// failures are logged and do not fail the record.
func (f *Fanout) Record(ctx context.Context, parent string, entities []crawler.ParsedEntity) error {
	if err := f.primary.Record(ctx, parent, entities); err != nil {
		return err
	}
	for _, s := range f.secondaries {
		if err := s.Record(ctx, parent, entities); err != nil {
			f.logger.Warn("secondary sink failed",
				zap.String("team_id", parent),
				zap.String("sink", fmt.Sprintf("%T", s)),
				zap.Int("entities", len(entities)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Recorded reports the primary's recorded IDs when it tracks them.
func (f *Fanout) Recorded(ctx context.Context, parent string) (map[string]struct{}, error) {
	if src, ok := f.primary.(crawler.CompletionSource); ok {
		return src.Recorded(ctx, parent)
	}
	return map[string]struct{}{}, nil
}

// ResetParent resets the primary's per-team artifact when it keeps one.
func (f *Fanout) ResetParent(ctx context.Context, parent string) error {
	if r, ok := f.primary.(crawler.ParentResetter); ok {
		return r.ResetParent(ctx, parent)
	}
	return nil
}
