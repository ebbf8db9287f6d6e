// Package enrich backfills profile images and social links into roster files
// written before media was collected.
package enrich

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/himanalot/swimmer-elo/internal/crawler"
)

// Roster is the subset of the roster book enrichment needs.
type Roster interface {
	Teams() ([]string, error)
	Rows(team string) ([]crawler.ParsedEntity, error)
	Rewrite(team string, rows []crawler.ParsedEntity) error
}

// MediaParser extracts media links from a swimmer page.
type MediaParser interface {
	Media(body []byte) (crawler.Media, error)
}

// Config controls an enrichment pass.
type Config struct {
	SwimmerURLTemplate string
	Workers            int
}

// Result counts what a pass did.
type Result struct {
	Teams    int
	Checked  int
	Updated  int
	Failures int
}

// Enricher fills in missing media for roster rows.
type Enricher struct {
	cfg     Config
	roster  Roster
	fetcher crawler.Fetcher
	parser  MediaParser
	logger  *zap.Logger
}

// New validates cfg and returns an Enricher.
func New(cfg Config, roster Roster, fetcher crawler.Fetcher, parser MediaParser, logger *zap.Logger) (*Enricher, error) {
	if cfg.SwimmerURLTemplate == "" {
		cfg.SwimmerURLTemplate = crawler.DefaultSwimmerURLTemplate
	}
	if cfg.Workers <= 0 {
		cfg.Workers = crawler.DefaultFetchWorkers
	}
	if roster == nil || fetcher == nil || parser == nil {
		return nil, fmt.Errorf("enrich: roster, fetcher and parser are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{cfg: cfg, roster: roster, fetcher: fetcher, parser: parser, logger: logger}, nil
}

// Run enriches the listed teams, or every team with a roster file when none
// are given.
func (e *Enricher) Run(ctx context.Context, teams ...string) (Result, error) {
	if len(teams) == 0 {
		var err error
		if teams, err = e.roster.Teams(); err != nil {
			return Result{}, err
		}
	}
	var res Result
	for _, team := range teams {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r, err := e.team(ctx, team)
		res.Teams++
		res.Checked += r.Checked
		res.Updated += r.Updated
		res.Failures += r.Failures
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *Enricher) team(ctx context.Context, team string) (Result, error) {
	logger := e.logger.With(zap.String("team_id", team))
	rows, err := e.roster.Rows(team)
	if err != nil {
		return Result{}, fmt.Errorf("read roster %s: %w", team, err)
	}
	var (
		mu       sync.Mutex
		updated  int
		failures atomic.Int64
		checked  int
		g        errgroup.Group
	)
	g.SetLimit(e.cfg.Workers)
	for i := range rows {
		if rows[i].ProfileImage != "" || ctx.Err() != nil {
			continue
		}
		checked++
		g.Go(func() error {
			res := e.fetcher.Fetch(ctx, fmt.Sprintf(e.cfg.SwimmerURLTemplate, rows[i].ID), crawler.ChannelHTTP)
			if res.Outcome != crawler.OutcomeSuccess {
				failures.Add(1)
				logger.Warn("swimmer media fetch failed", zap.String("swimmer_id", rows[i].ID), zap.Error(crawler.AsFetchError(res)))
				return nil
			}
			m, err := e.parser.Media(res.Body)
			if err != nil {
				failures.Add(1)
				logger.Warn("swimmer media unparseable", zap.String("swimmer_id", rows[i].ID), zap.Error(err))
				return nil
			}
			if m == (crawler.Media{}) {
				return nil
			}
			mu.Lock()
			rows[i].Media = merge(rows[i].Media, m)
			updated++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	res := Result{Checked: checked, Updated: updated, Failures: int(failures.Load())}
	if updated == 0 {
		return res, ctx.Err()
	}
	if err := e.roster.Rewrite(team, rows); err != nil {
		return res, fmt.Errorf("rewrite roster %s: %w", team, err)
	}
	logger.Info("roster enriched", zap.Int("checked", checked), zap.Int("updated", updated))
	return res, ctx.Err()
}

// merge fills empty fields of have from found.
func merge(have, found crawler.Media) crawler.Media {
	if have.ProfileImage == "" {
		have.ProfileImage = found.ProfileImage
	}
	if have.Twitter == "" {
		have.Twitter = found.Twitter
	}
	if have.Instagram == "" {
		have.Instagram = found.Instagram
	}
	return have
}
