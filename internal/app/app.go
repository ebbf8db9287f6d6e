// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/himanalot/swimmer-elo/internal/checkpoint"
	"github.com/himanalot/swimmer-elo/internal/config"
	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/enrich"
	"github.com/himanalot/swimmer-elo/internal/export"
	"github.com/himanalot/swimmer-elo/internal/fetcher"
	collyfetcher "github.com/himanalot/swimmer-elo/internal/fetcher/colly"
	"github.com/himanalot/swimmer-elo/internal/fetcher/detector"
	"github.com/himanalot/swimmer-elo/internal/fetcher/headless"
	"github.com/himanalot/swimmer-elo/internal/parser/swimcloud"
	"github.com/himanalot/swimmer-elo/internal/policy/ratelimit"
	"github.com/himanalot/swimmer-elo/internal/ratings"
	"github.com/himanalot/swimmer-elo/internal/roster"
	"github.com/himanalot/swimmer-elo/internal/sink"
	"github.com/himanalot/swimmer-elo/internal/storage"
	"github.com/himanalot/swimmer-elo/internal/storage/gcs"
	"github.com/himanalot/swimmer-elo/internal/storage/local"
)

// App holds the shared, long-lived services for one CLI invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store    crawler.CheckpointStore
	book     *roster.Book
	parser   *swimcloud.Parser
	fetcher  *fetcher.Client
	engine   *crawler.Engine
	upserter ratings.Upserter

	closers []func() error
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	observer   crawler.Observer
	transports map[crawler.Channel]fetcher.Transport
}

// WithObserver reports engine progress to o.
func WithObserver(o crawler.Observer) Option {
	return func(opts *options) { opts.observer = o }
}

// WithTransports replaces the network transports, e.g. with test doubles.
func WithTransports(t map[crawler.Channel]fetcher.Transport) Option {
	return func(opts *options) { opts.transports = t }
}

// New wires every service described by cfg. It fails fast on any
// misconfiguration and releases whatever it already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger, parser: swimcloud.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.store, err = a.openCheckpoint(ctx); err != nil {
		return nil, err
	}
	if a.book, err = roster.Open(cfg.Roster.Dir, logger.Named("roster")); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.book.Close)

	transports := o.transports
	if transports == nil {
		transports = a.openTransports()
	}
	limiter := ratelimit.New(ratelimit.Config{
		Intervals: map[crawler.Channel]time.Duration{
			crawler.ChannelBrowser: cfg.RateLimit.Browser,
			crawler.ChannelHTTP:    cfg.RateLimit.HTTP,
		},
		DefaultInterval: cfg.RateLimit.HTTP,
	})
	a.fetcher, err = fetcher.New(fetcher.Config{
		RetryPolicy: retryPolicy(cfg.Fetch),
		Detector:    detector.NewHeuristic(0),
	}, limiter, transports, logger.Named("fetch"))
	if err != nil {
		return nil, err
	}

	if a.upserter, err = a.openUpserter(ctx); err != nil {
		return nil, err
	}
	recordSink, err := a.openSink(ctx)
	if err != nil {
		return nil, err
	}

	a.engine, err = crawler.NewEngine(cfg.Engine(), crawler.Deps{
		Fetcher:  a.fetcher,
		Parser:   a.parser,
		Store:    a.store,
		Sink:     recordSink,
		Observer: o.observer,
		Logger:   logger.Named("crawler"),
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("application services initialized",
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
		zap.String("ratings_backend", cfg.Ratings.Backend),
		zap.Bool("browser", cfg.Fetch.Browser),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
	)
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Engine returns the crawl engine.
func (a *App) Engine() *crawler.Engine { return a.engine }

// Roster returns the roster book.
func (a *App) Roster() *roster.Book { return a.book }

// Exporter builds a swimmers.json exporter for cfg.Export.Output and returns
// the object name to write.
func (a *App) Exporter(ctx context.Context) (*export.Exporter, export.Options, error) {
	out := a.cfg.Export.Output
	opts := export.Options{Rating: a.cfg.Export.DefaultRating}
	if a.cfg.Export.Upsert {
		opts.Upserter = a.upserter
	}
	var blobs storage.BlobStore
	if storage.IsGCS(out) {
		bucket, object, err := storage.SplitGCS(out)
		if err != nil {
			return nil, opts, err
		}
		store, err := gcs.Open(ctx, gcs.Config{Bucket: bucket})
		if err != nil {
			return nil, opts, err
		}
		a.closers = append(a.closers, store.Close)
		blobs, opts.Object = store, object
	} else {
		store, err := local.New(local.Config{BaseDir: filepath.Dir(out)})
		if err != nil {
			return nil, opts, err
		}
		blobs, opts.Object = store, filepath.Base(out)
	}
	return export.New(a.book, blobs, a.logger.Named("export")), opts, nil
}

// Enricher returns a roster media backfiller using the shared fetcher.
func (a *App) Enricher() (*enrich.Enricher, error) {
	return enrich.New(enrich.Config{
		SwimmerURLTemplate: a.cfg.Crawler.SwimmerURLTemplate,
		Workers:            a.cfg.Crawler.FetchWorkers,
	}, a.book, a.fetcher, a.parser, a.logger.Named("enrich"))
}

// Close shuts down services in reverse order of creation.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *App) openCheckpoint(ctx context.Context) (crawler.CheckpointStore, error) {
	switch a.cfg.Checkpoint.Backend {
	case config.BackendSQLite:
		path := a.cfg.Checkpoint.SQLitePath
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create checkpoint directory: %w", err)
			}
		}
		store, err := checkpoint.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		store, err := checkpoint.NewFileStore(checkpoint.FileConfig{Dir: a.cfg.Checkpoint.Dir})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
}

func retryPolicy(f config.FetchConfig) fetcher.RetryPolicy {
	if f.RateLimitPolicy == config.RetryExponential {
		return fetcher.NewExponentialRetryPolicy(f.MaxRateLimitRetries, f.RateLimitBackoff, f.RateLimitMaxBackoff)
	}
	return fetcher.FixedRetryPolicy{
		MaxRetries: f.MaxRateLimitRetries,
		Delay:      f.RateLimitBackoff,
	}
}

func (a *App) openTransports() map[crawler.Channel]fetcher.Transport {
	f := a.cfg.Fetch
	httpTransport := collyfetcher.New(collyfetcher.Config{
		UserAgent:        f.UserAgent,
		Timeout:          f.Timeout,
		CloudflareBypass: f.CloudflareBypass,
	})
	transports := map[crawler.Channel]fetcher.Transport{
		crawler.ChannelHTTP:    httpTransport,
		crawler.ChannelBrowser: httpTransport,
	}
	if !f.Browser {
		return transports
	}
	browser, err := headless.NewChromedp(headless.Config{
		MaxParallel:       f.Headless.MaxParallel,
		UserAgent:         f.UserAgent,
		NavigationTimeout: 3 * f.Timeout,
		WaitSelector:      f.Headless.WaitSelector,
		ExecPath:          f.Headless.ExecPath,
	})
	if err != nil {
		a.logger.Warn("headless browser unavailable; using http for listing pages", zap.Error(err))
		return transports
	}
	a.closers = append(a.closers, func() error {
		browser.Close()
		return nil
	})
	transports[crawler.ChannelBrowser] = browser
	return transports
}

func (a *App) openUpserter(ctx context.Context) (ratings.Upserter, error) {
	r := a.cfg.Ratings
	var (
		u   ratings.Upserter
		err error
	)
	switch r.Backend {
	case config.RatingsPostgres:
		u, err = ratings.NewPostgres(ctx, ratings.PostgresConfig{
			DSN:       r.PostgresDSN,
			Table:     r.Table,
			BatchSize: r.BatchSize,
		})
	case config.RatingsSupabase:
		u, err = ratings.NewSupabase(ratings.SupabaseConfig{
			URL:       r.SupabaseURL,
			Key:       r.SupabaseKey,
			Table:     r.Table,
			BatchSize: r.BatchSize,
		}, a.logger.Named("ratings"))
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		u.Close()
		return nil
	})
	return u, nil
}

// openSink builds the record sink: the roster book first, then the optional
// rating and Pub/Sub secondaries.
func (a *App) openSink(ctx context.Context) (crawler.Sink, error) {
	var secondaries []crawler.Sink
	if a.cfg.Ratings.OnRecord && a.upserter != nil {
		secondaries = append(secondaries, sink.NewRatings(a.upserter, a.cfg.Export.DefaultRating))
	}
	if a.cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		publisher := sink.NewPublisher(client.Topic(a.cfg.PubSub.Topic))
		a.closers = append(a.closers, func() error {
			publisher.Stop()
			return nil
		})
		secondaries = append(secondaries, publisher)
	}
	return sink.NewFanout(a.logger.Named("sink"), a.book, secondaries...), nil
}
