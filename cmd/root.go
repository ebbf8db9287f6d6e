// Package cmd defines and implements the CLI commands for the swimmer crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/himanalot/swimmer-elo/internal/app"
	"github.com/himanalot/swimmer-elo/internal/config"
	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/enrich"
	"github.com/himanalot/swimmer-elo/internal/export"
	"github.com/himanalot/swimmer-elo/internal/logging"
	"github.com/himanalot/swimmer-elo/internal/report"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// skipAppAnnotation marks commands that run without application services.
const skipAppAnnotation = "skip-app"

// App defines the application interface that commands will use.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Engine() *crawler.Engine
	Exporter(ctx context.Context) (*export.Exporter, export.Options, error)
	Enricher() (*enrich.Enricher, error)
}

// newApp is the application factory. Tests replace it to inject transports.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...app.Option) (App, error) {
	return app.New(ctx, cfg, logger, opts...)
}

type rootOptions struct {
	cfgFile    string
	noProgress bool
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:   "swimcrawl",
		Short: "Resumable crawler for SwimCloud teams, rosters and swimmers.",
		Long: `swimcrawl discovers Division I teams and their rosters, then fetches
every swimmer profile into per-team roster files. Progress is checkpointed so
an interrupted crawl resumes where it stopped.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipAppAnnotation] != "" {
				return nil
			}
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{
				Level:       cfg.Logging.Level,
				Development: cfg.Logging.Development,
				File:        cfg.Logging.File,
				MaxSizeMB:   cfg.Logging.MaxSizeMB,
				MaxBackups:  cfg.Logging.MaxBackups,
				MaxAgeDays:  cfg.Logging.MaxAgeDays,
			})
			if err != nil {
				return err
			}
			var appOpts []app.Option
			if !opts.noProgress {
				appOpts = append(appOpts, app.WithObserver(report.NewProgress(cmd.ErrOrStderr())))
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger, appOpts...)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml); SWIMMER_* env vars override it")
	cmd.PersistentFlags().BoolVar(&opts.noProgress, "no-progress", false, "disable per-team progress bars")

	cmd.AddCommand(
		newCrawlCmd(),
		newDiscoverCmd(),
		newFetchCmd(),
		newRedoCmd(),
		newStatusCmd(),
		newConvertCmd(),
		newEnrichCmd(),
		newServeCmd(),
		newCleanupCmd(),
		newMenuCmd(),
	)
	return cmd
}

// Execute runs the CLI until it finishes or receives SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// withApp resolves the App for run and closes it afterwards, whether or not
// run fails.
func withApp(run func(cmd *cobra.Command, args []string, appInstance App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer appInstance.Close()
		return run(cmd, args, appInstance)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
