package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/report"
)

// newCrawlCmd runs discovery followed by the fetch phase.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Discover teams and rosters, then fetch every swimmer",
		Long: `Runs discovery followed by the fetch phase. Swimmers already recorded
are skipped, so rerunning crawl after an interruption resumes the work.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			summary, err := appInstance.Engine().Run(cmd.Context())
			return finishFetch(cmd, appInstance.Logger(), summary, err)
		}),
	}
}

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Discover teams and rosters and save the crawl index",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			return runDiscover(cmd.Context(), cmd, appInstance)
		}),
	}
}

func runDiscover(ctx context.Context, cmd *cobra.Command, appInstance App) error {
	index, err := appInstance.Engine().Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	swimmers := 0
	for _, children := range index {
		swimmers += len(children)
	}
	report.KeyValues(cmd.OutOrStdout(), "Discovery", [][2]any{
		{"teams", len(index)},
		{"swimmers", swimmers},
	})
	return nil
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch every swimmer not yet recorded",
		Long: `Loads the crawl index written by discover and fetches every swimmer
that is not yet checkpointed. Fails without network activity when no index
exists.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			summary, err := appInstance.Engine().FetchAll(cmd.Context())
			return finishFetch(cmd, appInstance.Logger(), summary, err)
		}),
	}
}

func newRedoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redo <teamID>",
		Short: "Clear one team's progress and fetch it again",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, appInstance App) error {
			return runRedo(cmd.Context(), cmd, appInstance, args[0])
		}),
	}
}

func runRedo(ctx context.Context, cmd *cobra.Command, appInstance App, team string) error {
	rep, err := appInstance.Engine().Redo(ctx, team)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("redo team %s: %w", team, err)
	}
	report.Summary(cmd.OutOrStdout(), crawler.Summary{Parents: []crawler.ParentReport{rep}, Interrupted: err != nil})
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show checkpointed progress per team",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			return runStatus(cmd.Context(), cmd, appInstance)
		}),
	}
}

func runStatus(ctx context.Context, cmd *cobra.Command, appInstance App) error {
	statuses, err := appInstance.Engine().Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	report.Status(cmd.OutOrStdout(), statuses)
	return nil
}

// finishFetch renders the summary. An interrupted run is not an error: the
// completed work is durable and the next run resumes it.
func finishFetch(cmd *cobra.Command, logger *zap.Logger, summary crawler.Summary, err error) error {
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	report.Summary(cmd.OutOrStdout(), summary)
	totals := summary.Totals()
	logger.Info("crawl command finished",
		zap.String("run_id", summary.RunID),
		zap.Int("recorded", totals.Succeeded),
		zap.Int("skipped", totals.Skipped()),
		zap.Int("remaining", totals.Remaining),
		zap.Bool("interrupted", summary.Interrupted),
	)
	return nil
}
